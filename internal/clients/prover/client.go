// Package prover provides a client for the proving gateway.
package prover

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
)

// DefaultTimeout is the default HTTP timeout.
const DefaultTimeout = 30 * time.Second

// Client is a prover gateway client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewClient creates a prover gateway client from configuration
func NewClient(config *common.ProverConfig, logger arbor.ILogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(config.GatewayURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: common.ParseDuration(config.RequestTimeout, DefaultTimeout),
		},
		logger: logger,
	}
}

// APIError represents an error from the prover gateway.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("prover gateway error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

type submitTaskRequest struct {
	ProgramOutput string `json:"program_output"` // base64
}

type submitTaskResponse struct {
	TaskID string `json:"task_id"`
}

type taskStatusResponse struct {
	Status string `json:"status"`
}

// SubmitTask submits a proving task and returns the gateway-assigned task id
func (c *Client) SubmitTask(ctx context.Context, programOutput []byte) (string, error) {
	var resp submitTaskResponse
	err := c.do(ctx, http.MethodPost, "/v1/tasks", submitTaskRequest{
		ProgramOutput: base64.StdEncoding.EncodeToString(programOutput),
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("prover gateway returned an empty task id")
	}

	c.logger.Debug().Str("task_id", resp.TaskID).Int("bytes", len(programOutput)).Msg("Proving task submitted")
	return resp.TaskID, nil
}

// GetTaskStatus polls the gateway for the state of a proving task
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (interfaces.ProverTaskStatus, error) {
	var resp taskStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+taskID+"/status", nil, &resp); err != nil {
		return "", err
	}

	switch strings.ToUpper(resp.Status) {
	case "SUCCEEDED", "DONE", "COMPLETED":
		return interfaces.ProverTaskSucceeded, nil
	case "FAILED", "REJECTED":
		return interfaces.ProverTaskFailed, nil
	case "PROCESSING", "PENDING", "QUEUED", "IN_PROGRESS":
		return interfaces.ProverTaskProcessing, nil
	default:
		return "", fmt.Errorf("prover gateway returned unknown task status %q for task %s", resp.Status, taskID)
	}
}

type fetchProofResponse struct {
	Proof string `json:"proof"` // base64
}

// FetchProof downloads the proof artifact of a succeeded task
func (c *Client) FetchProof(ctx context.Context, taskID string) ([]byte, error) {
	var resp fetchProofResponse
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+taskID+"/proof", nil, &resp); err != nil {
		return nil, err
	}
	proof, err := base64.StdEncoding.DecodeString(resp.Proof)
	if err != nil {
		return nil, fmt.Errorf("prover gateway returned malformed proof for task %s: %w", taskID, err)
	}
	if len(proof) == 0 {
		return nil, fmt.Errorf("prover gateway returned an empty proof for task %s", taskID)
	}
	return proof, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Endpoint:   path,
		}
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}
