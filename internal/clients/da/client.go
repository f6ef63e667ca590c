// Package da provides a client for the data-availability gateway.
package da

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

// Client is a DA gateway client.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	logger          arbor.ILogger
	maxBlobPerTxn   int
	maxBytesPerBlob int
}

// NewClient creates a DA gateway client from configuration
func NewClient(config *common.DAConfig, logger arbor.ILogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(config.GatewayURL, "/"),
		httpClient: &http.Client{
			Timeout: common.ParseDuration(config.RequestTimeout, DefaultTimeout),
		},
		logger:          logger,
		maxBlobPerTxn:   config.MaxBlobPerTxn,
		maxBytesPerBlob: config.MaxBytesPerBlob,
	}
}

type publishRequest struct {
	Blobs []string `json:"blobs"` // base64, one entry per blob
}

type publishResponse struct {
	SubmissionID string `json:"submission_id"`
}

type inclusionResponse struct {
	Status string `json:"status"`
}

// PublishStateDiff submits the blobs of one block's state diff and returns
// the submission handle used for inclusion polling.
func (c *Client) PublishStateDiff(ctx context.Context, blobs [][]byte) (string, error) {
	if len(blobs) == 0 {
		return "", fmt.Errorf("no blobs to publish")
	}
	if len(blobs) > c.maxBlobPerTxn {
		return "", fmt.Errorf("%d blobs exceed the per-transaction limit of %d", len(blobs), c.maxBlobPerTxn)
	}

	encoded := make([]string, len(blobs))
	for i, blob := range blobs {
		if len(blob) > c.maxBytesPerBlob {
			return "", fmt.Errorf("blob %d is %d bytes, limit is %d", i, len(blob), c.maxBytesPerBlob)
		}
		encoded[i] = base64.StdEncoding.EncodeToString(blob)
	}

	var resp publishResponse
	if err := c.do(ctx, http.MethodPost, "/v1/blobs", publishRequest{Blobs: encoded}, &resp); err != nil {
		return "", err
	}
	if resp.SubmissionID == "" {
		return "", fmt.Errorf("da gateway returned an empty submission id")
	}

	c.logger.Debug().Str("submission_id", resp.SubmissionID).Int("blobs", len(blobs)).Msg("State diff published")
	return resp.SubmissionID, nil
}

// VerifyInclusion polls the DA layer for a previous submission
func (c *Client) VerifyInclusion(ctx context.Context, externalID string) (interfaces.DAVerificationStatus, error) {
	var resp inclusionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/blobs/"+externalID+"/status", nil, &resp); err != nil {
		return "", err
	}

	switch strings.ToUpper(resp.Status) {
	case "INCLUDED", "VERIFIED", "FINALIZED":
		return interfaces.DAVerificationVerified, nil
	case "REJECTED", "FAILED":
		return interfaces.DAVerificationRejected, nil
	case "PENDING", "SUBMITTED", "IN_PROGRESS":
		return interfaces.DAVerificationPending, nil
	default:
		return "", fmt.Errorf("da gateway returned unknown inclusion status %q for %s", resp.Status, externalID)
	}
}

// MaxBlobPerTxn is the DA layer's blob count limit per submission
func (c *Client) MaxBlobPerTxn() int {
	return c.maxBlobPerTxn
}

// MaxBytesPerBlob is the DA layer's size limit per blob
func (c *Client) MaxBytesPerBlob() int {
	return c.maxBytesPerBlob
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
		return fmt.Errorf("da gateway error: %s (status %d, endpoint: %s)",
			strings.TrimSpace(string(data)), resp.StatusCode, path)
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}
