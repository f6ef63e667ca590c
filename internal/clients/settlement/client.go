// Package settlement provides a client for the L1 settlement relay.
package settlement

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

// Client is a settlement relay client. The relay signs and broadcasts the
// core contract transactions; this client only shapes the payloads and polls
// transaction state.
type Client struct {
	baseURL         string
	contractAddress string
	httpClient      *http.Client
	logger          arbor.ILogger
}

// NewClient creates a settlement relay client from configuration
func NewClient(config *common.SettlementConfig, logger arbor.ILogger) *Client {
	return &Client{
		baseURL:         strings.TrimRight(config.RelayURL, "/"),
		contractAddress: config.CoreContractAddress,
		httpClient: &http.Client{
			Timeout: common.ParseDuration(config.RequestTimeout, DefaultTimeout),
		},
		logger: logger,
	}
}

type updateStateRequest struct {
	Contract        string   `json:"contract"`
	ProgramOutput   []string `json:"program_output"` // base64, one entry per word group
	OnchainData     string   `json:"onchain_data,omitempty"`
	OnchainDataSize uint64   `json:"onchain_data_size,omitempty"`
	KZGProof        string   `json:"kzg_proof,omitempty"`
}

type registerProofRequest struct {
	Contract string `json:"contract"`
	Proof    string `json:"proof"` // base64
}

type txResponse struct {
	TxHash string `json:"tx_hash"`
}

type txStatusResponse struct {
	Status string `json:"status"`
}

// UpdateState settles a calldata-DA state transition and returns the tx hash
func (c *Client) UpdateState(ctx context.Context, programOutput [][]byte, onchainData []byte, onchainDataSize uint64) (string, error) {
	req := updateStateRequest{
		Contract:        c.contractAddress,
		ProgramOutput:   encodeAll(programOutput),
		OnchainData:     base64.StdEncoding.EncodeToString(onchainData),
		OnchainDataSize: onchainDataSize,
	}
	return c.submitTx(ctx, "/v1/state/update", req)
}

// UpdateStateKZG settles a blob-DA state transition and returns the tx hash
func (c *Client) UpdateStateKZG(ctx context.Context, programOutput [][]byte, kzgProof []byte) (string, error) {
	req := updateStateRequest{
		Contract:      c.contractAddress,
		ProgramOutput: encodeAll(programOutput),
		KZGProof:      base64.StdEncoding.EncodeToString(kzgProof),
	}
	return c.submitTx(ctx, "/v1/state/update-kzg", req)
}

// RegisterProof registers a generated proof and returns the tx hash
func (c *Client) RegisterProof(ctx context.Context, proof []byte) (string, error) {
	req := registerProofRequest{
		Contract: c.contractAddress,
		Proof:    base64.StdEncoding.EncodeToString(proof),
	}
	return c.submitTx(ctx, "/v1/proofs", req)
}

// VerifyTxInclusion polls a previously submitted transaction
func (c *Client) VerifyTxInclusion(ctx context.Context, txHash string) (interfaces.SettlementVerificationStatus, error) {
	var resp txStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/transactions/"+txHash+"/status", nil, &resp); err != nil {
		return "", err
	}

	switch strings.ToUpper(resp.Status) {
	case "CONFIRMED", "FINALIZED", "VERIFIED":
		return interfaces.SettlementTxVerified, nil
	case "REVERTED", "REJECTED", "DROPPED":
		return interfaces.SettlementTxRejected, nil
	case "PENDING", "SUBMITTED", "IN_PROGRESS":
		return interfaces.SettlementTxPending, nil
	default:
		return "", fmt.Errorf("settlement relay returned unknown tx status %q for %s", resp.Status, txHash)
	}
}

func (c *Client) submitTx(ctx context.Context, path string, body interface{}) (string, error) {
	var resp txResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	if resp.TxHash == "" {
		return "", fmt.Errorf("settlement relay returned an empty tx hash for %s", path)
	}

	c.logger.Debug().Str("tx_hash", resp.TxHash).Str("endpoint", path).Msg("Settlement transaction submitted")
	return resp.TxHash, nil
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
		return fmt.Errorf("settlement relay error: %s (status %d, endpoint: %s)",
			strings.TrimSpace(string(data)), resp.StatusCode, path)
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

func encodeAll(chunks [][]byte) []string {
	encoded := make([]string, len(chunks))
	for i, chunk := range chunks {
		encoded[i] = base64.StdEncoding.EncodeToString(chunk)
	}
	return encoded
}
