// Package chain provides a JSON-RPC 2.0 client for the upstream rollup node.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10
)

// Client is a JSON-RPC reader for the rollup chain.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
	nextID     atomic.Int64
}

// NewClient creates a chain RPC client from configuration
func NewClient(config *common.ChainConfig, logger arbor.ILogger) *Client {
	limit := rate.Limit(config.RateLimit)
	if config.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := config.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		rpcURL: config.RPCURL,
		httpClient: &http.Client{
			Timeout: common.ParseDuration(config.RequestTimeout, DefaultTimeout),
		},
		logger:  logger,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// RPCError represents an error object in a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("chain rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      int64           `json:"id"`
}

// call performs one JSON-RPC request and decodes the result
func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc call %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read rpc response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc call %s returned status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode rpc response for %s: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("failed to decode rpc result for %s: %w", method, err)
		}
	}
	return nil
}

// BlockNumber returns the latest block number at the tip
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var blockNumber uint64
	if err := c.call(ctx, "starknet_blockNumber", []interface{}{}, &blockNumber); err != nil {
		return 0, err
	}
	return blockNumber, nil
}

// wire shapes of starknet_getStateUpdate

type wireStorageEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type wireStorageDiff struct {
	Address        string             `json:"address"`
	StorageEntries []wireStorageEntry `json:"storage_entries"`
}

type wireNonceUpdate struct {
	ContractAddress string `json:"contract_address"`
	Nonce           string `json:"nonce"`
}

type wireDeployedContract struct {
	Address   string `json:"address"`
	ClassHash string `json:"class_hash"`
}

type wireStateUpdate struct {
	BlockHash string `json:"block_hash"`
	NewRoot   string `json:"new_root"`
	OldRoot   string `json:"old_root"`
	StateDiff struct {
		StorageDiffs      []wireStorageDiff      `json:"storage_diffs"`
		Nonces            []wireNonceUpdate      `json:"nonces"`
		DeployedContracts []wireDeployedContract `json:"deployed_contracts"`
	} `json:"state_diff"`
}

// GetStateUpdate returns the state diff for a block. A response without a
// block hash is a pending block and not eligible for submission.
func (c *Client) GetStateUpdate(ctx context.Context, blockNumber uint64) (*interfaces.StateUpdate, error) {
	params := []interface{}{
		map[string]interface{}{"block_number": blockNumber},
	}
	var wire wireStateUpdate
	if err := c.call(ctx, "starknet_getStateUpdate", params, &wire); err != nil {
		return nil, err
	}

	update := &interfaces.StateUpdate{
		BlockNumber: blockNumber,
		BlockHash:   wire.BlockHash,
		NewRoot:     wire.NewRoot,
		OldRoot:     wire.OldRoot,
		Pending:     wire.BlockHash == "",
	}

	diffs := make(map[string]*interfaces.ContractStateDiff)
	var order []string
	diffFor := func(address string) *interfaces.ContractStateDiff {
		if d, ok := diffs[address]; ok {
			return d
		}
		d := &interfaces.ContractStateDiff{Address: address}
		diffs[address] = d
		order = append(order, address)
		return d
	}

	for _, sd := range wire.StateDiff.StorageDiffs {
		d := diffFor(sd.Address)
		for _, entry := range sd.StorageEntries {
			d.StorageEntries = append(d.StorageEntries, interfaces.StorageEntry{
				Key:   entry.Key,
				Value: entry.Value,
			})
		}
	}
	for _, n := range wire.StateDiff.Nonces {
		diffFor(n.ContractAddress).Nonce = n.Nonce
	}
	for _, dc := range wire.StateDiff.DeployedContracts {
		diffFor(dc.Address).ClassHash = dc.ClassHash
	}

	update.StateDiff = make([]interfaces.ContractStateDiff, 0, len(order))
	for _, address := range order {
		update.StateDiff = append(update.StateDiff, *diffs[address])
	}

	return update, nil
}

// GetNonce returns the current nonce of a contract at the latest block
func (c *Client) GetNonce(ctx context.Context, contractAddress string) (uint64, error) {
	params := []interface{}{"latest", contractAddress}
	var hexNonce string
	if err := c.call(ctx, "starknet_getNonce", params, &hexNonce); err != nil {
		return 0, err
	}
	nonce, err := strconv.ParseUint(strings.TrimPrefix(hexNonce, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid nonce %q for contract %s: %w", hexNonce, contractAddress, err)
	}
	return nonce, nil
}
