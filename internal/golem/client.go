// Package golem is a thin JSON-RPC client for a Golem Base node. The
// ledger is treated as an opaque remote key-value store; this client
// only shapes requests and responses, all write sequencing lives in the
// storage adapter.
package golem

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config holds connection settings for a Golem Base node.
type Config struct {
	Endpoint string
	Owner    string // hex account address owning all written entities
	Timeout  time.Duration
}

// Annotation is a string key/value pair attached to a stored entity,
// queryable through owner-indexed listings.
type Annotation struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Client talks JSON-RPC 2.0 to a single node.
type Client struct {
	config Config
	client *http.Client
	logger *zap.Logger
	nextID atomic.Int64
}

// NewClient creates a Golem Base client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Owner returns the configured owner address.
func (c *Client) Owner() string { return c.config.Owner }

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("node error %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode result for %s: %w", method, err)
		}
	}
	return nil
}

type createEntityResult struct {
	EntityKey string `json:"entityKey"`
	TxHash    string `json:"txHash"`
}

// CreateEntity writes a new entity and returns its key. The onTxHash
// callback fires as soon as the node acknowledges submission with a
// transaction hash; an empty hash means the node did not report one,
// which is a partial success, not a failure.
func (c *Client) CreateEntity(ctx context.Context, data []byte, ttl uint64, annotations []Annotation, onTxHash func(string)) (string, error) {
	var res createEntityResult
	params := []interface{}{map[string]interface{}{
		"data":              base64.StdEncoding.EncodeToString(data),
		"btl":               ttl,
		"stringAnnotations": annotations,
	}}
	if err := c.call(ctx, "golembase_createEntity", params, &res); err != nil {
		return "", fmt.Errorf("create entity: %w", err)
	}
	if onTxHash != nil && res.TxHash != "" {
		onTxHash(res.TxHash)
	}
	return res.EntityKey, nil
}

// UpdateEntity writes updated data under a new entity generation and
// returns the resulting key, which may differ from the old one.
func (c *Client) UpdateEntity(ctx context.Context, entityKey string, data []byte, ttl uint64, annotations []Annotation, onTxHash func(string)) (string, error) {
	var res createEntityResult
	params := []interface{}{map[string]interface{}{
		"entityKey":         entityKey,
		"data":              base64.StdEncoding.EncodeToString(data),
		"btl":               ttl,
		"stringAnnotations": annotations,
	}}
	if err := c.call(ctx, "golembase_updateEntity", params, &res); err != nil {
		return "", fmt.Errorf("update entity %s: %w", entityKey, err)
	}
	if onTxHash != nil && res.TxHash != "" {
		onTxHash(res.TxHash)
	}
	if res.EntityKey == "" {
		return entityKey, nil
	}
	return res.EntityKey, nil
}

// DeleteEntity removes an entity.
func (c *Client) DeleteEntity(ctx context.Context, entityKey string) error {
	if err := c.call(ctx, "golembase_deleteEntity", []interface{}{entityKey}, nil); err != nil {
		return fmt.Errorf("delete entity %s: %w", entityKey, err)
	}
	return nil
}

// GetStorageValue fetches the raw bytes of an entity. A missing or
// empty entity returns nil bytes and no error.
func (c *Client) GetStorageValue(ctx context.Context, entityKey string) ([]byte, error) {
	var encoded string
	if err := c.call(ctx, "golembase_getStorageValue", []interface{}{entityKey}, &encoded); err != nil {
		return nil, fmt.Errorf("get storage value %s: %w", entityKey, err)
	}
	if encoded == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode storage value %s: %w", entityKey, err)
	}
	return data, nil
}

// GetEntitiesOfOwner lists the entity keys owned by an address.
func (c *Client) GetEntitiesOfOwner(ctx context.Context, owner string) ([]string, error) {
	var keys []string
	if err := c.call(ctx, "golembase_getEntitiesOfOwner", []interface{}{owner}, &keys); err != nil {
		return nil, fmt.Errorf("get entities of owner: %w", err)
	}
	return keys, nil
}

// PendingNonce returns the next transaction nonce for the owner
// account, including pending transactions.
func (c *Client) PendingNonce(ctx context.Context) (uint64, error) {
	var hexNonce string
	if err := c.call(ctx, "eth_getTransactionCount", []interface{}{c.config.Owner, "pending"}, &hexNonce); err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	nonce, err := strconv.ParseUint(strings.TrimPrefix(hexNonce, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse nonce %q: %w", hexNonce, err)
	}
	return nonce, nil
}

// ChainID queries the node's chain ID. Used as the connectivity probe
// before submitting a write.
func (c *Client) ChainID(ctx context.Context) (string, error) {
	var id string
	if err := c.call(ctx, "eth_chainId", nil, &id); err != nil {
		return "", fmt.Errorf("get chain id: %w", err)
	}
	return id, nil
}
