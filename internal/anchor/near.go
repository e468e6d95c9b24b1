// Package anchor posts integrity digests of written records to a NEAR
// RPC relay. Anchoring is advisory metadata: failures are logged and
// never propagated to the write path.
package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config holds the NEAR relay settings.
type Config struct {
	Endpoint  string
	AccountID string
	Timeout   time.Duration
}

// Client anchors record digests on NEAR through a contract-call relay.
type Client struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewClient creates an anchor client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type anchorRequest struct {
	AccountID string `json:"account_id"`
	RecordID  string `json:"record_id"`
	Checksum  string `json:"checksum"`
	TxHash    string `json:"tx_hash,omitempty"`
}

// AnchorChecksum records {recordID, checksum, ledger tx hash} on NEAR.
func (c *Client) AnchorChecksum(ctx context.Context, recordID, digest, txHash string) error {
	body, err := json.Marshal(anchorRequest{
		AccountID: c.config.AccountID,
		RecordID:  recordID,
		Checksum:  digest,
		TxHash:    txHash,
	})
	if err != nil {
		return fmt.Errorf("marshal anchor request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.Endpoint+"/anchor", bytes.NewReader(body))
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
		return fmt.Errorf("relay error %d: %s", resp.StatusCode, string(respBody))
	}
	c.logger.Debug("checksum anchored",
		zap.String("record_id", recordID),
		zap.String("tx_hash", txHash))
	return nil
}
