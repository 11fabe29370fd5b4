// Package node talks to the blockchain node: chain state context for the
// transcript engine, transaction broadcast, and confirmation lookups.
package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/luxfi/multisig/pkg/engine"
	"github.com/luxfi/multisig/pkg/errs"
)

// Client is the node capability the coordinator and broadcast supervisor
// depend on.
type Client interface {
	// Context fetches the recent-headers state context.
	Context(ctx context.Context) (engine.StateContext, error)
	// Broadcast submits a signed transaction. The returned error carries the
	// node's rejection reason.
	Broadcast(ctx context.Context, raw []byte) error
	// Confirmations reports how many confirmations a transaction has; zero
	// for unknown transactions.
	Confirmations(ctx context.Context, txID string) (int, error)
}

// HTTPClient implements Client against the node's REST API.
type HTTPClient struct {
	log  slog.Logger
	base string
	http *http.Client
}

// NewHTTPClient returns a client for the node at baseURL. Every RPC is
// bounded by timeout so a hung node cannot stall the coordinator.
func NewHTTPClient(log slog.Logger, baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		log:  log,
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Context(ctx context.Context) (engine.StateContext, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/blocks/lastHeaders/10", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.NodeUnavailable, err, "fetch state context")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.E(errs.NodeUnavailable, "fetch state context: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.NodeUnavailable, err, "read state context")
	}
	return engine.StateContext(body), nil
}

func (c *HTTPClient) Broadcast(ctx context.Context, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/transactions", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.NodeUnavailable, err, "broadcast")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errs.E(errs.NodeUnavailable, "broadcast rejected: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *HTTPClient) Confirmations(ctx context.Context, txID string) (int, error) {
	url := fmt.Sprintf("%s/blockchain/transaction/byId/%s", c.base, txID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errs.Wrap(errs.NodeUnavailable, err, "confirmation lookup")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		// Not seen by the node yet.
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, errs.E(errs.NodeUnavailable, "confirmation lookup: status %d", resp.StatusCode)
	}
	var payload struct {
		NumConfirmations int `json:"numConfirmations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, errs.Wrap(errs.NodeUnavailable, err, "decode confirmation response")
	}
	return payload.NumConfirmations, nil
}

var _ Client = (*HTTPClient)(nil)
