// Package indexer queries the launchpad subgraph for token creation events.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNoCreationTx is returned when the subgraph has no event for the token.
var ErrNoCreationTx = errors.New("indexer: no creation transaction")

const creationQuery = `query CreationTx($token: String!) {
  newTokenEvents(where: { token: $token }, first: 1) {
    transactionHash
  }
}`

const maxResponseBytes = 1 << 20

// Config configures the subgraph client.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	// Transport overrides http.DefaultTransport beneath the otel wrapper.
	Transport http.RoundTripper
}

// Client looks up creation transaction hashes by token address.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// New builds a Client. The timeout bounds every request end to end.
func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("indexer: endpoint required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(cfg.APIKey),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		},
	}, nil
}

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// CreationTx returns the hash of the transaction that created token.
func (c *Client) CreationTx(ctx context.Context, token common.Address) (common.Hash, error) {
	payload, err := json.Marshal(graphRequest{
		Query:     creationQuery,
		Variables: map[string]any{"token": strings.ToLower(token.Hex())},
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("indexer: encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return common.Hash{}, fmt.Errorf("indexer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("indexer: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return common.Hash{}, fmt.Errorf("indexer: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return common.Hash{}, fmt.Errorf("indexer: unexpected status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return common.Hash{}, errors.New("indexer: invalid json response")
	}
	if errs := gjson.GetBytes(body, "errors"); errs.IsArray() && len(errs.Array()) > 0 {
		return common.Hash{}, fmt.Errorf("indexer: query error: %s", errs.Get("0.message").String())
	}
	raw := strings.TrimSpace(gjson.GetBytes(body, "data.newTokenEvents.0.transactionHash").String())
	if raw == "" {
		return common.Hash{}, ErrNoCreationTx
	}
	decoded, err := hexHash(raw)
	if err != nil {
		return common.Hash{}, err
	}
	return decoded, nil
}

func hexHash(value string) (common.Hash, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X")
	if len(trimmed) != 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("indexer: malformed transaction hash %q", value)
	}
	for _, r := range trimmed {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return common.Hash{}, fmt.Errorf("indexer: malformed transaction hash %q", value)
		}
	}
	return common.HexToHash(trimmed), nil
}
