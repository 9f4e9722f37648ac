// Package chain reads transaction senders from an EVM node.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const defaultTimeout = 10 * time.Second

// Client wraps a node RPC connection with a per-call deadline.
type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	timeout time.Duration
}

// Dial connects to the node endpoint.
func Dial(ctx context.Context, endpoint string, timeout time.Duration) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc endpoint required")
	}
	raw, err := rpc.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewClient(raw, timeout), nil
}

// NewClient wraps an existing RPC client.
func NewClient(raw *rpc.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{rpc: raw, eth: ethclient.NewClient(raw), timeout: timeout}
}

// Close releases the underlying connection.
func (c *Client) Close() {
	if c != nil && c.rpc != nil {
		c.rpc.Close()
	}
}

type txSender struct {
	From *common.Address `json:"from"`
}

// TransactionSender returns the from field of a transaction. Unknown
// transactions yield ethereum.NotFound.
func (c *Client) TransactionSender(ctx context.Context, hash common.Hash) (common.Address, error) {
	if c == nil || c.rpc == nil {
		return common.Address{}, errors.New("rpc client not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var raw json.RawMessage
	if err := c.rpc.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return common.Address{}, fmt.Errorf("eth_getTransactionByHash: %w", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return common.Address{}, ethereum.NotFound
	}
	var tx txSender
	if err := json.Unmarshal(raw, &tx); err != nil {
		return common.Address{}, fmt.Errorf("decode transaction: %w", err)
	}
	if tx.From == nil || *tx.From == (common.Address{}) {
		return common.Address{}, fmt.Errorf("transaction %s has no sender", hash.Hex())
	}
	return *tx.From, nil
}

// ChainID reports the node's chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth_chainId: %w", err)
	}
	return id, nil
}

// VerifyChainID fails when the node is not on the expected chain.
func (c *Client) VerifyChainID(ctx context.Context, expected uint64) error {
	if expected == 0 {
		return nil
	}
	id, err := c.ChainID(ctx)
	if err != nil {
		return err
	}
	if !id.IsUint64() || id.Uint64() != expected {
		return fmt.Errorf("rpc chain id %s does not match configured %d", id, expected)
	}
	return nil
}
