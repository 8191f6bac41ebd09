// Package eth is the Ethereum JSON-RPC node client used by the withdrawal
// adapter. main owns the connection and closes it on shutdown.
package eth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// gasBufferPercent is added on top of the node's gas estimate.
const gasBufferPercent = 20

// backend is the part of *ethclient.Client the withdrawal flow uses.
type backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// FeeCaps are the EIP-1559 fee parameters for one transaction, in wei.
type FeeCaps struct {
	Tip *big.Int
	Max *big.Int
}

// Client talks to one Ethereum node. The chain ID is read once at dial time.
type Client struct {
	backend backend
	chainID *big.Int
}

// NewClient dials rpcURL and reads the chain ID.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}

	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	c, err := newClient(ctx, rpc)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	return c, nil
}

func newClient(ctx context.Context, b backend) (*Client, error) {
	chainID, err := b.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return &Client{backend: b, chainID: chainID}, nil
}

// ChainID returns the chain ID read at dial time.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// PendingNonce returns the next nonce for account, counting pending transactions.
func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce for %s: %w", account.Hex(), err)
	}
	return nonce, nil
}

// FeeCaps returns tip and max fee: Max = 2*baseFee + tip. Before London, or on
// nodes that report no base fee, both are the legacy gas price.
func (c *Client) FeeCaps(ctx context.Context) (*FeeCaps, error) {
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	if header.BaseFee == nil {
		price, err := c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}
		return &FeeCaps{Tip: price, Max: new(big.Int).Set(price)}, nil
	}

	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}
	feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return &FeeCaps{Tip: tip, Max: feeCap}, nil
}

// EstimateGas estimates msg and adds gasBufferPercent.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return gas * (100 + gasBufferPercent) / 100, nil
}

// Send broadcasts a signed transaction and returns its hash.
func (c *Client) Send(ctx context.Context, tx *types.Transaction) (string, error) {
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// CallContract executes a read-only call against the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// Close closes the RPC connection.
func (c *Client) Close() {
	c.backend.Close()
}
