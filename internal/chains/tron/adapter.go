// Package tron withdraws TRX and TRC-20 USDT through a java-tron gRPC node.
package tron

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/fbsobreira/gotron-sdk/pkg/client"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"

	"github.com/better-wallet/custody-core/internal/crypto"
	"github.com/better-wallet/custody-core/internal/keyexec"
	"github.com/better-wallet/custody-core/internal/logger"
	"github.com/better-wallet/custody-core/internal/withdrawal"
	"github.com/better-wallet/custody-core/pkg/types"
)

// Node builds unsigned transactions and broadcasts signed ones.
// *client.GrpcClient satisfies it.
type Node interface {
	Transfer(from, to string, amount int64) (*api.TransactionExtention, error)
	TRC20Send(from, to, contract string, amount *big.Int, feeLimit int64) (*api.TransactionExtention, error)
	Broadcast(tx *core.Transaction) (*api.Return, error)
}

// Dial connects to a java-tron gRPC endpoint.
func Dial(url, apiKey string) (*client.GrpcClient, error) {
	c := client.NewGrpcClient(url)
	if apiKey != "" {
		if err := c.SetAPIKey(apiKey); err != nil {
			return nil, fmt.Errorf("failed to set tron API key: %w", err)
		}
	}
	if err := c.Start(grpc.WithTransportCredentials(insecure.NewCredentials())); err != nil {
		return nil, fmt.Errorf("failed to connect to tron node %s: %w", url, err)
	}
	return c, nil
}

// Adapter withdraws TRX and USDT-TRC20.
type Adapter struct {
	node     Node
	keys     keyexec.KeyDeriver
	usdt     string
	feeLimit int64
}

// NewAdapter creates the Tron adapter. usdtContract may be empty, in which case
// USDT-TRC20 is not supported. feeLimit is in sun.
func NewAdapter(node Node, keys keyexec.KeyDeriver, usdtContract string, feeLimit int64) (*Adapter, error) {
	if usdtContract != "" {
		if _, err := address.Base58ToAddress(usdtContract); err != nil {
			return nil, fmt.Errorf("invalid USDT-TRC20 contract address %s: %w", usdtContract, err)
		}
	}
	if feeLimit <= 0 {
		return nil, fmt.Errorf("fee limit must be positive")
	}
	return &Adapter{node: node, keys: keys, usdt: usdtContract, feeLimit: feeLimit}, nil
}

// Supports reports whether the asset is TRX or a configured token.
func (a *Adapter) Supports(asset types.Asset) bool {
	switch asset {
	case types.AssetTRX:
		return true
	case types.AssetUSDTTRC20:
		return a.usdt != ""
	default:
		return false
	}
}

// Execute builds the transfer on the node, signs it locally and broadcasts it.
func (a *Adapter) Execute(ctx context.Context, wctx withdrawal.Context) (*types.BroadcastResult, error) {
	req := wctx.Request
	if _, err := address.Base58ToAddress(req.ToAddress); err != nil {
		return nil, fmt.Errorf("invalid destination address %s: %w", req.ToAddress, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := a.keys.DeriveWalletKey(ctx, req.Wallet)
	if err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	defer key.Zero()

	priv, err := key.ECDSA()
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	defer crypto.ZeroPrivateKey(priv)

	from := address.PubkeyToAddress(priv.PublicKey).String()

	ext, err := a.build(req.Asset, from, req.ToAddress, wctx.AmountInMinorUnits)
	if err != nil {
		return nil, err
	}
	if ext == nil || ext.Transaction == nil || ext.Transaction.RawData == nil {
		return nil, fmt.Errorf("tron node returned an empty transaction")
	}
	if ext.Result != nil && ext.Result.Code != 0 {
		return nil, fmt.Errorf("transaction build failed: %s", string(ext.Result.Message))
	}
	tx := ext.Transaction

	raw, err := proto.Marshal(tx.RawData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw data: %w", err)
	}
	hash := sha256.Sum256(raw)

	sig, err := ethcrypto.Sign(hash[:], priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	tx.Signature = append(tx.Signature, sig)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := a.node.Broadcast(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to broadcast: %w", err)
	}
	if result == nil || !result.Result {
		msg := ""
		if result != nil {
			msg = string(result.Message)
		}
		return nil, fmt.Errorf("broadcast rejected: %s", msg)
	}

	signed, err := proto.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed transaction: %w", err)
	}

	txid := hex.EncodeToString(hash[:])
	logger.Info(ctx, "tron transaction sent", "txid", txid, "from", from, "asset", req.Asset)

	return &types.BroadcastResult{
		TxID:           txid,
		RawTransaction: hex.EncodeToString(signed),
	}, nil
}

func (a *Adapter) build(asset types.Asset, from, to string, units *big.Int) (*api.TransactionExtention, error) {
	switch asset {
	case types.AssetTRX:
		if !units.IsInt64() {
			return nil, fmt.Errorf("amount out of range: %s sun", units)
		}
		ext, err := a.node.Transfer(from, to, units.Int64())
		if err != nil {
			return nil, fmt.Errorf("failed to create transaction: %w", err)
		}
		return ext, nil
	case types.AssetUSDTTRC20:
		if a.usdt == "" {
			return nil, fmt.Errorf("no contract configured for %s", asset)
		}
		ext, err := a.node.TRC20Send(from, to, a.usdt, units, a.feeLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to build trc20 transfer: %w", err)
		}
		return ext, nil
	default:
		return nil, fmt.Errorf("unsupported asset %s", asset)
	}
}

var (
	_ withdrawal.Adapter = (*Adapter)(nil)
	_ Node               = (*client.GrpcClient)(nil)
)
