// Package ethereum withdraws ETH and ERC-20 tokens with EIP-1559 transactions.
package ethereum

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/better-wallet/custody-core/internal/crypto"
	"github.com/better-wallet/custody-core/internal/eth"
	"github.com/better-wallet/custody-core/internal/keyexec"
	"github.com/better-wallet/custody-core/internal/logger"
	"github.com/better-wallet/custody-core/internal/withdrawal"
	"github.com/better-wallet/custody-core/pkg/types"
)

const erc20ABI = `[
	{
		"constant": false,
		"inputs": [
			{"name": "_to", "type": "address"},
			{"name": "_value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"type": "function"
	}
]`

var parsedERC20 = mustParseABI(erc20ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid erc20 abi: %v", err))
	}
	return parsed
}

// Node is the subset of the RPC client the adapter needs. *eth.Client satisfies it.
type Node interface {
	ChainID() *big.Int
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	FeeCaps(ctx context.Context) (*eth.FeeCaps, error)
	EstimateGas(ctx context.Context, msg goethereum.CallMsg) (uint64, error)
	Send(ctx context.Context, tx *ethtypes.Transaction) (string, error)
}

// ContractCaller runs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Adapter withdraws ETH and USDT-ERC20.
type Adapter struct {
	node   Node
	keys   keyexec.KeyDeriver
	tokens map[types.Asset]common.Address
}

// NewAdapter creates the Ethereum adapter. usdtContract may be empty, in which
// case USDT-ERC20 is not supported.
func NewAdapter(node Node, keys keyexec.KeyDeriver, usdtContract string) (*Adapter, error) {
	tokens := make(map[types.Asset]common.Address)
	if usdtContract != "" {
		if !common.IsHexAddress(usdtContract) {
			return nil, fmt.Errorf("invalid USDT-ERC20 contract address: %s", usdtContract)
		}
		tokens[types.AssetUSDTERC20] = common.HexToAddress(usdtContract)
	}
	return &Adapter{node: node, keys: keys, tokens: tokens}, nil
}

// Supports reports whether the asset is ETH or a configured token.
func (a *Adapter) Supports(asset types.Asset) bool {
	if asset == types.AssetETH {
		return true
	}
	_, ok := a.tokens[asset]
	return ok
}

// Execute signs and broadcasts a dynamic fee transaction.
func (a *Adapter) Execute(ctx context.Context, wctx withdrawal.Context) (*types.BroadcastResult, error) {
	req := wctx.Request
	if !common.IsHexAddress(req.ToAddress) {
		return nil, fmt.Errorf("invalid destination address: %s", req.ToAddress)
	}
	dest := common.HexToAddress(req.ToAddress)

	to, value, data, err := a.callFor(req.Asset, dest, wctx.AmountInMinorUnits)
	if err != nil {
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

	from := crypto.EthereumAddress(&priv.PublicKey)

	nonce, err := a.node.PendingNonce(ctx, from)
	if err != nil {
		return nil, err
	}

	fees, err := a.node.FeeCaps(ctx)
	if err != nil {
		return nil, err
	}

	gas, err := a.node.EstimateGas(ctx, goethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, err
	}

	chainID := a.node.ChainID()
	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: fees.Tip,
		GasFeeCap: fees.Max,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signed, err := ethtypes.SignTx(tx, ethtypes.NewLondonSigner(chainID), priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	txid, err := a.node.Send(ctx, signed)
	if err != nil {
		return nil, err
	}

	maxFee := new(big.Int).Mul(fees.Max, new(big.Int).SetUint64(gas))
	logger.Info(ctx, "ethereum transaction sent", "txid", txid, "from", from.Hex(), "nonce", nonce, "max_fee_wei", maxFee.String())

	return &types.BroadcastResult{
		TxID:           txid,
		RawTransaction: "0x" + hex.EncodeToString(raw),
		Fee:            maxFee.String(),
	}, nil
}

// callFor returns the call target, value and calldata for the asset.
func (a *Adapter) callFor(asset types.Asset, dest common.Address, units *big.Int) (common.Address, *big.Int, []byte, error) {
	if asset == types.AssetETH {
		return dest, units, nil, nil
	}

	contract, ok := a.tokens[asset]
	if !ok {
		return common.Address{}, nil, nil, fmt.Errorf("no contract configured for %s", asset)
	}
	data, err := parsedERC20.Pack("transfer", dest, units)
	if err != nil {
		return common.Address{}, nil, nil, fmt.Errorf("failed to pack transfer: %w", err)
	}
	return contract, big.NewInt(0), data, nil
}

// VerifyTokenDecimals checks that a token contract reports the decimals the
// amount converter assumes for it.
func VerifyTokenDecimals(ctx context.Context, caller ContractCaller, contract string, want uint8) error {
	data, err := parsedERC20.Pack("decimals")
	if err != nil {
		return fmt.Errorf("failed to pack decimals: %w", err)
	}
	if !common.IsHexAddress(contract) {
		return fmt.Errorf("invalid token contract address: %s", contract)
	}
	out, err := caller.CallContract(ctx, common.HexToAddress(contract), data)
	if err != nil {
		return err
	}
	values, err := parsedERC20.Unpack("decimals", out)
	if err != nil {
		return fmt.Errorf("failed to decode decimals: %w", err)
	}
	got, ok := values[0].(uint8)
	if !ok {
		return fmt.Errorf("unexpected decimals type %T", values[0])
	}
	if got != want {
		return fmt.Errorf("token %s has %d decimals, expected %d", contract, got, want)
	}
	return nil
}

var _ withdrawal.Adapter = (*Adapter)(nil)
