package tron

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/better-wallet/custody-core/internal/keyexec"
	"github.com/better-wallet/custody-core/internal/withdrawal"
	"github.com/better-wallet/custody-core/pkg/types"
)

const usdtContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

type fakeNode struct {
	buildResult *api.Return
	broadcast   *api.Return
	buildErr    error

	from, to, contract string
	amount             *big.Int
	feeLimit           int64
	broadcasted        []*core.Transaction
}

func (n *fakeNode) ext() (*api.TransactionExtention, error) {
	if n.buildErr != nil {
		return nil, n.buildErr
	}
	return &api.TransactionExtention{
		Transaction: &core.Transaction{
			RawData: &core.TransactionRaw{
				RefBlockBytes: []byte{0x01, 0x02},
				RefBlockHash:  []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11},
				Expiration:    1_700_000_060_000,
				Timestamp:     1_700_000_000_000,
				FeeLimit:      n.feeLimit,
			},
		},
		Result: n.buildResult,
	}, nil
}

func (n *fakeNode) Transfer(from, to string, amount int64) (*api.TransactionExtention, error) {
	n.from, n.to, n.amount = from, to, big.NewInt(amount)
	return n.ext()
}

func (n *fakeNode) TRC20Send(from, to, contract string, amount *big.Int, feeLimit int64) (*api.TransactionExtention, error) {
	n.from, n.to, n.contract, n.amount, n.feeLimit = from, to, contract, amount, feeLimit
	return n.ext()
}

func (n *fakeNode) Broadcast(tx *core.Transaction) (*api.Return, error) {
	n.broadcasted = append(n.broadcasted, tx)
	if n.broadcast != nil {
		return n.broadcast, nil
	}
	return &api.Return{Result: true}, nil
}

type staticKeys struct {
	priv []byte
	err  error
}

func (k *staticKeys) DeriveWalletKey(ctx context.Context, wallet *types.WalletRecord) (*keyexec.DerivedWalletKey, error) {
	if k.err != nil {
		return nil, k.err
	}
	return &keyexec.DerivedWalletKey{PrivateKey: append([]byte(nil), k.priv...)}, nil
}

func newTestKeys(t *testing.T) (*staticKeys, string) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return &staticKeys{priv: ethcrypto.FromECDSA(key)}, address.PubkeyToAddress(key.PublicKey).String()
}

func tronWithdrawal(t *testing.T, asset types.Asset, units int64) withdrawal.Context {
	_, dest := newTestKeys(t)
	return withdrawal.Context{
		Request: &types.WithdrawalMessage{
			ClientID:     "c1",
			Asset:        asset,
			ToAddress:    dest,
			WithdrawalID: "w1",
			Wallet:       &types.WalletRecord{OwnerID: "c1", Chain: types.ChainTron},
		},
		AmountInMinorUnits: big.NewInt(units),
	}
}

func TestNewAdapter(t *testing.T) {
	keys, _ := newTestKeys(t)

	a, err := NewAdapter(&fakeNode{}, keys, usdtContract, 100_000_000)
	require.NoError(t, err)
	assert.True(t, a.Supports(types.AssetTRX))
	assert.True(t, a.Supports(types.AssetUSDTTRC20))
	assert.False(t, a.Supports(types.AssetUSDTERC20))

	nativeOnly, err := NewAdapter(&fakeNode{}, keys, "", 100_000_000)
	require.NoError(t, err)
	assert.False(t, nativeOnly.Supports(types.AssetUSDTTRC20))

	_, err = NewAdapter(&fakeNode{}, keys, "Tnotbase58check", 100_000_000)
	assert.Error(t, err)

	_, err = NewAdapter(&fakeNode{}, keys, usdtContract, 0)
	assert.Error(t, err)
}

func TestAdapter_Execute_TRX(t *testing.T) {
	keys, from := newTestKeys(t)
	node := &fakeNode{}
	a, err := NewAdapter(node, keys, usdtContract, 100_000_000)
	require.NoError(t, err)

	wctx := tronWithdrawal(t, types.AssetTRX, 1_500_000)
	res, err := a.Execute(context.Background(), wctx)
	require.NoError(t, err)

	assert.Equal(t, from, node.from)
	assert.Equal(t, wctx.Request.ToAddress, node.to)
	assert.Equal(t, "1500000", node.amount.String())

	require.Len(t, node.broadcasted, 1)
	tx := node.broadcasted[0]
	require.Len(t, tx.Signature, 1)

	raw, err := proto.Marshal(tx.RawData)
	require.NoError(t, err)
	hash := sha256.Sum256(raw)
	assert.Equal(t, hex.EncodeToString(hash[:]), res.TxID)

	pub, err := ethcrypto.SigToPub(hash[:], tx.Signature[0])
	require.NoError(t, err)
	assert.Equal(t, from, address.PubkeyToAddress(*pub).String())

	signed, err := hex.DecodeString(res.RawTransaction)
	require.NoError(t, err)
	var decoded core.Transaction
	require.NoError(t, proto.Unmarshal(signed, &decoded))
	assert.Len(t, decoded.Signature, 1)
}

func TestAdapter_Execute_TRC20(t *testing.T) {
	keys, from := newTestKeys(t)
	node := &fakeNode{}
	a, err := NewAdapter(node, keys, usdtContract, 50_000_000)
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), tronWithdrawal(t, types.AssetUSDTTRC20, 12_340_000))
	require.NoError(t, err)

	assert.Equal(t, from, node.from)
	assert.Equal(t, usdtContract, node.contract)
	assert.Equal(t, "12340000", node.amount.String())
	assert.Equal(t, int64(50_000_000), node.feeLimit)
	assert.Len(t, node.broadcasted, 1)
}

func TestAdapter_Execute_Errors(t *testing.T) {
	t.Run("invalid destination", func(t *testing.T) {
		keys, _ := newTestKeys(t)
		node := &fakeNode{}
		a, err := NewAdapter(node, keys, "", 1)
		require.NoError(t, err)

		wctx := tronWithdrawal(t, types.AssetTRX, 1)
		wctx.Request.ToAddress = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
		_, err = a.Execute(context.Background(), wctx)
		assert.ErrorContains(t, err, "invalid destination")
		assert.Empty(t, node.from)
	})

	t.Run("build rejected", func(t *testing.T) {
		keys, _ := newTestKeys(t)
		node := &fakeNode{buildResult: &api.Return{Code: 2, Message: []byte("balance is not sufficient")}}
		a, err := NewAdapter(node, keys, "", 1)
		require.NoError(t, err)

		_, err = a.Execute(context.Background(), tronWithdrawal(t, types.AssetTRX, 1))
		assert.ErrorContains(t, err, "balance is not sufficient")
		assert.Empty(t, node.broadcasted)
	})

	t.Run("build error", func(t *testing.T) {
		keys, _ := newTestKeys(t)
		node := &fakeNode{buildErr: errors.New("connection refused")}
		a, err := NewAdapter(node, keys, "", 1)
		require.NoError(t, err)

		_, err = a.Execute(context.Background(), tronWithdrawal(t, types.AssetTRX, 1))
		assert.ErrorContains(t, err, "connection refused")
	})

	t.Run("broadcast rejected", func(t *testing.T) {
		keys, _ := newTestKeys(t)
		node := &fakeNode{broadcast: &api.Return{Result: false, Message: []byte("SIGERROR")}}
		a, err := NewAdapter(node, keys, "", 1)
		require.NoError(t, err)

		_, err = a.Execute(context.Background(), tronWithdrawal(t, types.AssetTRX, 1))
		assert.ErrorContains(t, err, "SIGERROR")
	})

	t.Run("token not configured", func(t *testing.T) {
		keys, _ := newTestKeys(t)
		node := &fakeNode{}
		a, err := NewAdapter(node, keys, "", 1)
		require.NoError(t, err)

		_, err = a.Execute(context.Background(), tronWithdrawal(t, types.AssetUSDTTRC20, 1))
		assert.ErrorContains(t, err, "no contract configured")
	})
}
