package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/custody-core/internal/keyexec"
	"github.com/better-wallet/custody-core/internal/withdrawal"
	"github.com/better-wallet/custody-core/pkg/types"
)

const (
	fundedValue = int64(1_000_000)
	fakeFee     = int64(1_000)
)

// fakeNode funds from a single UTXO and verifies signatures on finalize.
type fakeNode struct {
	t      *testing.T
	params *chaincfg.Params

	// inputScript overrides the funding UTXO script; defaults to the change script.
	inputScript   []byte
	notComplete   bool
	fundedTo      string
	fundedAmount  int64
	fundedChange  string
	finalized     *wire.MsgTx
	broadcastHexs []string
}

func (n *fakeNode) WalletCreateFundedPsbt(ctx context.Context, toAddress string, amountSats int64, changeAddress string) (string, error) {
	n.fundedTo, n.fundedAmount, n.fundedChange = toAddress, amountSats, changeAddress

	destScript := n.scriptFor(toAddress)
	changeScript := n.scriptFor(changeAddress)

	prev := chainhash.DoubleHashH([]byte("funding"))
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, 1), nil, nil))
	tx.AddTxOut(wire.NewTxOut(amountSats, destScript))
	tx.AddTxOut(wire.NewTxOut(fundedValue-amountSats-fakeFee, changeScript))

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(n.t, err)

	inputScript := n.inputScript
	if inputScript == nil {
		inputScript = changeScript
	}
	packet.Inputs[0].WitnessUtxo = wire.NewTxOut(fundedValue, inputScript)
	return packet.B64Encode()
}

func (n *fakeNode) FinalizePsbt(ctx context.Context, psbtB64 string) (string, bool, error) {
	packet, err := psbt.NewFromRawBytes(strings.NewReader(psbtB64), true)
	require.NoError(n.t, err)
	if n.notComplete {
		return "", false, nil
	}

	require.NoError(n.t, psbt.MaybeFinalizeAll(packet))
	tx, err := psbt.Extract(packet)
	require.NoError(n.t, err)

	utxo := wire.NewTxOut(fundedValue, n.scriptFor(n.fundedChange))
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	fetcher.AddPrevOut(tx.TxIn[0].PreviousOutPoint, utxo)
	vm, err := txscript.NewEngine(utxo.PkScript, tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, fetcher), utxo.Value, fetcher)
	require.NoError(n.t, err)
	require.NoError(n.t, vm.Execute())

	n.finalized = tx
	var buf bytes.Buffer
	require.NoError(n.t, tx.Serialize(&buf))
	return hex.EncodeToString(buf.Bytes()), true, nil
}

func (n *fakeNode) SendRawTransaction(ctx context.Context, txHex string) (string, error) {
	n.broadcastHexs = append(n.broadcastHexs, txHex)
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return "", err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

func (n *fakeNode) scriptFor(addr string) []byte {
	decoded, err := btcutil.DecodeAddress(addr, n.params)
	require.NoError(n.t, err)
	script, err := txscript.PayToAddrScript(decoded)
	require.NoError(n.t, err)
	return script
}

type staticKeys struct {
	priv *btcec.PrivateKey
	err  error
}

func (k *staticKeys) DeriveWalletKey(ctx context.Context, wallet *types.WalletRecord) (*keyexec.DerivedWalletKey, error) {
	if k.err != nil {
		return nil, k.err
	}
	return &keyexec.DerivedWalletKey{
		PrivateKey:          k.priv.Serialize(),
		PublicKeyCompressed: k.priv.PubKey().SerializeCompressed(),
	}, nil
}

func newTestKeys(t *testing.T) *staticKeys {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return &staticKeys{priv: priv}
}

func btcWithdrawal(to string, sats int64) withdrawal.Context {
	return withdrawal.Context{
		Request: &types.WithdrawalMessage{
			ClientID:     "c1",
			Asset:        types.AssetBTC,
			Amount:       "0.005",
			ToAddress:    to,
			WithdrawalID: "w1",
			Wallet:       &types.WalletRecord{OwnerID: "c1", Chain: types.ChainBitcoin},
		},
		AmountInMinorUnits: big.NewInt(sats),
	}
}

// regtestDest returns a fresh regtest P2WPKH destination.
func regtestDest(t *testing.T) string {
	t.Helper()
	addr, err := P2WPKHAddress(newTestKeys(t).priv.PubKey().SerializeCompressed(), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func TestNetParams(t *testing.T) {
	for name, want := range map[string]*chaincfg.Params{
		"":         &chaincfg.MainNetParams,
		"mainnet":  &chaincfg.MainNetParams,
		"testnet3": &chaincfg.TestNet3Params,
		"regtest":  &chaincfg.RegressionNetParams,
		"signet":   &chaincfg.SigNetParams,
	} {
		got, err := NetParams(name)
		require.NoError(t, err, name)
		assert.Same(t, want, got, name)
	}

	_, err := NetParams("litecoin")
	assert.Error(t, err)
}

func TestAdapter_Supports(t *testing.T) {
	a := NewAdapter(&fakeNode{}, newTestKeys(t), nil)
	assert.True(t, a.Supports(types.AssetBTC))
	assert.False(t, a.Supports(types.AssetETH))
	assert.False(t, a.Supports(types.AssetTRX))
}

func TestAdapter_Execute_SignsAndBroadcasts(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	keys := newTestKeys(t)
	node := &fakeNode{t: t, params: params}
	a := NewAdapter(node, keys, params)

	dest := regtestDest(t)
	res, err := a.Execute(context.Background(), btcWithdrawal(dest, 500_000))
	require.NoError(t, err)

	wantChange, err := P2WPKHAddress(keys.priv.PubKey().SerializeCompressed(), params)
	require.NoError(t, err)
	assert.Equal(t, dest, node.fundedTo)
	assert.Equal(t, int64(500_000), node.fundedAmount)
	assert.Equal(t, wantChange.EncodeAddress(), node.fundedChange)

	require.NotNil(t, node.finalized)
	assert.Equal(t, node.finalized.TxHash().String(), res.TxID)
	assert.Len(t, node.finalized.TxIn[0].Witness, 2)
	assert.Equal(t, []string{res.RawTransaction}, node.broadcastHexs)
	assert.Equal(t, "1000", res.Fee)
}

func TestAdapter_Execute_Errors(t *testing.T) {
	params := &chaincfg.RegressionNetParams

	t.Run("destination on another network", func(t *testing.T) {
		node := &fakeNode{t: t, params: params}
		a := NewAdapter(node, newTestKeys(t), params)

		_, err := a.Execute(context.Background(), btcWithdrawal("bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", 1000))
		assert.ErrorContains(t, err, "invalid destination")
		assert.Empty(t, node.fundedTo)
	})

	t.Run("foreign input", func(t *testing.T) {
		other := newTestKeys(t)
		otherAddr, err := P2WPKHAddress(other.priv.PubKey().SerializeCompressed(), params)
		require.NoError(t, err)
		otherScript, err := txscript.PayToAddrScript(otherAddr)
		require.NoError(t, err)

		node := &fakeNode{t: t, params: params, inputScript: otherScript}
		a := NewAdapter(node, newTestKeys(t), params)

		_, err = a.Execute(context.Background(), btcWithdrawal(regtestDest(t), 1000))
		assert.ErrorContains(t, err, "not locked to the wallet key")
		assert.Empty(t, node.broadcastHexs)
	})

	t.Run("incomplete after finalize", func(t *testing.T) {
		node := &fakeNode{t: t, params: params, notComplete: true}
		a := NewAdapter(node, newTestKeys(t), params)

		_, err := a.Execute(context.Background(), btcWithdrawal(regtestDest(t), 1000))
		assert.ErrorContains(t, err, "incomplete")
		assert.Empty(t, node.broadcastHexs)
	})

	t.Run("key derivation", func(t *testing.T) {
		boom := errors.New("SECRET_NOT_FOUND: Sealed secret not found")
		node := &fakeNode{t: t, params: params}
		a := NewAdapter(node, &staticKeys{err: boom}, params)

		_, err := a.Execute(context.Background(), btcWithdrawal(regtestDest(t), 1000))
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, node.fundedTo)
	})
}

func TestP2WPKHAddress_RejectsUncompressed(t *testing.T) {
	keys := newTestKeys(t)
	_, err := P2WPKHAddress(keys.priv.PubKey().SerializeUncompressed(), &chaincfg.MainNetParams)
	assert.Error(t, err)
}
