// Package bitcoin withdraws BTC from P2WPKH wallets. The node funds and
// finalizes a PSBT; signing happens locally with the derived wallet key.
package bitcoin

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/better-wallet/custody-core/internal/keyexec"
	"github.com/better-wallet/custody-core/internal/logger"
	"github.com/better-wallet/custody-core/internal/withdrawal"
	"github.com/better-wallet/custody-core/pkg/types"
)

// Adapter withdraws BTC.
type Adapter struct {
	node   Node
	keys   keyexec.KeyDeriver
	params *chaincfg.Params
}

// NewAdapter creates the Bitcoin adapter for the given network.
func NewAdapter(node Node, keys keyexec.KeyDeriver, params *chaincfg.Params) *Adapter {
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &Adapter{node: node, keys: keys, params: params}
}

// Supports reports whether the asset is BTC.
func (a *Adapter) Supports(asset types.Asset) bool {
	return asset == types.AssetBTC
}

// P2WPKHAddress encodes a compressed public key as a native segwit address.
func P2WPKHAddress(pubKeyCompressed []byte, params *chaincfg.Params) (*btcutil.AddressWitnessPubKeyHash, error) {
	if len(pubKeyCompressed) != btcec.PubKeyBytesLenCompressed {
		return nil, fmt.Errorf("expected %d byte compressed public key, got %d", btcec.PubKeyBytesLenCompressed, len(pubKeyCompressed))
	}
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKeyCompressed), params)
}

// Execute funds, signs, finalizes and broadcasts a transfer.
func (a *Adapter) Execute(ctx context.Context, wctx withdrawal.Context) (*types.BroadcastResult, error) {
	req := wctx.Request
	dest, err := btcutil.DecodeAddress(req.ToAddress, a.params)
	if err != nil || !dest.IsForNet(a.params) {
		return nil, fmt.Errorf("invalid destination address for %s: %s", a.params.Name, req.ToAddress)
	}
	if !wctx.AmountInMinorUnits.IsInt64() {
		return nil, fmt.Errorf("amount out of range: %s sats", wctx.AmountInMinorUnits)
	}
	sats := wctx.AmountInMinorUnits.Int64()

	key, err := a.keys.DeriveWalletKey(ctx, req.Wallet)
	if err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	defer key.Zero()

	priv := key.BTCEC()
	defer priv.Zero()
	pub := priv.PubKey().SerializeCompressed()

	source, err := P2WPKHAddress(pub, a.params)
	if err != nil {
		return nil, err
	}
	sourceScript, err := txscript.PayToAddrScript(source)
	if err != nil {
		return nil, fmt.Errorf("failed to build wallet script: %w", err)
	}

	funded, err := a.node.WalletCreateFundedPsbt(ctx, dest.EncodeAddress(), sats, source.EncodeAddress())
	if err != nil {
		return nil, err
	}

	packet, err := psbt.NewFromRawBytes(strings.NewReader(funded), true)
	if err != nil {
		return nil, fmt.Errorf("failed to parse funded psbt: %w", err)
	}

	if err := signInputs(packet, priv, pub, sourceScript); err != nil {
		return nil, err
	}

	signed, err := packet.B64Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed psbt: %w", err)
	}

	rawTx, complete, err := a.node.FinalizePsbt(ctx, signed)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, fmt.Errorf("psbt is incomplete after signing")
	}

	txid, err := a.node.SendRawTransaction(ctx, rawTx)
	if err != nil {
		return nil, err
	}

	res := &types.BroadcastResult{TxID: txid, RawTransaction: rawTx}
	if fee, err := packet.GetTxFee(); err == nil {
		res.Fee = fmt.Sprintf("%d", int64(fee))
	}

	logger.Info(ctx, "bitcoin transaction sent", "txid", txid, "from", source.EncodeAddress(), "inputs", len(packet.Inputs), "fee_sats", res.Fee)
	return res, nil
}

// signInputs adds a SIGHASH_ALL partial signature to every input. Every input
// must spend an output locked to the wallet script.
func signInputs(packet *psbt.Packet, priv *btcec.PrivateKey, pub, walletScript []byte) error {
	tx := packet.UnsignedTx
	if len(packet.Inputs) == 0 {
		return fmt.Errorf("funded psbt has no inputs")
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range packet.Inputs {
		if in.WitnessUtxo == nil {
			return fmt.Errorf("input %d has no witness utxo", i)
		}
		if !bytes.Equal(in.WitnessUtxo.PkScript, walletScript) {
			return fmt.Errorf("input %d is not locked to the wallet key", i)
		}
		fetcher.AddPrevOut(tx.TxIn[i].PreviousOutPoint, in.WitnessUtxo)
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return fmt.Errorf("failed to create psbt updater: %w", err)
	}

	for i, in := range packet.Inputs {
		sig, err := txscript.RawTxInWitnessSignature(tx, sigHashes, i, in.WitnessUtxo.Value, walletScript, txscript.SigHashAll, priv)
		if err != nil {
			return fmt.Errorf("failed to sign input %d: %w", i, err)
		}
		outcome, err := updater.Sign(i, sig, pub, nil, nil)
		if err != nil {
			return fmt.Errorf("failed to add signature to input %d: %w", i, err)
		}
		if outcome == psbt.SignInvalid {
			return fmt.Errorf("signature for input %d rejected", i)
		}
	}
	return nil
}

var _ withdrawal.Adapter = (*Adapter)(nil)
