package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/shopspring/decimal"
)

// Node is the bitcoind wallet RPC surface used by the adapter.
type Node interface {
	// WalletCreateFundedPsbt returns a base64 PSBT paying amountSats to
	// toAddress, funded from the node wallet with change to changeAddress.
	WalletCreateFundedPsbt(ctx context.Context, toAddress string, amountSats int64, changeAddress string) (string, error)

	// FinalizePsbt returns the network-serialized transaction hex and whether
	// every input is complete.
	FinalizePsbt(ctx context.Context, psbtB64 string) (string, bool, error)

	// SendRawTransaction broadcasts a hex transaction and returns its txid.
	SendRawTransaction(ctx context.Context, txHex string) (string, error)
}

// NetParams maps a network name to chain parameters.
func NetParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network: %s", network)
	}
}

// RPCNode talks to bitcoind over JSON-RPC in HTTP POST mode. The wallet it
// points at must watch the custodial addresses so it can fund PSBTs from them.
type RPCNode struct {
	client *rpcclient.Client
}

// NewRPCNode connects to bitcoind at host (host:port, optionally with a
// /wallet/<name> path).
func NewRPCNode(host, user, pass string) (*RPCNode, error) {
	if host == "" {
		return nil, fmt.Errorf("bitcoin RPC host is required")
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create bitcoin RPC client: %w", err)
	}

	return &RPCNode{client: client}, nil
}

type fundedPsbtResult struct {
	Psbt      string  `json:"psbt"`
	Fee       float64 `json:"fee"`
	ChangePos int     `json:"changepos"`
}

type finalizedPsbtResult struct {
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
}

// WalletCreateFundedPsbt calls walletcreatefundedpsbt.
func (n *RPCNode) WalletCreateFundedPsbt(ctx context.Context, toAddress string, amountSats int64, changeAddress string) (string, error) {
	// Amounts go over the wire in BTC; json.Number keeps them exact.
	btc := json.Number(decimal.New(amountSats, -8).String())

	params, err := marshalParams(
		[]any{},
		[]map[string]json.Number{{toAddress: btc}},
		0,
		map[string]any{
			"changeAddress":   changeAddress,
			"includeWatching": true,
		},
		true,
	)
	if err != nil {
		return "", err
	}

	var res fundedPsbtResult
	if err := n.call(ctx, "walletcreatefundedpsbt", params, &res); err != nil {
		return "", err
	}
	if res.Psbt == "" {
		return "", fmt.Errorf("walletcreatefundedpsbt returned no psbt")
	}
	return res.Psbt, nil
}

// FinalizePsbt calls finalizepsbt with extraction enabled.
func (n *RPCNode) FinalizePsbt(ctx context.Context, psbtB64 string) (string, bool, error) {
	params, err := marshalParams(psbtB64, true)
	if err != nil {
		return "", false, err
	}

	var res finalizedPsbtResult
	if err := n.call(ctx, "finalizepsbt", params, &res); err != nil {
		return "", false, err
	}
	return res.Hex, res.Complete, nil
}

// SendRawTransaction calls sendrawtransaction.
func (n *RPCNode) SendRawTransaction(ctx context.Context, txHex string) (string, error) {
	params, err := marshalParams(txHex)
	if err != nil {
		return "", err
	}

	var txid string
	if err := n.call(ctx, "sendrawtransaction", params, &txid); err != nil {
		return "", err
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return "", fmt.Errorf("sendrawtransaction returned invalid txid %q: %w", txid, err)
	}
	return hash.String(), nil
}

// Close shuts the client down
func (n *RPCNode) Close() {
	n.client.Shutdown()
}

// call issues a raw request. rpcclient has no context support in HTTP POST
// mode, so ctx is only checked before sending.
func (n *RPCNode) call(ctx context.Context, method string, params []json.RawMessage, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := n.client.RawRequest(method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func marshalParams(values ...any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode rpc param: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

var _ Node = (*RPCNode)(nil)
