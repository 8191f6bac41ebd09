package types

import (
	"time"

	"github.com/google/uuid"
)

// Chain constants
const (
	ChainBitcoin  = "bitcoin"
	ChainEthereum = "ethereum"
	ChainTron     = "tron"
)

// Asset is one of the withdrawable assets.
type Asset string

// Supported assets
const (
	AssetBTC       Asset = "BTC"
	AssetETH       Asset = "ETH"
	AssetUSDTERC20 Asset = "USDT-ERC20"
	AssetTRX       Asset = "TRX"
	AssetUSDTTRC20 Asset = "USDT-TRC20"
)

// SupportedAssets lists every asset the core knows how to withdraw.
var SupportedAssets = []Asset{AssetBTC, AssetETH, AssetUSDTERC20, AssetTRX, AssetUSDTTRC20}

// Valid reports whether the asset is one of SupportedAssets.
func (a Asset) Valid() bool {
	for _, s := range SupportedAssets {
		if a == s {
			return true
		}
	}
	return false
}

// Chain returns the chain the asset settles on, or "" for unknown assets.
func (a Asset) Chain() string {
	switch a {
	case AssetBTC:
		return ChainBitcoin
	case AssetETH, AssetUSDTERC20:
		return ChainEthereum
	case AssetTRX, AssetUSDTTRC20:
		return ChainTron
	default:
		return ""
	}
}

// WalletRecord identifies a custodial wallet. Read-only to the withdrawal core.
type WalletRecord struct {
	ID             uuid.UUID
	OwnerID        string
	Chain          string
	AssetCode      string
	Address        string
	SealedSecretID *uuid.UUID
	DerivationPath string
	AddressIndex   uint32
	CreatedAt      time.Time
}

// SealedSecret is an envelope-encrypted mnemonic.
type SealedSecret struct {
	ID         uuid.UUID
	OwnerID    string
	EncContext map[string]string
	// DataKeyCipher is the data key wrapped by the KMS provider.
	DataKeyCipher []byte
	IV            []byte
	AuthTag       []byte
	SecretCipher  []byte
	CreatedAt     time.Time
}

// WithdrawalStatus is the terminal state of a withdrawal attempt.
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalProcessed WithdrawalStatus = "PROCESSED"
	WithdrawalFailed    WithdrawalStatus = "FAILED"
)

// WithdrawalMessage is one withdrawal intent with its resolved source wallet.
type WithdrawalMessage struct {
	ClientID     string
	Asset        Asset
	Amount       string // decimal units of the asset, e.g. "0.01"
	ToAddress    string
	WithdrawalID string
	Wallet       *WalletRecord
}

// WithdrawalEvent is the terminal outcome published for a withdrawal attempt.
type WithdrawalEvent struct {
	ClientID         string           `json:"clientId"`
	WithdrawalID     string           `json:"withdrawalId"`
	Asset            Asset            `json:"asset"`
	Status           WithdrawalStatus `json:"status"`
	Amount           string           `json:"amount"`
	ToAddress        string           `json:"toAddress"`
	TxID             string           `json:"txid,omitempty"`
	Reason           string           `json:"reason,omitempty"`
	BalanceAvailable string           `json:"balanceAvailable,omitempty"`
	OccurredAt       time.Time        `json:"occurredAt"`
}

// BroadcastResult is produced by a successful chain adapter execution.
type BroadcastResult struct {
	TxID           string
	RawTransaction string
	Fee            string
}
