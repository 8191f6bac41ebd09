// Package walletcmd creates custodial wallets and derives further addresses
// under their sealed mnemonics.
package walletcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/better-wallet/custody-core/internal/consumer"
	"github.com/better-wallet/custody-core/internal/logger"
	"github.com/better-wallet/custody-core/pkg/types"
)

// Command is one of CreateWallet or DeriveAddress.
type Command interface {
	isWalletCommand()
}

// CreateWallet creates a new sealed mnemonic and its base wallet at index 0.
type CreateWallet struct {
	OwnerID   string
	Chain     string
	AssetCode types.Asset
}

// DeriveAddress adds a wallet under the sealed secret of WalletID. A nil
// Index takes the next free one.
type DeriveAddress struct {
	WalletID uuid.UUID
	Index    *uint32
}

func (CreateWallet) isWalletCommand()  {}
func (DeriveAddress) isWalletCommand() {}

// WalletCreator creates wallets from fresh key material.
type WalletCreator interface {
	CreateWallet(ctx context.Context, cmd CreateWallet) (*types.WalletRecord, error)
}

// AddressDeriver derives additional wallets from existing key material.
type AddressDeriver interface {
	DeriveAddress(ctx context.Context, cmd DeriveAddress) (*types.WalletRecord, error)
}

// Handler dispatches wallet commands.
type Handler struct {
	creator WalletCreator
	deriver AddressDeriver
}

// NewHandler creates a Handler. *SealedMnemonicKeyManager fills both roles.
func NewHandler(creator WalletCreator, deriver AddressDeriver) *Handler {
	return &Handler{creator: creator, deriver: deriver}
}

// Handle runs cmd and returns the wallet it created.
func (h *Handler) Handle(ctx context.Context, cmd Command) (*types.WalletRecord, error) {
	switch c := cmd.(type) {
	case CreateWallet:
		return h.creator.CreateWallet(ctx, c)
	case DeriveAddress:
		return h.deriver.DeriveAddress(ctx, c)
	default:
		// only reachable with a nil command
		return nil, fmt.Errorf("unsupported wallet command %T", cmd)
	}
}

// HandleMessage decodes a broker message and handles it.
func (h *Handler) HandleMessage(ctx context.Context, value []byte) error {
	cmd, err := DecodeCommand(value)
	if err != nil {
		return err
	}

	wallet, err := h.Handle(ctx, cmd)
	if err != nil {
		return err
	}

	logger.Info(ctx, "wallet command handled",
		"command", fmt.Sprintf("%T", cmd),
		"wallet_id", wallet.ID,
		"asset", wallet.AssetCode,
		"address", wallet.Address,
		"address_index", wallet.AddressIndex,
	)
	return nil
}

type commandMessage struct {
	Type      string  `json:"type"`
	OwnerID   string  `json:"ownerId"`
	Chain     string  `json:"chain"`
	AssetCode string  `json:"assetCode"`
	WalletID  string  `json:"walletId"`
	Index     *uint32 `json:"index"`
}

// Message types
const (
	TypeCreateWallet  = "CREATE_WALLET"
	TypeDeriveAddress = "DERIVE_ADDRESS"
)

// DecodeCommand parses a JSON wallet command. Errors wrap consumer.ErrMalformed.
func DecodeCommand(value []byte) (Command, error) {
	var msg commandMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", consumer.ErrMalformed, err)
	}

	switch msg.Type {
	case TypeCreateWallet:
		if msg.OwnerID == "" {
			return nil, fmt.Errorf("%w: ownerId is required", consumer.ErrMalformed)
		}
		asset := types.Asset(strings.ToUpper(msg.AssetCode))
		chain := strings.ToLower(msg.Chain)
		if !asset.Valid() || asset.Chain() != chain {
			return nil, fmt.Errorf("%w: asset %q is not on chain %q", consumer.ErrMalformed, msg.AssetCode, msg.Chain)
		}
		return CreateWallet{OwnerID: msg.OwnerID, Chain: chain, AssetCode: asset}, nil
	case TypeDeriveAddress:
		id, err := uuid.Parse(msg.WalletID)
		if err != nil {
			return nil, fmt.Errorf("%w: walletId: %v", consumer.ErrMalformed, err)
		}
		return DeriveAddress{WalletID: id, Index: msg.Index}, nil
	default:
		return nil, fmt.Errorf("%w: unknown command type %q", consumer.ErrMalformed, msg.Type)
	}
}
