// Package withdrawal runs the reserve, broadcast, then commit-or-release saga
// for one withdrawal request.
package withdrawal

import (
	"context"
	"math/big"

	"github.com/better-wallet/custody-core/pkg/types"
)

// Context is what an adapter receives for one execution.
type Context struct {
	Request            *types.WithdrawalMessage
	AmountInMinorUnits *big.Int
}

// Adapter moves funds on one chain family.
type Adapter interface {
	// Supports reports whether the adapter handles the asset.
	Supports(asset types.Asset) bool

	// Execute builds, signs and broadcasts the transfer described by wctx.
	Execute(ctx context.Context, wctx Context) (*types.BroadcastResult, error)
}

// ReserveParams reserves funds for a withdrawal. Reserving a withdrawal ID that
// is already recorded changes nothing and fails with ErrDuplicateWithdrawal.
type ReserveParams struct {
	ClientID     string
	Asset        types.Asset
	Amount       *big.Int
	WithdrawalID string
}

// ReleaseParams returns a reservation to the available balance.
type ReleaseParams struct {
	ClientID     string
	Asset        types.Asset
	Amount       *big.Int
	WithdrawalID string
	Reason       string
}

// CompleteParams commits a reservation against an on-chain transaction.
type CompleteParams struct {
	ClientID     string
	Asset        types.Asset
	Amount       *big.Int
	WithdrawalID string
	TxID         string
}

// LedgerGateway is the balance ledger as seen by the saga. Implementations
// serialise check-and-reserve per (client, asset).
type LedgerGateway interface {
	GetAvailableBalance(ctx context.Context, clientID string, asset types.Asset) (*big.Int, error)
	ReserveFunds(ctx context.Context, p ReserveParams) error
	ReleaseReservation(ctx context.Context, p ReleaseParams) error
	MarkWithdrawalCompleted(ctx context.Context, p CompleteParams) error
}

// StatusPublisher emits terminal withdrawal events.
type StatusPublisher interface {
	Publish(ctx context.Context, event types.WithdrawalEvent) error
}
