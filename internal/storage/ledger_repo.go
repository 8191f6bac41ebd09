package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"

	"github.com/better-wallet/custody-core/internal/withdrawal"
	apperrors "github.com/better-wallet/custody-core/pkg/errors"
	"github.com/better-wallet/custody-core/pkg/types"
)

// Reservation states
const (
	ReservationReserved  = "RESERVED"
	ReservationReleased  = "RELEASED"
	ReservationCompleted = "COMPLETED"
)

// LedgerRepository keeps per-client balances in minor units. Amounts cross
// the driver as decimal text so they are never narrowed to int64.
type LedgerRepository struct {
	store *Store
}

// NewLedgerRepository creates a new LedgerRepository
func NewLedgerRepository(store *Store) *LedgerRepository {
	return &LedgerRepository{store: store}
}

// GetAvailableBalance returns zero for a client with no balance row.
func (r *LedgerRepository) GetAvailableBalance(ctx context.Context, clientID string, asset types.Asset) (*big.Int, error) {
	query := `
		SELECT available::text
		FROM ledger_balances
		WHERE client_id = $1 AND asset = $2
	`

	var available string
	err := r.store.pool.QueryRow(ctx, query, clientID, string(asset)).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get available balance: %w", err)
	}
	return parseUnits(available)
}

// ReserveFunds records the reservation and moves the amount from available to
// reserved in one transaction. A withdrawal ID that is already recorded, in any
// state, leaves the ledger untouched and returns ErrDuplicateWithdrawal.
func (r *LedgerRepository) ReserveFunds(ctx context.Context, p withdrawal.ReserveParams) error {
	if p.Amount == nil || p.Amount.Sign() < 0 {
		return fmt.Errorf("invalid reservation amount")
	}
	amount := p.Amount.String()

	return r.store.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO ledger_reservations (withdrawal_id, client_id, asset, amount, status)
			VALUES ($1, $2, $3, $4::numeric, $5)
			ON CONFLICT (withdrawal_id) DO NOTHING
		`, p.WithdrawalID, p.ClientID, string(p.Asset), amount, ReservationReserved)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.ErrDuplicateWithdrawal
		}

		tag, err = tx.Exec(ctx, `
			UPDATE ledger_balances
			SET available = available - $3::numeric,
			    reserved = reserved + $3::numeric,
			    updated_at = NOW()
			WHERE client_id = $1 AND asset = $2 AND available >= $3::numeric
		`, p.ClientID, string(p.Asset), amount)
		if err != nil {
			return fmt.Errorf("failed to reserve balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.ErrInsufficientBalance
		}
		return nil
	})
}

// ReleaseReservation returns a RESERVED amount to available. Anything else is
// a no-op.
func (r *LedgerRepository) ReleaseReservation(ctx context.Context, p withdrawal.ReleaseParams) error {
	return r.settle(ctx, p.WithdrawalID, `
		UPDATE ledger_reservations
		SET status = $2, reason = $3, updated_at = NOW()
		WHERE withdrawal_id = $1 AND status = 'RESERVED'
		RETURNING client_id, asset, amount::text
	`, []any{p.WithdrawalID, ReservationReleased, p.Reason}, `
		UPDATE ledger_balances
		SET available = available + $3::numeric,
		    reserved = reserved - $3::numeric,
		    updated_at = NOW()
		WHERE client_id = $1 AND asset = $2
	`)
}

// MarkWithdrawalCompleted commits a RESERVED amount against txid. Anything
// else is a no-op.
func (r *LedgerRepository) MarkWithdrawalCompleted(ctx context.Context, p withdrawal.CompleteParams) error {
	return r.settle(ctx, p.WithdrawalID, `
		UPDATE ledger_reservations
		SET status = $2, txid = $3, updated_at = NOW()
		WHERE withdrawal_id = $1 AND status = 'RESERVED'
		RETURNING client_id, asset, amount::text
	`, []any{p.WithdrawalID, ReservationCompleted, p.TxID}, `
		UPDATE ledger_balances
		SET reserved = reserved - $3::numeric,
		    updated_at = NOW()
		WHERE client_id = $1 AND asset = $2
	`)
}

// settle transitions a reservation out of RESERVED and applies the balance
// update for the amount it held.
func (r *LedgerRepository) settle(ctx context.Context, withdrawalID, transition string, args []any, balanceUpdate string) error {
	return r.store.WithTx(ctx, func(tx pgx.Tx) error {
		var clientID, asset, amount string
		err := tx.QueryRow(ctx, transition, args...).Scan(&clientID, &asset, &amount)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to settle reservation %s: %w", withdrawalID, err)
		}

		tag, err := tx.Exec(ctx, balanceUpdate, clientID, asset, amount)
		if err != nil {
			return fmt.Errorf("failed to update balance for %s: %w", withdrawalID, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("no balance row for %s/%s", clientID, asset)
		}
		return nil
	})
}

func parseUnits(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid ledger amount %q", s)
	}
	return v, nil
}

var _ withdrawal.LedgerGateway = (*LedgerRepository)(nil)
