package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/better-wallet/custody-core/internal/amount"
	"github.com/better-wallet/custody-core/internal/logger"
	"github.com/better-wallet/custody-core/internal/metrics"
	apperrors "github.com/better-wallet/custody-core/pkg/errors"
	"github.com/better-wallet/custody-core/pkg/types"
)

// Service orchestrates withdrawals
type Service struct {
	ledger    LedgerGateway
	publisher StatusPublisher
	adapters  []Adapter
	now       func() time.Time
}

// NewService creates a withdrawal service. Adapters are consulted in order;
// the first one that supports an asset handles it.
func NewService(ledger LedgerGateway, publisher StatusPublisher, adapters ...Adapter) *Service {
	return &Service{
		ledger:    ledger,
		publisher: publisher,
		adapters:  adapters,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessWithdrawal drives one withdrawal to a single PROCESSED or FAILED
// event. Business and infrastructure failures end in a FAILED event; the only
// returned error is an amount that cannot be parsed, reported before any
// ledger call.
func (s *Service) ProcessWithdrawal(ctx context.Context, req *types.WithdrawalMessage) error {
	ctx = logger.WithWithdrawalID(ctx, req.WithdrawalID)

	adapter := s.selectAdapter(req.Asset)
	if adapter == nil {
		s.publishFailure(ctx, req, apperrors.ErrCodeUnsupportedAsset, nil, "")
		return nil
	}

	units, err := amount.ToMinorUnits(req.Asset, req.Amount)
	if err != nil {
		logger.Error(ctx, "rejecting withdrawal with malformed amount", "asset", req.Asset, "error", err)
		return fmt.Errorf("withdrawal %s: %w", req.WithdrawalID, err)
	}

	available, err := s.ledger.GetAvailableBalance(ctx, req.ClientID, req.Asset)
	if err != nil {
		logger.Error(ctx, "failed to read available balance", "error", err)
		s.publishFailure(ctx, req, apperrors.ErrCodeLedgerError, nil, err.Error())
		return nil
	}

	if units.Cmp(available) > 0 {
		logger.Info(ctx, "insufficient balance", "asset", req.Asset, "requested", units.String(), "available", available.String())
		s.publishFailure(ctx, req, apperrors.ErrCodeInsufficientBalance, available, "")
		return nil
	}

	err = s.ledger.ReserveFunds(ctx, ReserveParams{
		ClientID:     req.ClientID,
		Asset:        req.Asset,
		Amount:       units,
		WithdrawalID: req.WithdrawalID,
	})
	if err != nil {
		// A concurrent reservation may have drained the balance after our read.
		if errors.Is(err, apperrors.ErrInsufficientBalance) {
			s.publishFailure(ctx, req, apperrors.ErrCodeInsufficientBalance, available, "")
			return nil
		}
		// A redelivery must not broadcast again or touch the earlier reservation.
		if errors.Is(err, apperrors.ErrDuplicateWithdrawal) {
			logger.Warn(ctx, "withdrawal already recorded, skipping broadcast", "asset", req.Asset)
			s.publishFailure(ctx, req, apperrors.ErrCodeDuplicateWithdrawal, nil, "")
			return nil
		}
		logger.Error(ctx, "failed to reserve funds", "error", err)
		s.publishFailure(ctx, req, apperrors.ErrCodeLedgerError, nil, err.Error())
		return nil
	}

	started := time.Now()
	result, err := adapter.Execute(ctx, Context{Request: req, AmountInMinorUnits: units})
	if err == nil && (result == nil || result.TxID == "") {
		err = fmt.Errorf("adapter returned no transaction id")
	}
	if err != nil {
		metrics.ObserveAdapter(string(req.Asset), "error", started)
		s.compensate(ctx, req, units, available, err)
		return nil
	}
	metrics.ObserveAdapter(string(req.Asset), "ok", started)

	err = s.ledger.MarkWithdrawalCompleted(ctx, CompleteParams{
		ClientID:     req.ClientID,
		Asset:        req.Asset,
		Amount:       units,
		WithdrawalID: req.WithdrawalID,
		TxID:         result.TxID,
	})
	if err != nil {
		// The transaction is on chain; the reservation stays open for ledger reconciliation.
		logger.Error(ctx, "failed to mark withdrawal completed", "txid", result.TxID, "error", err)
	}

	logger.Info(ctx, "withdrawal broadcast", "asset", req.Asset, "txid", result.TxID)
	s.publish(ctx, types.WithdrawalEvent{
		ClientID:     req.ClientID,
		WithdrawalID: req.WithdrawalID,
		Asset:        req.Asset,
		Status:       types.WithdrawalProcessed,
		Amount:       req.Amount,
		ToAddress:    req.ToAddress,
		TxID:         result.TxID,
		OccurredAt:   s.now(),
	}, "")
	return nil
}

// compensate releases the reservation after a failed execution and reports
// the failure with the balance observed before reserving.
func (s *Service) compensate(ctx context.Context, req *types.WithdrawalMessage, units, available *big.Int, cause error) {
	detail := cause.Error()
	logger.Error(ctx, "withdrawal execution failed", "asset", req.Asset, "error", cause)

	err := s.ledger.ReleaseReservation(ctx, ReleaseParams{
		ClientID:     req.ClientID,
		Asset:        req.Asset,
		Amount:       units,
		WithdrawalID: req.WithdrawalID,
		Reason:       detail,
	})
	if err != nil {
		logger.Error(ctx, "failed to release reservation", "error", err)
	}

	s.publishFailure(ctx, req, apperrors.ErrCodeBroadcastError, available, detail)
}

func (s *Service) selectAdapter(asset types.Asset) Adapter {
	for _, a := range s.adapters {
		if a.Supports(asset) {
			return a
		}
	}
	return nil
}

func (s *Service) publishFailure(ctx context.Context, req *types.WithdrawalMessage, code string, available *big.Int, detail string) {
	reason := code
	if detail != "" {
		reason = code + ":" + detail
	}

	event := types.WithdrawalEvent{
		ClientID:     req.ClientID,
		WithdrawalID: req.WithdrawalID,
		Asset:        req.Asset,
		Status:       types.WithdrawalFailed,
		Amount:       req.Amount,
		ToAddress:    req.ToAddress,
		Reason:       reason,
		OccurredAt:   s.now(),
	}
	if available != nil {
		if formatted, err := amount.FormatMinorUnits(req.Asset, available); err == nil {
			event.BalanceAvailable = formatted
		}
	}

	s.publish(ctx, event, code)
}

// publish hands the event to the publisher. A publish failure is logged and
// not retried here; the publisher owns delivery.
func (s *Service) publish(ctx context.Context, event types.WithdrawalEvent, code string) {
	metrics.WithdrawalsTotal.WithLabelValues(string(event.Asset), string(event.Status), code).Inc()

	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Error(ctx, "failed to publish withdrawal event", "status", event.Status, "error", err)
	}
}
