// Package consumer turns withdrawal request messages from Kafka into saga runs.
// The commit loop is shared with the wallet command topic.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/better-wallet/custody-core/internal/logger"
	"github.com/better-wallet/custody-core/internal/metrics"
	apperrors "github.com/better-wallet/custody-core/pkg/errors"
	"github.com/better-wallet/custody-core/pkg/types"
)

// Processor runs the withdrawal saga. *withdrawal.Service satisfies it.
type Processor interface {
	ProcessWithdrawal(ctx context.Context, req *types.WithdrawalMessage) error
}

// WalletFinder resolves the source wallet. Returns nil, nil when none exists.
type WalletFinder interface {
	FindByOwnerAndAsset(ctx context.Context, ownerID string, asset types.Asset) (*types.WalletRecord, error)
}

// Payload is the withdrawal request as it arrives on the broker.
type Payload struct {
	ClientID     string `json:"clientId"`
	WithdrawalID string `json:"withdrawalId"`
	Asset        string `json:"asset"`
	Amount       string `json:"amount"`
	ToAddress    string `json:"toAddress"`
}

// ErrMalformed marks a message that can never be processed.
var ErrMalformed = errors.New("malformed message")

// Handler maps one payload to a WithdrawalMessage and processes it.
type Handler struct {
	processor Processor
	wallets   WalletFinder
}

// NewHandler creates a Handler.
func NewHandler(processor Processor, wallets WalletFinder) *Handler {
	return &Handler{processor: processor, wallets: wallets}
}

// Handle processes one raw message value.
func (h *Handler) Handle(ctx context.Context, value []byte) error {
	var p Payload
	if err := json.Unmarshal(value, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.ClientID == "" || p.WithdrawalID == "" || p.ToAddress == "" {
		return fmt.Errorf("%w: clientId, withdrawalId and toAddress are required", ErrMalformed)
	}
	ctx = logger.WithWithdrawalID(ctx, p.WithdrawalID)

	asset, err := NormalizeAsset(p.Asset)
	if err != nil {
		return err
	}

	wallet, err := h.wallets.FindByOwnerAndAsset(ctx, p.ClientID, asset)
	if err != nil {
		return fmt.Errorf("wallet lookup for %s/%s: %w", p.ClientID, asset, err)
	}
	if wallet == nil {
		return apperrors.NewWithDetail(apperrors.ErrCodeWalletNotFound, apperrors.ErrWalletNotFound.Message,
			fmt.Sprintf("client %s asset %s", p.ClientID, asset))
	}

	return h.processor.ProcessWithdrawal(ctx, &types.WithdrawalMessage{
		ClientID:     p.ClientID,
		Asset:        asset,
		Amount:       p.Amount,
		ToAddress:    p.ToAddress,
		WithdrawalID: p.WithdrawalID,
		Wallet:       wallet,
	})
}

// NormalizeAsset upper-cases the code and checks it is supported.
func NormalizeAsset(code string) (types.Asset, error) {
	asset := types.Asset(strings.ToUpper(strings.TrimSpace(code)))
	if !asset.Valid() {
		return "", apperrors.NewWithDetail(apperrors.ErrCodeUnsupportedAsset, apperrors.ErrUnsupportedAsset.Message, code)
	}
	return asset, nil
}

// IsPoison reports whether retrying the message can never succeed.
func IsPoison(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, apperrors.ErrInvalidAmount)
}

// HandlerFunc handles one raw message value.
type HandlerFunc func(ctx context.Context, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages and commits each after it is handled. Messages whose
// handling failed are left uncommitted; poison messages are committed so they
// do not come back.
type Consumer struct {
	reader  messageReader
	handle  HandlerFunc
	backoff time.Duration
}

// NewKafkaConsumer creates a consumer-group reader on topic.
func NewKafkaConsumer(brokers []string, groupID, topic string, handle HandlerFunc) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     groupID,
			Topic:       topic,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafka.FirstOffset,
		}),
		handle:  handle,
		backoff: time.Second,
	}
}

// Run consumes until ctx is cancelled. Messages are handled one at a time.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error(ctx, "failed to fetch message", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		if !c.process(ctx, m) {
			continue
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			logger.Error(ctx, "failed to commit offset", "partition", m.Partition, "offset", m.Offset, "error", err)
		}
	}
}

// process reports whether the message should be committed.
func (c *Consumer) process(ctx context.Context, m kafka.Message) bool {
	err := c.handle(ctx, m.Value)
	switch {
	case err == nil:
		metrics.ConsumerMessagesTotal.WithLabelValues("processed").Inc()
		return true
	case IsPoison(err):
		metrics.ConsumerMessagesTotal.WithLabelValues("poison").Inc()
		logger.Error(ctx, "dropping unprocessable message", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
		return true
	default:
		metrics.ConsumerMessagesTotal.WithLabelValues("error").Inc()
		logger.Error(ctx, "message handling failed", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
		return false
	}
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
