// Package metrics holds the Prometheus collectors for the custody core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WithdrawalsTotal counts terminal withdrawal events by asset, status and reason code.
	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_withdrawals_total",
		Help: "Terminal withdrawal outcomes.",
	}, []string{"asset", "status", "reason"})

	// KeyDerivationsTotal counts DeriveWalletKey calls by outcome.
	KeyDerivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_key_derivations_total",
		Help: "Wallet key derivations by outcome.",
	}, []string{"outcome"})

	// AdapterDuration tracks chain adapter Execute latency.
	AdapterDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "custody_adapter_execute_duration_seconds",
		Help:    "Duration of chain adapter executions.",
		Buckets: []float64{0.1, 0.3, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"asset", "outcome"})

	// ConsumerMessagesTotal counts broker messages by handling result.
	ConsumerMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_consumer_messages_total",
		Help: "Broker messages by handling result.",
	}, []string{"result"})
)

// ObserveAdapter records one adapter execution.
func ObserveAdapter(asset, outcome string, started time.Time) {
	AdapterDuration.WithLabelValues(asset, outcome).Observe(time.Since(started).Seconds())
}
