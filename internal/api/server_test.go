package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/custody-core/internal/metrics"
	"github.com/better-wallet/custody-core/internal/middleware"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   healthResponse
	}{
		{"ok", nil, http.StatusOK, healthResponse{Status: "ok", Database: "ok"}},
		{"db down", errors.New("connection refused"), http.StatusServiceUnavailable, healthResponse{Status: "degraded", Database: "unreachable"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(0, stubPinger{err: tt.err}).Handler()
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader))

			var body healthResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	NewServer(0, stubPinger{}).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMetrics(t *testing.T) {
	metrics.ConsumerMessagesTotal.WithLabelValues("processed").Add(0)

	rr := httptest.NewRecorder()
	NewServer(0, stubPinger{}).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "custody_consumer_messages_total"))
}

func TestShutdownBeforeStart(t *testing.T) {
	assert.NoError(t, NewServer(0, stubPinger{}).Shutdown(context.Background()))
}
