package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without detail",
			err: &AppError{
				Code:    ErrCodeUnsupportedAsset,
				Message: "Asset not supported",
			},
			expected: "UNSUPPORTED_ASSET: Asset not supported",
		},
		{
			name: "error with detail",
			err: &AppError{
				Code:    ErrCodeInvalidAmount,
				Message: "Invalid amount",
				Detail:  "negative amount",
			},
			expected: "INVALID_AMOUNT: Invalid amount (negative amount)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNewWithDetail(t *testing.T) {
	err := NewWithDetail("test_code", "Test message", "Additional details")

	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "Test message", err.Message)
	assert.Equal(t, "Additional details", err.Detail)
}

func TestAppError_IsMatchesByCode(t *testing.T) {
	t.Run("constructor matches predefined error", func(t *testing.T) {
		err := SecretNotFound("abc")
		assert.True(t, errors.Is(err, ErrSecretNotFound))
		assert.False(t, errors.Is(err, ErrDecryptionFailed))
		assert.Contains(t, err.Detail, "abc")
	})

	t.Run("works through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("derive: %w", DecryptionFailed("tag mismatch"))
		assert.True(t, errors.Is(wrapped, ErrDecryptionFailed))
	})

	t.Run("plain errors never match", func(t *testing.T) {
		assert.False(t, errors.Is(errors.New("boom"), ErrInvalidAmount))
	})
}

func TestDerivationFailed(t *testing.T) {
	err := DerivationFailed("m/44'/0'/0'/0/0", "no private key")

	assert.Equal(t, ErrCodeDerivationFailed, err.Code)
	assert.Contains(t, err.Detail, "m/44'/0'/0'/0/0")
	assert.Contains(t, err.Detail, "no private key")
}

func TestIsAppError(t *testing.T) {
	t.Run("returns AppError when error is AppError", func(t *testing.T) {
		originalErr := New("test", "test")
		appErr, ok := IsAppError(originalErr)

		require.True(t, ok)
		assert.Equal(t, originalErr, appErr)
	})

	t.Run("returns false when error is not AppError", func(t *testing.T) {
		appErr, ok := IsAppError(errors.New("standard error"))

		assert.False(t, ok)
		assert.Nil(t, appErr)
	})

	t.Run("works with wrapped errors", func(t *testing.T) {
		originalErr := InvalidAmount("bad")
		appErr, ok := IsAppError(fmt.Errorf("wrapped: %w", originalErr))

		require.True(t, ok)
		assert.Equal(t, originalErr, appErr)
	})
}

func TestErrorCodeConstants(t *testing.T) {
	codes := []string{
		ErrCodeUnsupportedAsset,
		ErrCodeInsufficientBalance,
		ErrCodeBroadcastError,
		ErrCodeLedgerError,
		ErrCodeSecretNotFound,
		ErrCodeDecryptionFailed,
		ErrCodeDerivationFailed,
		ErrCodeInvalidAmount,
		ErrCodeInvalidConfiguration,
		ErrCodeWalletNotFound,
	}

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code)
		assert.False(t, seen[code], "duplicate error code: %s", code)
		seen[code] = true
	}
}
