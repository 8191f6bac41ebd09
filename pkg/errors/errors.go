package errors

import (
	"errors"
	"fmt"
)

// AppError represents an application-level error with a machine-readable code
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any AppError carrying the same code, so the predefined errors
// below can be used as errors.Is targets regardless of detail.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Error codes. The first three and DUPLICATE_WITHDRAWAL double as the machine-readable reasons carried
// by FAILED withdrawal events.
const (
	ErrCodeUnsupportedAsset     = "UNSUPPORTED_ASSET"
	ErrCodeInsufficientBalance  = "INSUFFICIENT_BALANCE"
	ErrCodeBroadcastError       = "BROADCAST_ERROR"
	ErrCodeLedgerError          = "LEDGER_ERROR"
	ErrCodeDuplicateWithdrawal  = "DUPLICATE_WITHDRAWAL"
	ErrCodeSecretNotFound       = "SECRET_NOT_FOUND"
	ErrCodeDecryptionFailed     = "DECRYPTION_FAILED"
	ErrCodeDerivationFailed     = "DERIVATION_FAILED"
	ErrCodeInvalidAmount        = "INVALID_AMOUNT"
	ErrCodeInvalidConfiguration = "INVALID_CONFIGURATION"
	ErrCodeWalletNotFound       = "WALLET_NOT_FOUND"
)

// Predefined errors
var (
	ErrUnsupportedAsset     = &AppError{Code: ErrCodeUnsupportedAsset, Message: "Asset not supported"}
	ErrInsufficientBalance  = &AppError{Code: ErrCodeInsufficientBalance, Message: "Insufficient balance"}
	ErrBroadcast            = &AppError{Code: ErrCodeBroadcastError, Message: "Broadcast failed"}
	ErrLedger               = &AppError{Code: ErrCodeLedgerError, Message: "Ledger operation failed"}
	ErrDuplicateWithdrawal  = &AppError{Code: ErrCodeDuplicateWithdrawal, Message: "Withdrawal already recorded"}
	ErrSecretNotFound       = &AppError{Code: ErrCodeSecretNotFound, Message: "Sealed secret not found"}
	ErrDecryptionFailed     = &AppError{Code: ErrCodeDecryptionFailed, Message: "Decryption failed"}
	ErrDerivationFailed     = &AppError{Code: ErrCodeDerivationFailed, Message: "Key derivation failed"}
	ErrInvalidAmount        = &AppError{Code: ErrCodeInvalidAmount, Message: "Invalid amount"}
	ErrInvalidConfiguration = &AppError{Code: ErrCodeInvalidConfiguration, Message: "Invalid configuration"}
	ErrWalletNotFound       = &AppError{Code: ErrCodeWalletNotFound, Message: "Wallet not found"}
)

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Detail:  detail,
	}
}

// SecretNotFound creates a sealed secret not found error
func SecretNotFound(secretID string) *AppError {
	return NewWithDetail(ErrCodeSecretNotFound, ErrSecretNotFound.Message, fmt.Sprintf("sealed_secret_id: %s", secretID))
}

// DecryptionFailed wraps an envelope unwrap or authentication failure
func DecryptionFailed(detail string) *AppError {
	return NewWithDetail(ErrCodeDecryptionFailed, ErrDecryptionFailed.Message, detail)
}

// DerivationFailed creates a derivation error for the given path
func DerivationFailed(path, detail string) *AppError {
	return NewWithDetail(ErrCodeDerivationFailed, ErrDerivationFailed.Message, fmt.Sprintf("path %s: %s", path, detail))
}

// InvalidAmount creates an amount validation error
func InvalidAmount(detail string) *AppError {
	return NewWithDetail(ErrCodeInvalidAmount, ErrInvalidAmount.Message, detail)
}

// InvalidConfiguration creates a configuration error
func InvalidConfiguration(detail string) *AppError {
	return NewWithDetail(ErrCodeInvalidConfiguration, ErrInvalidConfiguration.Message, detail)
}

// WalletNotFound creates a wallet not found error
func WalletNotFound(walletID string) *AppError {
	return NewWithDetail(ErrCodeWalletNotFound, ErrWalletNotFound.Message, fmt.Sprintf("wallet_id: %s", walletID))
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
