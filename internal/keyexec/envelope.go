package keyexec

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/better-wallet/custody-core/internal/crypto"
	apperrors "github.com/better-wallet/custody-core/pkg/errors"
	"github.com/better-wallet/custody-core/pkg/types"
)

// Encryption context keys bound into every sealed secret.
const (
	ContextOwnerID  = "owner_id"
	ContextSecretID = "secret_id"
)

const gcmTagSize = 16

// SealSecret envelope-encrypts plaintext under a fresh data key. The data key
// is bound to {owner_id, secret_id}; IV and auth tag are stored separately.
func SealSecret(ctx context.Context, kms KMSProvider, ownerID string, plaintext []byte) (*types.SealedSecret, error) {
	id := uuid.New()
	encContext := map[string]string{
		ContextOwnerID:  ownerID,
		ContextSecretID: id.String(),
	}

	dataKey, wrapped, err := kms.GenerateDataKey(ctx, encContext)
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	defer crypto.ZeroBytes(dataKey)

	gcm, err := newGCM(dataKey)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	return &types.SealedSecret{
		ID:            id,
		OwnerID:       ownerID,
		EncContext:    encContext,
		DataKeyCipher: wrapped,
		IV:            iv,
		AuthTag:       tag,
		SecretCipher:  ct,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// OpenSecret reverses SealSecret. Any unwrap or authentication failure is
// reported as DECRYPTION_FAILED and no plaintext is returned.
func OpenSecret(ctx context.Context, kms KMSProvider, secret *types.SealedSecret) ([]byte, error) {
	dataKey, err := kms.DecryptDataKey(ctx, secret.DataKeyCipher, secret.EncContext)
	if err != nil {
		return nil, apperrors.DecryptionFailed(fmt.Sprintf("data key unwrap: %v", err))
	}
	defer crypto.ZeroBytes(dataKey)

	if len(dataKey) != DataKeySize {
		return nil, apperrors.DecryptionFailed(fmt.Sprintf("data key has %d bytes", len(dataKey)))
	}

	gcm, err := newGCM(dataKey)
	if err != nil {
		return nil, apperrors.DecryptionFailed(err.Error())
	}
	if len(secret.IV) != gcm.NonceSize() || len(secret.AuthTag) != gcmTagSize {
		return nil, apperrors.DecryptionFailed("malformed iv or auth tag")
	}

	sealed := make([]byte, 0, len(secret.SecretCipher)+gcmTagSize)
	sealed = append(sealed, secret.SecretCipher...)
	sealed = append(sealed, secret.AuthTag...)

	plaintext, err := gcm.Open(nil, secret.IV, sealed, nil)
	if err != nil {
		return nil, apperrors.DecryptionFailed("authentication failed")
	}
	return plaintext, nil
}
