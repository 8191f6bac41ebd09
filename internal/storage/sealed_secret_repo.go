package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/better-wallet/custody-core/pkg/types"
)

// SealedSecretRepository stores envelope-encrypted mnemonics.
type SealedSecretRepository struct {
	store *Store
}

// NewSealedSecretRepository creates a new SealedSecretRepository
func NewSealedSecretRepository(store *Store) *SealedSecretRepository {
	return &SealedSecretRepository{store: store}
}

// Create inserts a sealed secret
func (r *SealedSecretRepository) Create(ctx context.Context, secret *types.SealedSecret) error {
	return r.CreateTx(ctx, r.store.pool, secret)
}

// CreateTx inserts a sealed secret using the provided transaction or connection
func (r *SealedSecretRepository) CreateTx(ctx context.Context, db DBTX, secret *types.SealedSecret) error {
	query := `
		INSERT INTO sealed_secrets (id, owner_id, enc_context, data_key_cipher, iv, auth_tag, secret_cipher)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := db.QueryRow(ctx, query,
		secret.ID,
		secret.OwnerID,
		secret.EncContext,
		secret.DataKeyCipher,
		secret.IV,
		secret.AuthTag,
		secret.SecretCipher,
	).Scan(&secret.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sealed secret: %w", err)
	}

	return nil
}

// FindByID returns nil, nil when the secret does not exist.
func (r *SealedSecretRepository) FindByID(ctx context.Context, id uuid.UUID) (*types.SealedSecret, error) {
	query := `
		SELECT id, owner_id, enc_context, data_key_cipher, iv, auth_tag, secret_cipher, created_at
		FROM sealed_secrets
		WHERE id = $1
	`

	var secret types.SealedSecret
	err := r.store.pool.QueryRow(ctx, query, id).Scan(
		&secret.ID,
		&secret.OwnerID,
		&secret.EncContext,
		&secret.DataKeyCipher,
		&secret.IV,
		&secret.AuthTag,
		&secret.SecretCipher,
		&secret.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sealed secret: %w", err)
	}

	return &secret, nil
}
