package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/better-wallet/custody-core/pkg/types"
)

// WalletRepository handles wallet data operations
type WalletRepository struct {
	store *Store
}

// NewWalletRepository creates a new WalletRepository
func NewWalletRepository(store *Store) *WalletRepository {
	return &WalletRepository{store: store}
}

const walletColumns = `id, owner_id, chain, asset_code, address, sealed_secret_id, derivation_path, address_index, created_at`

// Create creates a new wallet
func (r *WalletRepository) Create(ctx context.Context, wallet *types.WalletRecord) error {
	return r.CreateTx(ctx, r.store.pool, wallet)
}

// CreateTx creates a new wallet using the provided transaction or connection
func (r *WalletRepository) CreateTx(ctx context.Context, db DBTX, wallet *types.WalletRecord) error {
	query := `
		INSERT INTO wallets (id, owner_id, chain, asset_code, address, sealed_secret_id, derivation_path, address_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := db.QueryRow(ctx, query,
		wallet.ID,
		wallet.OwnerID,
		wallet.Chain,
		wallet.AssetCode,
		wallet.Address,
		wallet.SealedSecretID,
		wallet.DerivationPath,
		int64(wallet.AddressIndex),
	).Scan(&wallet.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

// GetByID retrieves a wallet by ID
func (r *WalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.WalletRecord, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`

	wallet, err := scanWallet(r.store.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet by ID: %w", err)
	}
	return wallet, nil
}

// FindByOwnerAndAsset returns the owner's base wallet (lowest address index)
// for the asset, or nil when there is none.
func (r *WalletRepository) FindByOwnerAndAsset(ctx context.Context, ownerID string, asset types.Asset) (*types.WalletRecord, error) {
	query := `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE owner_id = $1 AND asset_code = $2
		ORDER BY address_index ASC, created_at ASC
		LIMIT 1
	`

	wallet, err := scanWallet(r.store.pool.QueryRow(ctx, query, ownerID, string(asset)))
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet by owner and asset: %w", err)
	}
	return wallet, nil
}

// NextIndex returns the next unused address index under a sealed secret for
// the asset.
func (r *WalletRepository) NextIndex(ctx context.Context, sealedSecretID uuid.UUID, assetCode string) (uint32, error) {
	query := `
		SELECT COALESCE(MAX(address_index) + 1, 0)
		FROM wallets
		WHERE sealed_secret_id = $1 AND asset_code = $2
	`

	var next int64
	if err := r.store.pool.QueryRow(ctx, query, sealedSecretID, assetCode).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to get next address index: %w", err)
	}
	if next < 0 || next >= 1<<31 {
		return 0, fmt.Errorf("address index space exhausted for sealed secret %s", sealedSecretID)
	}
	return uint32(next), nil
}

// scanWallet returns nil, nil on no rows.
func scanWallet(row pgx.Row) (*types.WalletRecord, error) {
	var (
		wallet types.WalletRecord
		index  int64
	)
	err := row.Scan(
		&wallet.ID,
		&wallet.OwnerID,
		&wallet.Chain,
		&wallet.AssetCode,
		&wallet.Address,
		&wallet.SealedSecretID,
		&wallet.DerivationPath,
		&index,
		&wallet.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	wallet.AddressIndex = uint32(index)
	return &wallet, nil
}
