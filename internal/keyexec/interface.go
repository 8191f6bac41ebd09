package keyexec

import (
	"context"
	"crypto/ecdsa"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"

	"github.com/better-wallet/custody-core/internal/crypto"
	"github.com/better-wallet/custody-core/pkg/types"
)

// KeyDeriver produces the signing key for a wallet. Chain adapters depend on
// this rather than on HDKeyService directly.
type KeyDeriver interface {
	DeriveWalletKey(ctx context.Context, wallet *types.WalletRecord) (*DerivedWalletKey, error)
}

// SecretStore looks up sealed secrets. FindByID returns nil, nil when absent.
type SecretStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*types.SealedSecret, error)
}

// DerivedWalletKey is the key material for one wallet path. Callers must call
// Zero once signing is done.
type DerivedWalletKey struct {
	PrivateKey          []byte // 32 bytes
	PublicKey           []byte // 65 bytes, uncompressed
	PublicKeyCompressed []byte // 33 bytes
	DerivationPath      string
}

// ECDSA returns the private key in the form go-ethereum signs with.
func (k *DerivedWalletKey) ECDSA() (*ecdsa.PrivateKey, error) {
	return crypto.PrivateKeyFromBytes(k.PrivateKey)
}

// BTCEC returns the private key in the form btcd signs with.
func (k *DerivedWalletKey) BTCEC() *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(k.PrivateKey)
	return priv
}

// Zero wipes the private key bytes.
func (k *DerivedWalletKey) Zero() {
	if k == nil {
		return
	}
	crypto.ZeroBytes(k.PrivateKey)
}
