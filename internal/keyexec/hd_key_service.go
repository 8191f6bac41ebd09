package keyexec

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"

	"github.com/better-wallet/custody-core/internal/crypto"
	"github.com/better-wallet/custody-core/internal/logger"
	"github.com/better-wallet/custody-core/internal/metrics"
	apperrors "github.com/better-wallet/custody-core/pkg/errors"
	"github.com/better-wallet/custody-core/pkg/types"
)

// HDKeyService derives wallet signing keys from envelope-encrypted mnemonics.
// Nothing is cached: every call unseals, derives and wipes.
type HDKeyService struct {
	secrets SecretStore
	kms     KMSProvider
}

// NewHDKeyService creates a key derivation service
func NewHDKeyService(secrets SecretStore, kms KMSProvider) *HDKeyService {
	return &HDKeyService{
		secrets: secrets,
		kms:     kms,
	}
}

// DeriveWalletKey returns the key at wallet.DerivationPath under the wallet's
// sealed mnemonic.
func (s *HDKeyService) DeriveWalletKey(ctx context.Context, wallet *types.WalletRecord) (*DerivedWalletKey, error) {
	key, err := s.derive(ctx, wallet)
	if err != nil {
		outcome := "error"
		if appErr, ok := apperrors.IsAppError(err); ok {
			outcome = appErr.Code
		}
		metrics.KeyDerivationsTotal.WithLabelValues(outcome).Inc()
		logger.Warn(ctx, "wallet key derivation failed", "error", err)
		return nil, err
	}
	metrics.KeyDerivationsTotal.WithLabelValues("ok").Inc()
	return key, nil
}

func (s *HDKeyService) derive(ctx context.Context, wallet *types.WalletRecord) (*DerivedWalletKey, error) {
	if wallet == nil {
		return nil, apperrors.InvalidConfiguration("wallet record is required")
	}
	if wallet.SealedSecretID == nil {
		return nil, apperrors.InvalidConfiguration(fmt.Sprintf("wallet %s has no sealed secret", wallet.ID))
	}
	if wallet.DerivationPath == "" {
		return nil, apperrors.InvalidConfiguration(fmt.Sprintf("wallet %s has no derivation path", wallet.ID))
	}

	path, err := crypto.ParseDerivationPath(wallet.DerivationPath)
	if err != nil {
		return nil, apperrors.DerivationFailed(wallet.DerivationPath, err.Error())
	}

	secret, err := s.secrets.FindByID(ctx, *wallet.SealedSecretID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sealed secret: %w", err)
	}
	if secret == nil {
		return nil, apperrors.SecretNotFound(wallet.SealedSecretID.String())
	}

	mnemonic, err := OpenSecret(ctx, s.kms, secret)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(mnemonic)
	lockMemory(mnemonic)
	defer unlockMemory(mnemonic)

	seed, err := bip39.NewSeedWithErrorChecking(string(mnemonic), "")
	if err != nil {
		return nil, apperrors.DerivationFailed(wallet.DerivationPath, "invalid mnemonic")
	}
	defer crypto.ZeroBytes(seed)

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, apperrors.DerivationFailed(wallet.DerivationPath, err.Error())
	}
	defer master.Zero()

	child := master
	for _, idx := range path {
		next, err := child.Derive(idx)
		if child != master {
			child.Zero()
		}
		if err != nil {
			return nil, apperrors.DerivationFailed(wallet.DerivationPath, err.Error())
		}
		child = next
	}
	defer child.Zero()

	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, apperrors.DerivationFailed(wallet.DerivationPath, "no private key")
	}
	defer priv.Zero()

	pub := priv.PubKey()
	return &DerivedWalletKey{
		PrivateKey:          priv.Serialize(),
		PublicKey:           pub.SerializeUncompressed(),
		PublicKeyCompressed: pub.SerializeCompressed(),
		DerivationPath:      wallet.DerivationPath,
	}, nil
}

var _ KeyDeriver = (*HDKeyService)(nil)
