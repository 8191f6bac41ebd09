package walletcmd

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/google/uuid"
	"github.com/tyler-smith/go-bip39"

	"github.com/better-wallet/custody-core/internal/chains/bitcoin"
	"github.com/better-wallet/custody-core/internal/crypto"
	"github.com/better-wallet/custody-core/internal/keyexec"
	apperrors "github.com/better-wallet/custody-core/pkg/errors"
	"github.com/better-wallet/custody-core/pkg/types"
)

// SecretRepository stores sealed secrets.
type SecretRepository interface {
	keyexec.SecretStore
	Create(ctx context.Context, secret *types.SealedSecret) error
}

// WalletRepository stores wallet records.
type WalletRepository interface {
	Create(ctx context.Context, wallet *types.WalletRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*types.WalletRecord, error)
	FindByOwnerAndAsset(ctx context.Context, ownerID string, asset types.Asset) (*types.WalletRecord, error)
	NextIndex(ctx context.Context, sealedSecretID uuid.UUID, assetCode string) (uint32, error)
}

const mnemonicEntropyBits = 256

// SealedMnemonicKeyManager keeps one envelope-encrypted BIP-39 mnemonic per
// created wallet and derives every address from it.
type SealedMnemonicKeyManager struct {
	kms       keyexec.KMSProvider
	secrets   SecretRepository
	wallets   WalletRepository
	keys      keyexec.KeyDeriver
	btcParams *chaincfg.Params

	newMnemonic func() (string, error)
}

// NewSealedMnemonicKeyManager creates the manager. keys must read secrets from
// the same repository.
func NewSealedMnemonicKeyManager(kms keyexec.KMSProvider, secrets SecretRepository, wallets WalletRepository, keys keyexec.KeyDeriver, btcParams *chaincfg.Params) *SealedMnemonicKeyManager {
	if btcParams == nil {
		btcParams = &chaincfg.MainNetParams
	}
	return &SealedMnemonicKeyManager{
		kms:         kms,
		secrets:     secrets,
		wallets:     wallets,
		keys:        keys,
		btcParams:   btcParams,
		newMnemonic: generateMnemonic,
	}
}

func generateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	defer crypto.ZeroBytes(entropy)
	return bip39.NewMnemonic(entropy)
}

// CreateWallet seals a fresh mnemonic and stores the base wallet at index 0.
// An owner that already has a wallet for the asset gets that wallet back, so a
// redelivered command mints nothing.
func (m *SealedMnemonicKeyManager) CreateWallet(ctx context.Context, cmd CreateWallet) (*types.WalletRecord, error) {
	if cmd.OwnerID == "" {
		return nil, apperrors.InvalidConfiguration("owner id is required")
	}
	if !cmd.AssetCode.Valid() || cmd.AssetCode.Chain() != cmd.Chain {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeUnsupportedAsset, apperrors.ErrUnsupportedAsset.Message,
			fmt.Sprintf("%s on %s", cmd.AssetCode, cmd.Chain))
	}

	existing, err := m.wallets.FindByOwnerAndAsset(ctx, cmd.OwnerID, cmd.AssetCode)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	mnemonic, err := m.newMnemonic()
	if err != nil {
		return nil, err
	}
	plaintext := []byte(mnemonic)
	sealed, err := keyexec.SealSecret(ctx, m.kms, cmd.OwnerID, plaintext)
	crypto.ZeroBytes(plaintext)
	if err != nil {
		return nil, err
	}

	if err := m.secrets.Create(ctx, sealed); err != nil {
		return nil, fmt.Errorf("failed to store sealed secret: %w", err)
	}

	return m.deriveAndStore(ctx, cmd.OwnerID, cmd.Chain, string(cmd.AssetCode), sealed.ID, 0)
}

// DeriveAddress stores a further wallet under the base wallet's sealed secret.
func (m *SealedMnemonicKeyManager) DeriveAddress(ctx context.Context, cmd DeriveAddress) (*types.WalletRecord, error) {
	base, err := m.wallets.GetByID(ctx, cmd.WalletID)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, apperrors.WalletNotFound(cmd.WalletID.String())
	}
	if base.SealedSecretID == nil {
		return nil, apperrors.InvalidConfiguration(fmt.Sprintf("wallet %s has no sealed secret", base.ID))
	}

	var index uint32
	if cmd.Index != nil {
		index = *cmd.Index
		if index >= hdkeychain.HardenedKeyStart {
			return nil, apperrors.InvalidConfiguration(fmt.Sprintf("address index %d out of range", index))
		}
	} else {
		index, err = m.wallets.NextIndex(ctx, *base.SealedSecretID, base.AssetCode)
		if err != nil {
			return nil, err
		}
	}

	return m.deriveAndStore(ctx, base.OwnerID, base.Chain, base.AssetCode, *base.SealedSecretID, index)
}

func (m *SealedMnemonicKeyManager) deriveAndStore(ctx context.Context, ownerID, chain, assetCode string, secretID uuid.UUID, index uint32) (*types.WalletRecord, error) {
	path, err := DerivationPath(chain, index)
	if err != nil {
		return nil, err
	}

	wallet := &types.WalletRecord{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		Chain:          chain,
		AssetCode:      assetCode,
		SealedSecretID: &secretID,
		DerivationPath: path,
		AddressIndex:   index,
	}

	key, err := m.keys.DeriveWalletKey(ctx, wallet)
	if err != nil {
		return nil, err
	}
	addr, err := EncodeAddress(chain, key, m.btcParams)
	key.Zero()
	if err != nil {
		return nil, err
	}
	wallet.Address = addr

	if err := m.wallets.Create(ctx, wallet); err != nil {
		return nil, fmt.Errorf("failed to store wallet: %w", err)
	}
	return wallet, nil
}

// DerivationPath returns the BIP-84 path for Bitcoin and the BIP-44 path for
// Ethereum and Tron.
func DerivationPath(chain string, index uint32) (string, error) {
	switch chain {
	case types.ChainBitcoin:
		return crypto.BIP84Path(crypto.CoinTypeBitcoin, index), nil
	case types.ChainEthereum:
		return crypto.BIP44Path(crypto.CoinTypeEthereum, index), nil
	case types.ChainTron:
		return crypto.BIP44Path(crypto.CoinTypeTron, index), nil
	default:
		return "", apperrors.InvalidConfiguration(fmt.Sprintf("unknown chain %q", chain))
	}
}

// EncodeAddress renders the key's address in the chain's native format.
func EncodeAddress(chain string, key *keyexec.DerivedWalletKey, btcParams *chaincfg.Params) (string, error) {
	switch chain {
	case types.ChainBitcoin:
		addr, err := bitcoin.P2WPKHAddress(key.PublicKeyCompressed, btcParams)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	case types.ChainEthereum, types.ChainTron:
		pub, err := ethcrypto.UnmarshalPubkey(key.PublicKey)
		if err != nil {
			return "", fmt.Errorf("invalid public key: %w", err)
		}
		if chain == types.ChainEthereum {
			return crypto.EthereumAddress(pub).Hex(), nil
		}
		return address.PubkeyToAddress(*pub).String(), nil
	default:
		return "", apperrors.InvalidConfiguration(fmt.Sprintf("unknown chain %q", chain))
	}
}

var (
	_ WalletCreator  = (*SealedMnemonicKeyManager)(nil)
	_ AddressDeriver = (*SealedMnemonicKeyManager)(nil)
)
