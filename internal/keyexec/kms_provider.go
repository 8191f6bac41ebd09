package keyexec

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	vault "github.com/hashicorp/vault/api"
	"golang.org/x/crypto/hkdf"

	"github.com/better-wallet/custody-core/internal/crypto"
)

// DataKeySize is the length of every data key handed out by a provider (AES-256).
const DataKeySize = 32

// KMSProvider issues and unwraps data keys. Every wrapped key is bound to the
// encryption context it was generated under; unwrapping with a different
// context must fail.
type KMSProvider interface {
	// GenerateDataKey returns a fresh data key in plaintext and wrapped form.
	GenerateDataKey(ctx context.Context, encContext map[string]string) (plaintext, wrapped []byte, err error)

	// DecryptDataKey unwraps a data key previously returned by GenerateDataKey.
	DecryptDataKey(ctx context.Context, wrapped []byte, encContext map[string]string) ([]byte, error)

	// Provider returns the provider name (e.g., "local", "aws-kms", "vault")
	Provider() string
}

// KMSProviderType represents supported KMS providers
type KMSProviderType string

const (
	// KMSProviderLocal wraps data keys under a key derived from a local master key
	KMSProviderLocal KMSProviderType = "local"

	// KMSProviderAWSKMS uses AWS KMS GenerateDataKey/Decrypt
	KMSProviderAWSKMS KMSProviderType = "aws-kms"

	// KMSProviderVault uses HashiCorp Vault Transit engine
	KMSProviderVault KMSProviderType = "vault"
)

// KMSConfig contains configuration for KMS providers
type KMSConfig struct {
	Provider string

	// Local provider config
	LocalMasterKeyHex string

	// AWS KMS config
	AWSKMSKeyID  string
	AWSKMSRegion string

	// Vault config
	VaultAddress    string
	VaultToken      string
	VaultTransitKey string
}

// canonicalContext renders an encryption context deterministically so it can
// be used as associated data.
func canonicalContext(encContext map[string]string) []byte {
	keys := make([]string, 0, len(encContext))
	for k := range encContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(encContext[k])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// LocalKMSProvider wraps data keys with AES-GCM under a key-encryption key
// derived from a local master key. Suitable for development and single-host
// deployments.
type LocalKMSProvider struct {
	kek []byte
}

// NewLocalKMSProvider creates a local provider from a hex-encoded master key of
// at least 32 bytes.
func NewLocalKMSProvider(masterKeyHex string) (*LocalKMSProvider, error) {
	if masterKeyHex == "" {
		return nil, fmt.Errorf("master key is required for local KMS provider")
	}

	master, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("master key must be hex encoded: %w", err)
	}
	if len(master) < 32 {
		return nil, fmt.Errorf("master key must be at least 32 bytes, got %d", len(master))
	}
	defer crypto.ZeroBytes(master)

	kek := make([]byte, DataKeySize)
	r := hkdf.New(sha256.New, master, nil, []byte("custody-core/local-kms/kek"))
	if _, err := io.ReadFull(r, kek); err != nil {
		return nil, fmt.Errorf("failed to derive key-encryption key: %w", err)
	}

	return &LocalKMSProvider{kek: kek}, nil
}

// GenerateDataKey creates a random data key and wraps it as nonce||ciphertext.
func (p *LocalKMSProvider) GenerateDataKey(ctx context.Context, encContext map[string]string) ([]byte, []byte, error) {
	dataKey := make([]byte, DataKeySize)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return nil, nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	gcm, err := newGCM(p.kek)
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	wrapped := gcm.Seal(nonce, nonce, dataKey, canonicalContext(encContext))
	return dataKey, wrapped, nil
}

// DecryptDataKey unwraps a data key; a context mismatch fails authentication.
func (p *LocalKMSProvider) DecryptDataKey(ctx context.Context, wrapped []byte, encContext map[string]string) ([]byte, error) {
	gcm, err := newGCM(p.kek)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(wrapped) < nonceSize {
		return nil, fmt.Errorf("wrapped key too short")
	}

	nonce, ciphertext := wrapped[:nonceSize], wrapped[nonceSize:]
	dataKey, err := gcm.Open(nil, nonce, ciphertext, canonicalContext(encContext))
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap data key: %w", err)
	}
	return dataKey, nil
}

// Provider returns the provider name
func (p *LocalKMSProvider) Provider() string {
	return string(KMSProviderLocal)
}

// AWSKMSProvider implements KMSProvider using AWS KMS
type AWSKMSProvider struct {
	keyID  string
	region string
	client *kms.Client
}

// NewAWSKMSProvider creates a new AWS KMS provider
func NewAWSKMSProvider(ctx context.Context, keyID, region string) (*AWSKMSProvider, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	// Default credential chain: env vars, shared config, IAM role.
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSKMSProvider{
		keyID:  keyID,
		region: region,
		client: kms.NewFromConfig(cfg),
	}, nil
}

// GenerateDataKey asks KMS for an AES-256 data key bound to the encryption context.
func (p *AWSKMSProvider) GenerateDataKey(ctx context.Context, encContext map[string]string) ([]byte, []byte, error) {
	output, err := p.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:             aws.String(p.keyID),
		KeySpec:           kmstypes.DataKeySpecAes256,
		EncryptionContext: encContext,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("aws kms generate data key failed: %w", err)
	}
	return output.Plaintext, output.CiphertextBlob, nil
}

// DecryptDataKey unwraps a data key with KMS Decrypt.
func (p *AWSKMSProvider) DecryptDataKey(ctx context.Context, wrapped []byte, encContext map[string]string) ([]byte, error) {
	output, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:             aws.String(p.keyID),
		CiphertextBlob:    wrapped,
		EncryptionContext: encContext,
	})
	if err != nil {
		return nil, fmt.Errorf("aws kms decrypt failed: %w", err)
	}
	return output.Plaintext, nil
}

// Provider returns the provider name
func (p *AWSKMSProvider) Provider() string {
	return string(KMSProviderAWSKMS)
}

// VaultProvider implements KMSProvider using HashiCorp Vault Transit engine.
// The encryption context is passed as associated_data so the transit key
// authenticates it.
type VaultProvider struct {
	transitKey string
	client     *vault.Client
}

// NewVaultProvider creates a new Vault provider
func NewVaultProvider(address, token, transitKey string) (*VaultProvider, error) {
	if address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if token == "" {
		return nil, fmt.Errorf("vault token is required")
	}
	if transitKey == "" {
		return nil, fmt.Errorf("vault transit key name is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultProvider{
		transitKey: transitKey,
		client:     client,
	}, nil
}

// GenerateDataKey creates a random data key locally and wraps it with transit/encrypt.
func (p *VaultProvider) GenerateDataKey(ctx context.Context, encContext map[string]string) ([]byte, []byte, error) {
	dataKey := make([]byte, DataKeySize)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return nil, nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	path := fmt.Sprintf("transit/encrypt/%s", p.transitKey)
	secret, err := p.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"plaintext":       base64.StdEncoding.EncodeToString(dataKey),
		"associated_data": base64.StdEncoding.EncodeToString(canonicalContext(encContext)),
	})
	if err != nil {
		crypto.ZeroBytes(dataKey)
		return nil, nil, fmt.Errorf("vault transit encrypt failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		crypto.ZeroBytes(dataKey)
		return nil, nil, fmt.Errorf("vault transit encrypt returned empty response")
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		crypto.ZeroBytes(dataKey)
		return nil, nil, fmt.Errorf("vault transit encrypt: ciphertext not found in response")
	}

	// Stored as the vault:v1:... string.
	return dataKey, []byte(ciphertext), nil
}

// DecryptDataKey unwraps a data key with transit/decrypt.
func (p *VaultProvider) DecryptDataKey(ctx context.Context, wrapped []byte, encContext map[string]string) ([]byte, error) {
	path := fmt.Sprintf("transit/decrypt/%s", p.transitKey)
	secret, err := p.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext":      string(wrapped),
		"associated_data": base64.StdEncoding.EncodeToString(canonicalContext(encContext)),
	})
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault transit decrypt returned empty response")
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault transit decrypt: plaintext not found in response")
	}

	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt: failed to decode plaintext: %w", err)
	}
	return plaintext, nil
}

// Provider returns the provider name
func (p *VaultProvider) Provider() string {
	return string(KMSProviderVault)
}

// NewKMSProvider creates a KMSProvider based on the configuration
func NewKMSProvider(ctx context.Context, cfg *KMSConfig) (KMSProvider, error) {
	provider := KMSProviderType(cfg.Provider)

	switch provider {
	case KMSProviderLocal, "":
		return NewLocalKMSProvider(cfg.LocalMasterKeyHex)

	case KMSProviderAWSKMS:
		return NewAWSKMSProvider(ctx, cfg.AWSKMSKeyID, cfg.AWSKMSRegion)

	case KMSProviderVault:
		return NewVaultProvider(cfg.VaultAddress, cfg.VaultToken, cfg.VaultTransitKey)

	default:
		return nil, fmt.Errorf("unsupported KMS provider: %s (supported: %s, %s, %s)",
			provider, KMSProviderLocal, KMSProviderAWSKMS, KMSProviderVault)
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

var (
	_ KMSProvider = (*LocalKMSProvider)(nil)
	_ KMSProvider = (*AWSKMSProvider)(nil)
	_ KMSProvider = (*VaultProvider)(nil)
)
