package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// BIP-44 coin types
const (
	CoinTypeBitcoin  uint32 = 0
	CoinTypeEthereum uint32 = 60
	CoinTypeTron     uint32 = 195
)

// BIP44Path returns m/44'/coin'/0'/0/index.
func BIP44Path(coinType, index uint32) string {
	return fmt.Sprintf("m/44'/%d'/0'/0/%d", coinType, index)
}

// BIP84Path returns the native segwit path m/84'/coin'/0'/0/index.
func BIP84Path(coinType, index uint32) string {
	return fmt.Sprintf("m/84'/%d'/0'/0/%d", coinType, index)
}

// ParseDerivationPath converts "m/44'/60'/0'/0/0" into child indices, adding
// hdkeychain.HardenedKeyStart for hardened segments (' or h suffix).
func ParseDerivationPath(path string) ([]uint32, error) {
	if path == "" {
		return nil, errors.New("empty path")
	}
	if !strings.HasPrefix(path, "m/") {
		return nil, errors.New("path must start with m/")
	}

	parts := strings.Split(path[2:], "/")
	indices := make([]uint32, 0, len(parts))
	for _, p := range parts {
		hardened := false
		if strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h") {
			hardened = true
			p = p[:len(p)-1]
		}
		num, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid path segment %q: %w", p, err)
		}
		if num >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("path segment %d out of range", num)
		}
		idx := uint32(num)
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

// ZeroBytes overwrites b with zeros.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroPrivateKey clears the scalar of an ECDSA key, wiping the limbs in place
// before resetting its length.
func ZeroPrivateKey(key *ecdsa.PrivateKey) {
	if key == nil || key.D == nil {
		return
	}
	limbs := key.D.Bits()
	for i := range limbs {
		limbs[i] = 0
	}
	key.D.SetInt64(0)
}

// EthereumAddress is the EIP-55 account controlled by pub.
func EthereumAddress(pub *ecdsa.PublicKey) common.Address {
	return crypto.PubkeyToAddress(*pub)
}

// PrivateKeyFromBytes parses a 32-byte secp256k1 scalar.
func PrivateKeyFromBytes(b []byte) (*ecdsa.PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	return crypto.ToECDSA(b)
}
