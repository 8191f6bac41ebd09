package keyexec

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/better-wallet/custody-core/pkg/errors"
	"github.com/better-wallet/custody-core/pkg/types"
)

func TestSealOpenSecret(t *testing.T) {
	provider, err := NewLocalKMSProvider(testMasterKeyHex)
	require.NoError(t, err)

	ctx := context.Background()
	plaintext := []byte("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")

	sealed, err := SealSecret(ctx, provider, "client-1", plaintext)
	require.NoError(t, err)

	assert.Equal(t, "client-1", sealed.OwnerID)
	assert.Equal(t, "client-1", sealed.EncContext[ContextOwnerID])
	assert.Equal(t, sealed.ID.String(), sealed.EncContext[ContextSecretID])
	assert.Len(t, sealed.IV, 12)
	assert.Len(t, sealed.AuthTag, 16)
	assert.Len(t, sealed.SecretCipher, len(plaintext))
	assert.NotEqual(t, plaintext, sealed.SecretCipher)

	t.Run("opens", func(t *testing.T) {
		opened, err := OpenSecret(ctx, provider, sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	})

	tamper := []struct {
		name   string
		mutate func(s *sealedCopy)
	}{
		{name: "auth tag", mutate: func(s *sealedCopy) { s.tag[0] ^= 0x01 }},
		{name: "ciphertext", mutate: func(s *sealedCopy) { s.ct[len(s.ct)-1] ^= 0x80 }},
		{name: "iv", mutate: func(s *sealedCopy) { s.iv[3] ^= 0x01 }},
		{name: "wrapped data key", mutate: func(s *sealedCopy) { s.dk[len(s.dk)-1] ^= 0x01 }},
		{name: "encryption context", mutate: func(s *sealedCopy) { s.ctx[ContextOwnerID] = "client-2" }},
		{name: "truncated tag", mutate: func(s *sealedCopy) { s.tag = s.tag[:8] }},
	}

	for _, tt := range tamper {
		t.Run("tampered "+tt.name, func(t *testing.T) {
			c := copySealed(sealed)
			tt.mutate(&c)

			opened, err := OpenSecret(ctx, provider, c.secret())
			require.Error(t, err)
			assert.Nil(t, opened)
			assert.True(t, errors.Is(err, apperrors.ErrDecryptionFailed), "got %v", err)
		})
	}
}

type sealedCopy struct {
	base *types.SealedSecret
	ctx  map[string]string
	dk   []byte
	iv   []byte
	tag  []byte
	ct   []byte
}

func copySealed(s *types.SealedSecret) sealedCopy {
	ctx := make(map[string]string, len(s.EncContext))
	for k, v := range s.EncContext {
		ctx[k] = v
	}
	return sealedCopy{
		base: s,
		ctx:  ctx,
		dk:   append([]byte(nil), s.DataKeyCipher...),
		iv:   append([]byte(nil), s.IV...),
		tag:  append([]byte(nil), s.AuthTag...),
		ct:   append([]byte(nil), s.SecretCipher...),
	}
}

func (c sealedCopy) secret() *types.SealedSecret {
	return &types.SealedSecret{
		ID:            c.base.ID,
		OwnerID:       c.base.OwnerID,
		EncContext:    c.ctx,
		DataKeyCipher: c.dk,
		IV:            c.iv,
		AuthTag:       c.tag,
		SecretCipher:  c.ct,
		CreatedAt:     c.base.CreatedAt,
	}
}
