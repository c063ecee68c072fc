package dek

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/registry/encrypt"
)

func loadProvider(t *testing.T, keysCSV string) encrypt.Provider {
	t.Helper()
	p, err := encrypt.Select("dek")
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	cfg.EncryptionKey = keysCSV
	provider, err := p.Loader(context.Background(), &cfg)
	require.NoError(t, err)
	return provider
}

func TestDekRoundTrip(t *testing.T) {
	provider := loadProvider(t, "0123456789abcdef0123456789abcdef")
	ciphertext, err := provider.Encrypt([]byte("hello memory anchor"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("hello memory anchor"), ciphertext)

	plaintext, err := provider.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hello memory anchor", string(plaintext))
}

func TestDekRotation(t *testing.T) {
	oldKey := "0123456789abcdef0123456789abcdef"
	newKey := "fedcba9876543210fedcba9876543210"

	oldProvider := loadProvider(t, oldKey)
	ciphertext, err := oldProvider.Encrypt([]byte("legacy secret"))
	require.NoError(t, err)

	rotated := loadProvider(t, newKey+","+oldKey)
	plaintext, err := rotated.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "legacy secret", string(plaintext))

	newCiphertext, err := rotated.Encrypt([]byte("new secret"))
	require.NoError(t, err)
	back, err := rotated.Decrypt(newCiphertext)
	require.NoError(t, err)
	assert.Equal(t, "new secret", string(back))
}

func TestDekNoKeysConfigured(t *testing.T) {
	p, err := encrypt.Select("dek")
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	cfg.EncryptionKey = ""
	_, err = p.Loader(context.Background(), &cfg)
	assert.Error(t, err)
}

func TestDekNilPassthrough(t *testing.T) {
	provider := loadProvider(t, "0123456789abcdef0123456789abcdef")
	ciphertext, err := provider.Encrypt(nil)
	require.NoError(t, err)
	assert.Nil(t, ciphertext)

	plaintext, err := provider.Decrypt(nil)
	require.NoError(t, err)
	assert.Nil(t, plaintext)
}
