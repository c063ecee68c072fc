// Package dek registers the "dek" (data-encryption-key) provider: AES-GCM
// (AES-128, -192 or -256 by key length) with nonce-prefixed ciphertext and support for a primary-plus-legacy key
// rotation list so keys can be rotated without re-encrypting stored rows.
package dek

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/registry/encrypt"
)

func init() {
	encrypt.Register(encrypt.Plugin{
		Name: "dek",
		Loader: func(_ context.Context, cfg *config.Config) (encrypt.Provider, error) {
			keys, err := cfg.EncryptionKeys()
			if err != nil {
				return nil, fmt.Errorf("dek: %w", err)
			}
			if len(keys) == 0 {
				return nil, fmt.Errorf("dek: no encryption keys configured")
			}
			gcms := make([]cipher.AEAD, 0, len(keys))
			for _, key := range keys {
				gcm, err := newGCM(key)
				if err != nil {
					return nil, fmt.Errorf("dek: %w", err)
				}
				gcms = append(gcms, gcm)
			}
			return &dekProvider{gcms: gcms}, nil
		},
	})
}

// dekProvider encrypts with gcms[0] and decrypts by trying each gcm in
// order, so ciphertext produced under an older primary key stays readable
// during a rotation.
type dekProvider struct {
	gcms []cipher.AEAD
}

func (p *dekProvider) ID() string { return "dek" }

func (p *dekProvider) Encrypt(plaintext []byte) ([]byte, error) {
	if plaintext == nil {
		return nil, nil
	}
	gcm := p.gcms[0]
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("dek: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (p *dekProvider) Decrypt(ciphertext []byte) ([]byte, error) {
	if ciphertext == nil {
		return nil, nil
	}
	var lastErr error
	for _, gcm := range p.gcms {
		nonceSize := gcm.NonceSize()
		if len(ciphertext) < nonceSize {
			lastErr = fmt.Errorf("dek: ciphertext too short")
			continue
		}
		nonce, payload := ciphertext[:nonceSize], ciphertext[nonceSize:]
		plaintext, err := gcm.Open(nil, nonce, payload, nil)
		if err == nil {
			return plaintext, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("dek: decrypt failed under all configured keys: %w", lastErr)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
