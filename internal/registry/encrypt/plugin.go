// Package encrypt defines the pluggable encryption provider used to protect
// sensitive text fields (checklist content, pending-memory content) at rest
// in the Metadata Store.
package encrypt

import (
	"context"
	"fmt"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
)

// Provider is the SPI for pluggable encryption providers. Implementations
// encrypt with their primary key and accept ciphertext produced by any key
// in their configured rotation set on decrypt.
type Provider interface {
	// ID returns the provider identifier (e.g. "plain", "dek").
	ID() string

	// Encrypt returns ciphertext for plaintext, or plaintext unchanged for
	// the no-op "plain" provider.
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt reverses Encrypt, trying each configured key in order.
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Plugin bundles a provider name with its loader function.
type Plugin struct {
	Name   string
	Loader func(ctx context.Context, cfg *config.Config) (Provider, error)
}

var plugins []Plugin

// Register adds an encryption provider plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered provider names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the Plugin for the given name.
func Select(name string) (Plugin, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p, nil
		}
	}
	return Plugin{}, fmt.Errorf("unknown encryption provider %q; registered: %v", name, Names())
}
