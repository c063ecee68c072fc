// Package boot assembles a Kernel's collaborators from a resolved Config,
// the shared sequence the serve, export and import subcommands run before
// they can touch the Memory Kernel.
package boot

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/kernel"
	"github.com/bao243092078-crypto/memory-anchor/internal/project"
	registryembed "github.com/bao243092078-crypto/memory-anchor/internal/registry/embed"
	"github.com/bao243092078-crypto/memory-anchor/internal/registry/encrypt"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
	registrymigrate "github.com/bao243092078-crypto/memory-anchor/internal/registry/migrate"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

// Deps resolves cfg through the Project Resolver, runs migrations when
// configured, and loads the vector store, metadata store and embedder
// plugins named by cfg, returning a kernel.Deps ready for kernel.GetKernel.
func Deps(ctx context.Context, cfg config.Config, workDir string) (context.Context, kernel.Deps, error) {
	cfg = project.Resolve(cfg, workDir)
	ctx = config.WithContext(ctx, &cfg)

	log.Info("booting memory anchor",
		"project", cfg.ProjectID,
		"vector", cfg.VectorBackend,
		"metadata", cfg.MetadataBackend,
		"embedder", cfg.EmbedderModel,
	)

	if cfg.MigrateAtStart {
		if err := registrymigrate.RunAll(ctx); err != nil {
			return ctx, kernel.Deps{}, fmt.Errorf("migrations failed: %w", err)
		}
	}

	vectorLoader, err := registryvector.Select(cfg.VectorBackend)
	if err != nil {
		return ctx, kernel.Deps{}, err
	}
	vector, err := vectorLoader(ctx)
	if err != nil {
		return ctx, kernel.Deps{}, fmt.Errorf("failed to initialize vector store %q: %w", cfg.VectorBackend, err)
	}

	metadataLoader, err := registrymetadata.Select(cfg.MetadataBackend)
	if err != nil {
		return ctx, kernel.Deps{}, err
	}
	metadata, err := metadataLoader(ctx)
	if err != nil {
		return ctx, kernel.Deps{}, fmt.Errorf("failed to initialize metadata store %q: %w", cfg.MetadataBackend, err)
	}
	// Local-file backends (sqlite) have no registrymigrate entry of their
	// own, since they need no ordering against a shared Postgres schema;
	// Migrate is idempotent, so calling it here covers them unconditionally.
	if err := metadata.Migrate(ctx); err != nil {
		return ctx, kernel.Deps{}, fmt.Errorf("metadata schema migration failed: %w", err)
	}

	embedLoader, err := registryembed.Select(cfg.EmbedderModel)
	if err != nil {
		return ctx, kernel.Deps{}, err
	}
	embedder, err := embedLoader(ctx)
	if err != nil {
		return ctx, kernel.Deps{}, fmt.Errorf("failed to initialize embedder %q: %w", cfg.EmbedderModel, err)
	}

	encryptPlugin, err := encrypt.Select(cfg.EncryptionProvider)
	if err != nil {
		return ctx, kernel.Deps{}, err
	}
	provider, err := encryptPlugin.Loader(ctx, &cfg)
	if err != nil {
		return ctx, kernel.Deps{}, fmt.Errorf("failed to initialize encryption provider %q: %w", cfg.EncryptionProvider, err)
	}
	metadata = encrypt.Wrap(metadata, provider)

	return ctx, kernel.Deps{Config: cfg, Vector: vector, Metadata: metadata, Embedder: embedder}, nil
}
