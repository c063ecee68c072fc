// Package disabled registers the "none" Embedder, which always fails. It
// lets a deployment explicitly disable embedding (e.g. metadata-only
// migrations) while still satisfying the registry contract.
package disabled

import (
	"context"

	"github.com/bao243092078-crypto/memory-anchor/internal/kernelerr"
	"github.com/bao243092078-crypto/memory-anchor/internal/registry/embed"
)

func init() {
	embed.Register(embed.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (embed.Embedder, error) {
			return &embedder{}, nil
		},
	})
}

type embedder struct{}

// EmbedTexts always fails: selecting "none" is a deployment choice, not a
// transient backend outage, so the failure is reported as a non-retryable
// InvalidArgument rather than kernelerr.StorageUnavailable.
func (e *embedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	return nil, &kernelerr.InvalidArgument{Field: "embedder", Msg: "embedding is disabled for this deployment"}
}

func (e *embedder) ModelName() string { return "none" }
func (e *embedder) Dimension() int    { return 0 }

var _ embed.Embedder = (*embedder)(nil)
