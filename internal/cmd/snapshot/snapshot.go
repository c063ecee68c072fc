// Package snapshot implements the "export" and "import" subcommands: the
// JSON-lines backup contract the core exposes to an external cloud
// backup/restore collaborator.
package snapshot

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/bao243092078-crypto/memory-anchor/internal/cmd/boot"
	"github.com/bao243092078-crypto/memory-anchor/internal/cmd/cliflags"
	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/kernel"
	internalsnapshot "github.com/bao243092078-crypto/memory-anchor/internal/snapshot"

	// Import all plugins to trigger init() registration.
	_ "github.com/bao243092078-crypto/memory-anchor/internal/plugin/embed/disabled"
	_ "github.com/bao243092078-crypto/memory-anchor/internal/plugin/embed/local"
	_ "github.com/bao243092078-crypto/memory-anchor/internal/plugin/embed/openai"
	_ "github.com/bao243092078-crypto/memory-anchor/internal/plugin/encrypt/dek"
	_ "github.com/bao243092078-crypto/memory-anchor/internal/plugin/encrypt/plain"
	_ "github.com/bao243092078-crypto/memory-anchor/internal/plugin/metadata/postgres"
	_ "github.com/bao243092078-crypto/memory-anchor/internal/plugin/metadata/sqlite"
	_ "github.com/bao243092078-crypto/memory-anchor/internal/plugin/vector/pgvector"
	_ "github.com/bao243092078-crypto/memory-anchor/internal/plugin/vector/qdrant"
	_ "github.com/bao243092078-crypto/memory-anchor/internal/plugin/vector/sqlitevec"
)

// ExportCommand returns the "export" sub-command: streams every point in
// the active project's collection to stdout (or --out) as JSON-lines.
func ExportCommand() *cli.Command {
	cfg := config.DefaultConfig()
	var outPath string
	return &cli.Command{
		Name:  "export",
		Usage: "Export the active project's collection as JSON-lines",
		Flags: append(cliflags.Common(&cfg), &cli.StringFlag{
			Name:        "out",
			Category:    "Snapshot:",
			Destination: &outPath,
			Usage:       "Output file; stdout when unset",
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			k, err := bootKernel(ctx, cfg)
			if err != nil {
				return err
			}
			w := os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			n, err := internalsnapshot.Export(ctx, k, w)
			if err != nil {
				return err
			}
			log.Info("export complete", "records", n)
			return nil
		},
	}
}

// ImportCommand returns the "import" sub-command: upserts every line of a
// JSON-lines snapshot (read from stdin or --in) back into the collection.
// Idempotent: re-importing the same stream produces no duplicates.
func ImportCommand() *cli.Command {
	cfg := config.DefaultConfig()
	var inPath string
	return &cli.Command{
		Name:  "import",
		Usage: "Import a JSON-lines snapshot into the active project's collection",
		Flags: append(cliflags.Common(&cfg), &cli.StringFlag{
			Name:        "in",
			Category:    "Snapshot:",
			Destination: &inPath,
			Usage:       "Input file; stdin when unset",
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			k, err := bootKernel(ctx, cfg)
			if err != nil {
				return err
			}
			r := os.Stdin
			if inPath != "" {
				f, err := os.Open(inPath)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			n, err := internalsnapshot.Import(ctx, k, r)
			if err != nil {
				return err
			}
			log.Info("import complete", "records", n)
			return nil
		},
	}
}

func bootKernel(ctx context.Context, cfg config.Config) (*kernel.Kernel, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	_, deps, err := boot.Deps(ctx, cfg, workDir)
	if err != nil {
		return nil, err
	}
	return kernel.GetKernel(deps)
}
