// Package migrate implements the "migrate" subcommand: run every registered
// store/vector migrator once and exit.
package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/bao243092078-crypto/memory-anchor/internal/cmd/cliflags"
	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	registrymigrate "github.com/bao243092078-crypto/memory-anchor/internal/registry/migrate"

	// Import plugins to trigger init() registration of their migrators.
	_ "github.com/bao243092078-crypto/memory-anchor/internal/plugin/metadata/postgres"
	_ "github.com/bao243092078-crypto/memory-anchor/internal/plugin/metadata/sqlite"
	_ "github.com/bao243092078-crypto/memory-anchor/internal/plugin/vector/pgvector"
	_ "github.com/bao243092078-crypto/memory-anchor/internal/plugin/vector/sqlitevec"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run all registered metadata and vector store migrations",
		Flags: cliflags.Common(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx = config.WithContext(ctx, &cfg)
			log.Info("running migrations")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("all migrations completed")
			return nil
		},
	}
}
