// Package serve implements the "serve" subcommand: boot the Kernel
// singleton, run startup recovery, and block while the background TTL/
// eviction loop runs. There is no HTTP or RPC listener — this surface is
// out of scope, so serve is a long-lived worker process only.
package serve

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/bao243092078-crypto/memory-anchor/internal/cmd/boot"
	"github.com/bao243092078-crypto/memory-anchor/internal/cmd/cliflags"
	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/kernel"
	"github.com/bao243092078-crypto/memory-anchor/internal/observability"
	"github.com/bao243092078-crypto/memory-anchor/internal/service"
	"github.com/bao243092078-crypto/memory-anchor/internal/session"

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

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Boot the memory kernel and run its background maintenance loops",
		Flags: cliflags.Common(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	ctx, deps, err := boot.Deps(ctx, cfg, workDir)
	if err != nil {
		return err
	}

	if metricLabels, err := observability.ParseLabels(deps.Config.MetricsLabels); err != nil {
		log.Warn("ignoring invalid --metrics-labels", "err", err)
	} else {
		observability.Init(metricLabels)
	}

	k, err := kernel.GetKernel(deps)
	if err != nil {
		return err
	}

	if err := service.RunRecovery(ctx, k); err != nil {
		log.Error("startup recovery failed", "err", err)
	}

	ttl := service.NewPendingTTLService(k)
	go ttl.Start(ctx)

	// The serve process runs under its own session so hooks watching
	// session.started/session.ended see the process lifetime, and the
	// archive records how many memory ops this run performed.
	tracker := session.Start(k, "")
	k.Subscribe(func(name string, payload map[string]interface{}) {
		switch name {
		case "memory.added", "memory.deleted":
			tracker.RecordMemoryOp()
		}
	})

	log.Info("memory anchor serving", "project", deps.Config.ProjectID, "session", tracker.ID())
	<-ctx.Done()
	log.Info("shutting down")
	if err := tracker.End(context.Background(), "serve shutdown"); err != nil {
		log.Error("failed to archive serve session", "err", err)
	}
	return nil
}
