package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bao243092078-crypto/memory-anchor/internal/cmd/migrate"
	"github.com/bao243092078-crypto/memory-anchor/internal/cmd/serve"
	"github.com/bao243092078-crypto/memory-anchor/internal/cmd/snapshot"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "memory-anchor",
		Usage: "Persistent, queryable memory substrate for AI agents",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			snapshot.ExportCommand(),
			snapshot.ImportCommand(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
