// Command migrate applies the embedded database migrations.
//
//	migrate [up|down|status|reset]
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/repairdesk/repairdesk/internal/app"
	"github.com/repairdesk/repairdesk/internal/platform/db"
)

func main() {
	flag.Parse()
	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping migrations")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := db.Migrate(ctx, cfg.PGDSN, command); err != nil {
		logger.Error("migrate", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migrations complete", slog.String("command", command))
}
