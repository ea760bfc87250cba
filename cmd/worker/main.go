package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelgate/backend/internal/config"
	"github.com/modelgate/backend/internal/db"
	"github.com/modelgate/backend/internal/logging"
	"github.com/modelgate/backend/internal/repositories"
	"go.uber.org/zap"
)

// nonceRetention is how long spent or expired sign-in nonces are kept for
// inspection before they are deleted.
const nonceRetention = 24 * time.Hour

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	walletRepo := repositories.NewWalletRepo(pool)

	log.Info("worker started")

	nonceTicker := time.NewTicker(15 * time.Minute)
	defer nonceTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runNoncePurge(ctx, walletRepo, log)
	for {
		select {
		case <-nonceTicker.C:
			runNoncePurge(ctx, walletRepo, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runNoncePurge(ctx context.Context, walletRepo *repositories.WalletRepo, log *zap.Logger) {
	n, err := walletRepo.PurgeNonces(ctx, time.Now().Add(-nonceRetention))
	if err != nil {
		log.Error("failed to purge sign-in nonces", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("purged sign-in nonces", zap.Int64("count", n))
	}
}
