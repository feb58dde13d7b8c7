package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"possync/internal/client"
	"possync/internal/config"
	"possync/internal/connectivity"
	"possync/internal/infra"
	"possync/internal/offline"
	"possync/internal/reconcile"
	"possync/internal/terminal"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.LoadTerminal()
	if err != nil {
		infra.SetupLogger("production", "terminal")
		log.Fatal().Err(err).Msg("failed to load config")
	}
	infra.SetupLogger(cfg.Env, "terminal")
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	queue, err := offline.Open(cfg.QueuePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.QueuePath).Msg("failed to open offline queue")
	}
	defer queue.Close()

	cancelSub := queue.Subscribe(func(pending int64) {
		log.Info().Int64("pending", pending).Msg("offline queue")
	})
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := client.New(cfg.ServerURL, cfg.Token, cfg.SubmitTimeout)
	reconciler := reconcile.New(queue, api, cfg.SubmitTimeout)

	monitor := connectivity.New(api, cfg.ProbeInterval, func() {
		if _, err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("sync on reconnect failed")
		}
	})
	go monitor.Run(ctx)

	terminal.RetryLoop{
		Syncer:   reconciler,
		Link:     monitor,
		Breaker:  api.Breaker(),
		Interval: cfg.RetryInterval,
	}.Start(ctx)

	local := &terminal.API{
		StoreID:   cfg.StoreID,
		CashierID: cfg.CashierID,
		Checkout:  terminal.NewCheckout(queue, api, monitor, cfg.SubmitTimeout),
		Syncer:    reconciler,
		Pending:   queue,
		Link:      monitor,
	}
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           local.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Str("server", cfg.ServerURL).Msg("terminal agent listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("local api error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down terminal agent…")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
