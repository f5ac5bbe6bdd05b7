package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hoopadvisors/courtside/internal/config"
	"github.com/hoopadvisors/courtside/internal/oddsfeed"
	"github.com/hoopadvisors/courtside/internal/reconcile"
	"github.com/hoopadvisors/courtside/internal/scope"
	"github.com/hoopadvisors/courtside/internal/server"
	"github.com/hoopadvisors/courtside/internal/store"
	"github.com/hoopadvisors/courtside/internal/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting courtside")

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		telemetry.Errorf("Bad timezone %q: %v", cfg.Timezone, err)
		os.Exit(1)
	}

	// ── Persistent store ───────────────────────────────────────
	kv, err := store.Open(cfg.StorePath)
	if err != nil {
		telemetry.Errorf("Store open: %v", err)
		os.Exit(1)
	}
	defer kv.Close()

	// ── Odds feed + reconciliation engine ──────────────────────
	if cfg.OddsAPIKey == "" {
		telemetry.Warnf("ODDS_API_KEY unset — reconciliation will fail on feed calls")
	}
	feed := oddsfeed.NewClient(cfg.OddsBaseURL, cfg.OddsAPIKey, cfg.OddsSport, cfg.OddsRegions)
	engine := reconcile.NewEngine(feed, cfg.SnapshotDelay, cfg.MaxSnapshots, loc)

	// ── Scope actors + HTTP surface ────────────────────────────
	registry := scope.NewRegistry(kv, engine)
	srv := server.New(registry, loc, cfg.AccessCode)

	addr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		telemetry.Plainf("courtside: listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		telemetry.Errorf("Server: %v", err)
	}

	telemetry.Infof("Shutting down courtside...")
	registry.Close()

	telemetry.Infof("Shutdown complete  updates=%d  broadcasts=%d  snapshots=%d  graded=%d  persist_errors=%d",
		telemetry.Metrics.UpdatesReceived.Value(),
		telemetry.Metrics.BroadcastsSent.Value(),
		telemetry.Metrics.SnapshotsFetched.Value(),
		telemetry.Metrics.GamesGraded.Value(),
		telemetry.Metrics.PersistErrors.Value(),
	)
}
