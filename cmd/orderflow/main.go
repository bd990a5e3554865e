package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"orderflow-engine/internal/broadcast"
	"orderflow-engine/internal/cache"
	"orderflow-engine/internal/config"
	"orderflow-engine/internal/footprint"
	"orderflow-engine/internal/httpapi"
	"orderflow-engine/internal/metrics"
	"orderflow-engine/internal/oi"
	"orderflow-engine/internal/reset"
	"orderflow-engine/internal/router"
	"orderflow-engine/internal/snapshot"
	"orderflow-engine/internal/state"
	"orderflow-engine/internal/upstream"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()

	params := footprint.NewParams(
		int64(cfg.CandleSeconds)*1000,
		cfg.ImbalanceRatio,
		cfg.MaxCandlesPerSymbol,
		cfg.MaxLevelsPerCandle,
	)

	appState := state.New(params, cfg.MaxEngines)
	appState.SetToken(cfg.UpstreamToken)
	broadcaster := broadcast.New(appState, cfg.BroadcastMinInterval, cfg.BroadcastCandleLimit)
	tickRouter := router.New(appState, broadcaster, cfg.GCIntervalTicks)

	snapshots := snapshot.New(cfg.SnapshotDir)
	resetScheduler := reset.New(appState, snapshots)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First reset check: if this is the first run it only stamps today's
	// date, then startup restore repopulates engines (spec.md §4.8/§4.10).
	resetScheduler.CheckOnce(time.Now())
	snapshots.RestoreAll(appState, reset.TodayBoundaryMs(time.Now()), cfg.MaxCandlesPerSymbol)

	oiCache := cache.New(cfg.RedisAddr, 30*time.Second)
	defer oiCache.Close()

	gatedBroadcast := func(symbol string) {
		if broadcaster.ShouldBroadcast(symbol, time.Now().UnixMilli()) {
			broadcaster.BroadcastSymbol(symbol)
		}
	}

	oiPoller := oi.New(appState, cfg.UpstreamAPIBase, cfg.UpstreamClientID, cfg.OIPollInterval, oiCache, gatedBroadcast)

	creds := upstream.Credentials{
		WSURL:    cfg.UpstreamWSURL,
		ClientID: cfg.UpstreamClientID,
	}
	synthetic := upstream.NewSyntheticFeed(appState, time.Now().UnixNano(), gatedBroadcast)
	session := upstream.New(creds, appState, tickRouter.Route, synthetic)

	go session.Run(ctx)
	go oiPoller.Run(ctx)
	go resetScheduler.Run(ctx)
	go snapshots.RunPeriodic(appState.Engines, 60*time.Second, 300*time.Second, ctx.Done())
	go reportEngineCount(ctx, appState)

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	httpapi.New(cfg, params, appState, broadcaster).Register(e)

	go func() {
		log.Printf("orderflow engine listening on port %s", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	snapshots.WriteAll(appState.Engines())
	log.Println("server exited")
}

// reportEngineCount keeps the engines-active gauge current for operators
// watching /metrics without needing a per-subscribe counter update.
func reportEngineCount(ctx context.Context, st *state.AppState) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.EnginesActive.Set(float64(st.SymbolCount()))
		}
	}
}
