package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"material-matcher/internal/config"
	"material-matcher/internal/matching/cache"
	matchHnd "material-matcher/internal/matching/handler"
	"material-matcher/internal/metrics"
	serverhttp "material-matcher/server/http"
)

func main() {
	cfg := config.Load()
	logger := config.SetupLogger(cfg)

	mcfg, err := cfg.Match()
	if err != nil {
		logger.Fatal().Err(err).Msg("match config")
	}

	scores, err := cache.New(cache.Config{Capacity: mcfg.CacheCapacity, TTL: mcfg.CacheTTL})
	if err != nil {
		logger.Fatal().Err(err).Msg("score cache")
	}
	if err := metrics.CacheSizeFunc(prometheus.DefaultRegisterer, scores.Len); err != nil {
		logger.Warn().Err(err).Msg("cache gauge")
	}

	runs, err := matchHnd.NewRegistry(cfg.RunsKept)
	if err != nil {
		logger.Fatal().Err(err).Msg("run registry")
	}

	base, stopRuns := context.WithCancel(context.Background())
	defer stopRuns()
	h, err := matchHnd.New(mcfg, scores, runs, logger,
		matchHnd.WithBaseContext(base),
		matchHnd.WithMaxUpload(int64(cfg.MaxUploadMB)<<20),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("handler")
	}

	r := serverhttp.NewRouter(cfg, logger, h, scores)
	srv := &http.Server{Addr: cfg.Addr(), Handler: r, ReadHeaderTimeout: 10 * time.Second}
	logger.Info().
		Str("addr", cfg.Addr()).
		Str("weights", mcfg.Weights.String()).
		Float64("threshold", mcfg.Threshold).
		Int("workers", mcfg.Workers).
		Msg("server starting")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	h.Shutdown(ctx)
	stopRuns()
	logger.Info().Msg("bye")
}
