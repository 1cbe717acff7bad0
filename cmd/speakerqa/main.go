// Command speakerqa is the main entry point for the speaker quality server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tan-res-space/rag-interface/internal/api"
	"github.com/tan-res-space/rag-interface/internal/bucket"
	"github.com/tan-res-space/rag-interface/internal/config"
	"github.com/tan-res-space/rag-interface/internal/engine"
	"github.com/tan-res-space/rag-interface/internal/events"
	"github.com/tan-res-space/rag-interface/internal/health"
	"github.com/tan-res-space/rag-interface/internal/observe"
	"github.com/tan-res-space/rag-interface/internal/quality"
	"github.com/tan-res-space/rag-interface/internal/ser"
	"github.com/tan-res-space/rag-interface/internal/store"
)

const (
	defaultListenAddr = ":8080"
	shutdownTimeout   = 15 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "speakerqa: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "speakerqa: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	slog.Info("speakerqa starting",
		"config", *configPath,
		"listen_addr", listenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "speakerqa"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	// ── Repository ────────────────────────────────────────────────────────────
	var repo store.Repository
	checkers := []health.Checker{}

	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to create database pool", "err", err)
			return 1
		}
		defer pool.Close()

		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "err", err)
			return 1
		}
		repo = pg
		checkers = append(checkers, health.Checker{Name: "database", Check: pool.Ping})
		slog.Info("using postgres repository")
	} else {
		repo = store.NewMemory()
		slog.Warn("no postgres_dsn configured — using in-memory repository, state is lost on restart")
	}

	// ── Event publisher ───────────────────────────────────────────────────────
	var publisher events.Publisher = events.Noop{}
	if path := cfg.Events.JournalPath; path != "" {
		publisher = events.NewJournal(path)
		slog.Info("journaling domain events", "path", path)
	}

	// ── Service ───────────────────────────────────────────────────────────────
	svc := engine.New(repo,
		engine.WithScorer(newScorer(cfg.Scoring)),
		engine.WithAggregator(newAggregator(cfg.Aggregation)),
		engine.WithClassifier(newClassifier(cfg.Classifier)),
		engine.WithWorkflow(newWorkflow(cfg.Workflow)),
		engine.WithPublisher(publisher),
		engine.WithMetrics(metrics),
	)

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	api.NewHandler(svc).Register(mux)

	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Pipeline wiring ───────────────────────────────────────────────────────────

func newScorer(cfg config.ScoringConfig) *ser.Scorer {
	var opts []ser.Option
	if cfg.MoveWindow > 0 {
		opts = append(opts, ser.WithMoveWindow(cfg.MoveWindow))
	}
	if cfg.HighThreshold > 0 && cfg.AcceptableThreshold > 0 {
		opts = append(opts, ser.WithQualityThresholds(cfg.HighThreshold, cfg.AcceptableThreshold))
	}
	if cfg.PhoneticThreshold > 0 {
		opts = append(opts, ser.WithPhoneticThreshold(cfg.PhoneticThreshold))
	}
	return ser.New(opts...)
}

func newAggregator(cfg config.AggregationConfig) *quality.Aggregator {
	var opts []quality.AggregatorOption
	if cfg.WindowSize > 0 {
		opts = append(opts, quality.WithWindowSize(cfg.WindowSize))
	}
	if cfg.TrendDelta > 0 {
		opts = append(opts, quality.WithTrendDelta(cfg.TrendDelta))
	}
	return quality.NewAggregator(opts...)
}

func newClassifier(cfg config.ClassifierConfig) *bucket.Classifier {
	var opts []bucket.ClassifierOption
	if cfg.NoTouchMax > 0 && cfg.LowTouchMax > 0 && cfg.MediumTouchMax > 0 {
		opts = append(opts, bucket.WithBucketThresholds(cfg.NoTouchMax, cfg.LowTouchMax, cfg.MediumTouchMax))
	}
	if cfg.MinSampleSize > 0 {
		opts = append(opts, bucket.WithMinSampleSize(cfg.MinSampleSize))
	}
	return bucket.NewClassifier(opts...)
}

func newWorkflow(cfg config.WorkflowConfig) *bucket.Workflow {
	var opts []bucket.WorkflowOption
	if cfg.MinConfidence > 0 {
		opts = append(opts, bucket.WithMinConfidence(cfg.MinConfidence))
	}
	if cfg.AutoApprove {
		threshold := cfg.AutoApproveThreshold
		if threshold <= 0 {
			threshold = 0.9
		}
		opts = append(opts, bucket.WithAutoApprove(threshold))
	}
	return bucket.NewWorkflow(opts...)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
