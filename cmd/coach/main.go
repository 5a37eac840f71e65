package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/epicsales/coach/internal/catalog"
	"github.com/epicsales/coach/internal/config"
	"github.com/epicsales/coach/internal/conflict"
	"github.com/epicsales/coach/internal/detector"
	"github.com/epicsales/coach/internal/domain"
	"github.com/epicsales/coach/internal/dynamics"
	"github.com/epicsales/coach/internal/engine"
	"github.com/epicsales/coach/internal/generation"
	"github.com/epicsales/coach/internal/phase"
	"github.com/epicsales/coach/internal/scoring"
	"github.com/epicsales/coach/internal/server"
	"github.com/epicsales/coach/internal/store/memory"
	"github.com/epicsales/coach/internal/store/postgres"
	redisstore "github.com/epicsales/coach/internal/store/redis"
)

// repositories is the store aggregate both backends provide.
type repositories interface {
	Sessions() domain.SessionRepository
	Artifacts() domain.ArtifactRepository
	Conflicts() domain.ConflictRepository
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("COACH_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("COACH_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Connect the configured store backend.
	var store repositories
	switch cfg.Store {
	case "memory":
		store = memory.New()
		log.Warn().Msg("using in-memory store; sessions are lost on restart")
	default:
		if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
			return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
		}
		pg, pgErr := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
		if pgErr != nil {
			return pgErr
		}
		defer pg.Close()
		store = pg
	}

	// Connect to Redis.
	pubsub, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	// Load the technique catalog (embedded, or a file override for staging).
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	for _, w := range cat.Warnings() {
		log.Warn().Str("warning", w).Msg("catalog loaded with warning")
	}

	// Conflict reporter, fed by the detector and the engine.
	reporter := conflict.NewReporter(conflict.Config{
		ExpectedWeightSum:    cfg.Conflict.ExpectedWeightSum,
		BroadPatternMinTurns: cfg.Conflict.BroadPatternMinTurns,
		BroadPatternWarnRate: cfg.Conflict.BroadPatternWarnRate,
		BroadPatternHighRate: cfg.Conflict.BroadPatternHighRate,
	}, cat, store.Conflicts(), pubsub, redisstore.ConflictChannel())

	det := detector.New(cat, reporter)
	model := dynamics.NewModel(dynamics.Config{
		StepHit:    cfg.Dynamics.StepHit,
		StepMiss:   cfg.Dynamics.StepMiss,
		MaxStep:    cfg.Dynamics.MaxStep,
		SignalHigh: cfg.Dynamics.SignalHigh,
		SignalLow:  cfg.Dynamics.SignalLow,
	})
	machine := phase.NewMachine(phase.Config{
		ProbeMinSeeking:      cfg.Phase.ProbeMinSeeking,
		CommitReadyThreshold: cfg.Phase.CommitReadyThreshold,
		NumericThresholds:    phase.DefaultConfig().NumericThresholds,
	}, cat)
	scorer := scoring.NewEngine(scoring.Config{
		EffortDivisor: cfg.Scoring.EffortDivisor,
	}, cat)

	var generator generation.Generator
	if cfg.Generation.Endpoint != "" {
		generator = generation.NewHTTPGenerator(cfg.Generation.Endpoint, cfg.Generation.Timeout)
	} else {
		generator = generation.StaticGenerator{}
		log.Warn().Msg("COACH_GENERATION_ENDPOINT not set; customer replies use static lines")
	}

	engCfg := engine.DefaultConfig()
	engCfg.CommitRetries = cfg.Engine.CommitRetries
	engCfg.GenerationTimeout = cfg.Generation.Timeout
	engCfg.HistoryTail = cfg.Engine.HistoryTail
	engCfg.IdleTTL = cfg.Engine.IdleTTL
	engCfg.ReapInterval = cfg.Engine.ReapInterval

	eng := engine.New(
		store.Sessions(),
		store.Artifacts(),
		cat,
		det,
		model,
		machine,
		scorer,
		generator,
		reporter,
		pubsub,
		engCfg,
	)
	defer eng.Shutdown()

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Background loops: scheduled conflict scans and idle-session sweeps.
	go reporter.Run(ctx, cfg.Engine.ConflictScanEvery)
	go eng.RunReaper(ctx)

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, store, eng, pubsub)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	return nil
}
