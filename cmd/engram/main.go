package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/engram/internal/backup"
	"github.com/nidhogg/engram/internal/config"
	"github.com/nidhogg/engram/internal/consolidation"
	"github.com/nidhogg/engram/internal/embedding"
	"github.com/nidhogg/engram/internal/events"
	"github.com/nidhogg/engram/internal/lifecycle"
	"github.com/nidhogg/engram/internal/scheduler"
	"github.com/nidhogg/engram/internal/search"
	"github.com/nidhogg/engram/internal/store"
	"github.com/nidhogg/engram/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/engram.json"
	}

	bootLogger, _ := zap.NewDevelopment()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLogger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("Starting engram", zap.String("config", cfgPath))

	ctx := context.Background()

	st, err := store.New(cfg.Database.Postgres.DSN, cfg.Memory, logger)
	if err != nil {
		logger.Fatal("postgres unavailable", zap.Error(err))
	}
	defer st.Close()
	if err := st.Migrate(ctx, cfg.MigrationsDir); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Event stream is optional; without Redis the system runs silently.
	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		bus, err = events.NewBus(cfg.Database.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(err))
			bus = nil
		} else {
			defer bus.Close()
			st.SetNotifier(bus)
		}
	}

	// Vector search is optional; without Qdrant or an embedding provider,
	// retrieval falls back to substring search.
	if cfg.Embedding.Provider != "" && cfg.Database.Qdrant.Host != "" {
		provider, perr := embedding.NewProvider(cfg.Embedding)
		if perr != nil {
			logger.Warn("embedding provider misconfigured, vector search disabled", zap.Error(perr))
		} else {
			qc, qerr := vectorstore.NewClient(cfg.Database.Qdrant.Host, cfg.Database.Qdrant.Port)
			if qerr != nil {
				logger.Warn("Qdrant unavailable, vector search disabled", zap.Error(qerr))
			} else {
				index, ierr := search.NewVectorIndex(ctx, qc, provider, st, logger)
				if ierr != nil {
					logger.Warn("vector index init failed, vector search disabled", zap.Error(ierr))
				} else {
					st.SetIndexer(index)
					logger.Info("Vector search enabled",
						zap.String("provider", cfg.Embedding.Provider),
						zap.Int("dimension", provider.Dimension()))
				}
			}
		}
	}

	// One-shot backup/restore subcommands run against the live store and
	// exit without starting the scheduler.
	if len(os.Args) > 1 {
		runSubcommand(ctx, os.Args[1:], st, logger)
		return
	}

	engine := consolidation.New(st, bus, cfg.Consolidation, logger)
	sweeper := lifecycle.New(st, bus, cfg.Lifecycle, logger)

	sched := scheduler.New(st, engine, sweeper, scheduler.Config{
		ReflectionInterval: cfg.Consolidation.ReflectionInterval.Std(),
		SleepHourUTC:       cfg.Consolidation.SleepHourUTC,
		SweepInterval:      cfg.Lifecycle.SweepInterval.Std(),
		ActiveAgentWindow:  cfg.Memory.ActiveAgentWindow.Std(),
	}, logger)
	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down engram")
	sched.Stop()
}

func runSubcommand(ctx context.Context, args []string, st *store.Store, logger *zap.Logger) {
	mgr := backup.New(st, logger)
	switch args[0] {
	case "backup":
		if len(args) < 2 {
			logger.Fatal("usage: engram backup <path>")
		}
		if err := mgr.WriteFile(ctx, args[1], time.Time{}); err != nil {
			logger.Fatal("backup failed", zap.Error(err))
		}
	case "restore":
		if len(args) < 2 {
			logger.Fatal("usage: engram restore <path> [--clear]")
		}
		clearFirst := len(args) > 2 && args[2] == "--clear"
		report, err := mgr.RestoreFile(ctx, args[1], clearFirst)
		if err != nil {
			logger.Fatal("restore failed", zap.Error(err))
		}
		logger.Info("restore finished",
			zap.Int("agents", report.Agents),
			zap.Int("episodic", report.Episodic),
			zap.Int("semantic", report.Semantic),
			zap.Int("procedural", report.Procedural),
			zap.Int("emotional", report.Emotional),
			zap.Int("working", report.Working),
			zap.Int("associations", report.Associations),
			zap.Int("failed", report.Failed))
	default:
		logger.Fatal("unknown command", zap.String("command", args[0]))
	}
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
