package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cheqlabs/dCheque/internal/admin"
	"github.com/cheqlabs/dCheque/internal/alert"
	"github.com/cheqlabs/dCheque/internal/config"
	"github.com/cheqlabs/dCheque/internal/invariant"
	"github.com/cheqlabs/dCheque/internal/metrics"
	"github.com/cheqlabs/dCheque/internal/projector"
	"github.com/cheqlabs/dCheque/internal/query"
	"github.com/cheqlabs/dCheque/internal/source/redisstream"
	"github.com/cheqlabs/dCheque/internal/store"
	"github.com/cheqlabs/dCheque/internal/store/memory"
	"github.com/cheqlabs/dCheque/internal/store/postgres"
	"github.com/cheqlabs/dCheque/internal/tracing"
)

const (
	defaultMigrationsDir = "internal/store/postgres/migrations"
	poolStatsInterval    = 15 * time.Second
)

// repos bundles every repository the projector and query layers need,
// regardless of which store driver backs them.
type repos struct {
	db         store.TxBeginner
	accounts   store.AccountRepository
	erc20s     store.ERC20Repository
	notas      store.NotaRepository
	trust      store.TrustRepository
	handshakes store.HandshakeRepository
	cursors    store.CursorRepository
	snapshots  invariant.SnapshotRepository
	close      func() error
	stats      func() sql.DBStats
}

func buildLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func buildStore(cfg config.StoreConfig, logger *slog.Logger) (*repos, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory store; state will not survive a restart")
		mem := memory.New()
		return &repos{
			db:         mem,
			accounts:   mem.AccountRepo(),
			erc20s:     mem.ERC20Repo(),
			notas:      mem.NotaRepo(),
			trust:      mem.TrustRepo(),
			handshakes: mem.HandshakeRepo(),
			cursors:    mem.CursorRepo(),
			snapshots:  mem,
			close:      mem.Close,
		}, nil

	case "postgres":
		db, err := postgres.New(postgres.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}

		migrationsDir := os.Getenv("MIGRATIONS_DIR")
		if migrationsDir == "" {
			migrationsDir = defaultMigrationsDir
		}
		if err := db.RunMigrations(migrationsDir); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}

		return &repos{
			db:         db,
			accounts:   postgres.NewAccountRepo(db),
			erc20s:     postgres.NewERC20Repo(db),
			notas:      postgres.NewNotaRepo(db),
			trust:      postgres.NewTrustRepo(db),
			handshakes: postgres.NewHandshakeRepo(db),
			cursors:    postgres.NewCursorRepo(db),
			snapshots:  postgres.NewInvariantSnapshotRepo(db),
			close:      db.Close,
			stats:      db.Stats,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(channels) == 0 {
		return nil
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, channels...)
}

// maxCursorSilence is how long the cursor may sit still before /health
// reports unhealthy. Quiet streams are normal; a full day without a
// single commit is not.
const maxCursorSilence = 24 * time.Hour

type streamHealth struct {
	cursors    store.CursorRepository
	sourceName string
}

func (h *streamHealth) Healthy(ctx context.Context) (bool, string) {
	cur, err := h.cursors.Get(ctx, h.sourceName)
	if err != nil {
		return false, fmt.Sprintf("cursor lookup failed: %v", err)
	}
	if cur == nil {
		return true, "no events processed yet"
	}
	if time.Since(cur.UpdatedAt) > maxCursorSilence {
		return false, fmt.Sprintf("cursor has not advanced since %s", cur.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return true, fmt.Sprintf("position %s, %d events processed", cur.Position, cur.EventsProcessed)
}

func startPoolStatsPump(ctx context.Context, stats func() sql.DBStats, logger *slog.Logger) {
	if stats == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(poolStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := stats()
				metrics.DBPoolOpen.Set(float64(s.OpenConnections))
				metrics.DBPoolInUse.Set(float64(s.InUse))
				metrics.DBPoolIdle.Set(float64(s.Idle))
				metrics.DBPoolWaitCount.Set(float64(s.WaitCount))
				metrics.DBPoolWaitDuration.Set(s.WaitDuration.Seconds())
			}
		}
	}()
	logger.Info("db pool stats sampler started", "interval", poolStatsInterval)
}

func runHTTPServer(ctx context.Context, name string, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("server shutdown error", "server", name, "error", err)
		}
	}()

	logger.Info("server started", "server", name, "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting nota-indexer",
		"store_driver", cfg.Store.Driver,
		"stream", cfg.Redis.Stream,
		"source", cfg.Projector.SourceName,
		"strict", cfg.Projector.Strict,
	)

	shutdownTracing, err := tracing.Init(context.Background(),
		cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.Insecure, 1)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	st, err := buildStore(cfg.Store, logger)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.close()
	logger.Info("store ready", "driver", cfg.Store.Driver)

	alerter := buildAlerter(cfg.Alert, logger)

	checker := invariant.NewChecker(st.accounts, st.notas, st.trust, st.handshakes, alerter, logger)
	checker.SetSnapshotRepository(st.snapshots)

	projOpts := []projector.Option{
		projector.WithSourceName(cfg.Projector.SourceName),
	}
	if alerter != nil {
		projOpts = append(projOpts, projector.WithAlerter(alerter))
	}
	if cfg.Projector.Strict {
		projOpts = append(projOpts, projector.WithStrictChecker(checker))
	}
	proj := projector.New(st.db, st.accounts, st.erc20s, st.notas, st.trust, st.handshakes, st.cursors, logger, projOpts...)

	src, err := redisstream.New(cfg.Redis.URL, cfg.Redis.Stream, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer src.Close()

	runnerOpts := []projector.RunnerOption{
		projector.WithBatchSize(cfg.Projector.BatchSize),
		projector.WithPollInterval(cfg.Projector.PollInterval),
		projector.WithStallThreshold(cfg.Projector.StallThreshold),
	}
	if alerter != nil {
		runnerOpts = append(runnerOpts, projector.WithRunnerAlerter(alerter))
	}
	runner := projector.NewRunner(proj, src, st.cursors, logger, runnerOpts...)

	queries := query.NewService(st.accounts, st.erc20s, st.notas, st.trust, st.handshakes, st.cursors)
	health := &streamHealth{
		cursors:    st.cursors,
		sourceName: cfg.Projector.SourceName,
	}
	adminServer := admin.NewServer(queries, logger,
		admin.WithInvariantRunner(checker),
		admin.WithHealthProvider(health),
		admin.WithSource(cfg.Projector.SourceName),
	)
	rateLimiter := admin.NewRateLimitMiddleware(logger)
	defer rateLimiter.Stop()
	adminHandler := http.MaxBytesHandler(
		admin.AuditMiddleware(logger, rateLimiter.Wrap(adminServer.Handler())),
		1<<20)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.Run(gCtx)
	})

	g.Go(func() error {
		return runHTTPServer(gCtx, "admin", cfg.Server.AdminPort, adminHandler, logger)
	})

	g.Go(func() error {
		return runHTTPServer(gCtx, "metrics", cfg.Server.MetricsPort, metricsMux, logger)
	})

	if cfg.Invariant.Enabled && !cfg.Projector.Strict {
		g.Go(func() error {
			return checker.RunPeriodic(gCtx, cfg.Invariant.Interval)
		})
	}

	startPoolStatsPump(gCtx, st.stats, logger)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("indexer exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("indexer shut down gracefully")
}
