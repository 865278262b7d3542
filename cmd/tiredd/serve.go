package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alphabot-ai/tiredd/internal/app"
	"github.com/alphabot-ai/tiredd/internal/auth"
	"github.com/alphabot-ai/tiredd/internal/config"
	"github.com/alphabot-ai/tiredd/internal/feed"
	httpapp "github.com/alphabot-ai/tiredd/internal/http"
	"github.com/alphabot-ai/tiredd/internal/ledger"
	redisledger "github.com/alphabot-ai/tiredd/internal/ledger/redis"
	"github.com/alphabot-ai/tiredd/internal/rate"
	"github.com/alphabot-ai/tiredd/internal/store"
	"github.com/alphabot-ai/tiredd/internal/store/memory"
	"github.com/alphabot-ai/tiredd/internal/store/postgres"
	"github.com/alphabot-ai/tiredd/internal/store/sqlite"
	"github.com/alphabot-ai/tiredd/internal/vote"
)

const purgeInterval = 10 * time.Minute

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Start the tiredd API server",
		Long: `Start the tiredd API server.

Every setting can also be given as a TIREDD_ environment variable,
for example TIREDD_STORE=sqlite or TIREDD_RATE_VOTE_PER_MINUTE=60.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), v)
		},
	}
	flags := cmd.Flags()
	flags.String("addr", "", "listen address")
	flags.String("store", "", "content store: memory, sqlite or postgres")
	flags.String("sqlite-path", "", "sqlite database file")
	flags.String("postgres-dsn", "", "postgres connection string")
	flags.String("ledger", "", "score ledger: store, memory or redis")
	flags.String("redis-addr", "", "redis address")
	flags.String("log-level", "", "debug, info, warn or error")
	for key, flag := range map[string]string{
		"addr":         "addr",
		"store":        "store",
		"sqlite_path":  "sqlite-path",
		"postgres_dsn": "postgres-dsn",
		"ledger":       "ledger",
		"redis_addr":   "redis-addr",
		"log_level":    "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// backends holds the opened store and ledger backend plus their closers.
type backends struct {
	store   store.Store
	ledger  ledger.Backend
	closers []io.Closer
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i].Close()
	}
}

func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}
	var sameStore ledger.Backend

	switch cfg.Store {
	case "memory":
		b.store = memory.New()
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		b.store, sameStore = st, st
		b.closers = append(b.closers, st)
	case "postgres":
		pg, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, pg)
		if err := pg.CreateSchema(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("create postgres schema: %w", err)
		}
		b.store, sameStore = pg, pg
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	switch cfg.Ledger {
	case "store":
		if sameStore == nil {
			b.ledger = ledger.NewMemory()
		} else {
			b.ledger = sameStore
		}
	case "memory":
		if sameStore != nil {
			logger.Warn("in-memory ledger with a persistent store: scores reset on restart")
		}
		b.ledger = ledger.NewMemory()
	case "redis":
		r, err := redisledger.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		b.ledger = r
		b.closers = append(b.closers, r)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown ledger %q", cfg.Ledger)
	}
	return b, nil
}

func runServer(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backends", "error", err)
		return err
	}
	defer b.Close()

	a := app.New(b.store, ledger.New(b.ledger, logger), app.Options{
		Auth: auth.Options{SessionTTL: cfg.SessionTTL, ChallengeTTL: cfg.ChallengeTTL, AutoRegister: cfg.AutoRegister},
		Vote: vote.Options{Dedupe: cfg.VoteDedupe},
		Feed: feed.Options{ScanLimit: cfg.FeedScanLimit, DefaultLimit: cfg.FeedDefaultLimit},
	}, logger)

	go purgeSessions(ctx, a, logger, purgeInterval)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapp.NewServer(a, rate.NewMemory(), cfg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tiredd listening", "addr", cfg.Addr, "store", cfg.Store, "ledger", cfg.Ledger)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// purgeSessions deletes expired sessions until ctx is done.
func purgeSessions(ctx context.Context, a *app.App, logger *slog.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.PurgeSessions(ctx)
			if err != nil {
				logger.Warn("purge sessions", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged expired sessions", "count", n)
			}
		}
	}
}
