package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/p-n-ai/pai-academy/internal/admin"
	"github.com/p-n-ai/pai-academy/internal/ai"
	"github.com/p-n-ai/pai-academy/internal/curriculum"
	"github.com/p-n-ai/pai-academy/internal/evaluator"
	"github.com/p-n-ai/pai-academy/internal/httpapi"
	"github.com/p-n-ai/pai-academy/internal/navigator"
	"github.com/p-n-ai/pai-academy/internal/platform/cache"
	"github.com/p-n-ai/pai-academy/internal/platform/config"
	"github.com/p-n-ai/pai-academy/internal/platform/database"
	"github.com/p-n-ai/pai-academy/internal/progress"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	catalog, err := curriculum.LoadDir(cfg.CurriculumPath)
	if err != nil {
		return fmt.Errorf("loading curriculum: %w", err)
	}
	slog.Info("curriculum loaded",
		"path", cfg.CurriculumPath,
		"modules", catalog.ModuleCount(),
		"lessons", catalog.LessonCount(),
	)

	ready := map[string]httpapi.ReadyCheck{}
	st, err := openStore(ctx, cfg, ready)
	if err != nil {
		return err
	}
	defer st.close()

	tracker := progress.NewTracker(progress.TrackerConfig{Catalog: catalog, Store: st.store})

	router := newRouter(cfg.AI)
	eval, err := newEvaluator(cfg.Evaluator, router)
	if err != nil {
		return err
	}

	broadcaster := progress.NewBroadcaster(32)
	var publisher progress.Publisher = broadcaster
	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			return fmt.Errorf("connecting cache: %w", err)
		}
		defer c.Close()
		ready["cache"] = c.HealthCheck

		// Events go through Redis so every instance's subscribers see them;
		// the local broadcaster is fed from the subscription, not directly.
		bus := progress.NewRedisBus(c.Client, cfg.Cache.EventsChannel)
		if err := bus.Forward(ctx, broadcaster.Deliver); err != nil {
			return err
		}
		publisher = bus
		slog.Info("progress events via redis", "channel", cfg.Cache.EventsChannel)
	}
	if st.audit != nil {
		publisher = progress.MultiPublisher{publisher, st.audit}
	}

	nav, err := navigator.New(navigator.Config{
		Catalog:   catalog,
		Tracker:   tracker,
		Evaluator: eval,
		Events:    publisher,
	})
	if err != nil {
		return err
	}

	monitor := admin.NewHealthMonitor(router, cfg.Admin.HealthInterval)
	if err := monitor.Start(); err != nil {
		return err
	}
	defer monitor.Stop()

	handler, err := httpapi.New(httpapi.Config{
		Catalog:   catalog,
		Navigator: nav,
		Dashboard: admin.NewDashboard(admin.DashboardConfig{
			Authorizer: newAuthorizer(cfg.Admin),
			Catalog:    catalog,
			Progress:   tracker,
			Health:     monitor,
		}),
		Events:           broadcaster,
		EvaluatorTimeout: cfg.Evaluator.Timeout,
		OriginPatterns:   cfg.Server.AllowedOrigins,
		ReadyChecks:      ready,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Evaluator.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Store.Driver, "evaluator", cfg.Evaluator.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

type storage struct {
	store progress.Store
	audit progress.Publisher // nil when the driver keeps no event log
	close func()
}

// openStore builds the configured progress store and registers its readiness
// check.
func openStore(ctx context.Context, cfg *config.Config, ready map[string]httpapi.ReadyCheck) (storage, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return storage{}, fmt.Errorf("connecting database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return storage{}, fmt.Errorf("migrating database: %w", err)
		}
		store, err := progress.NewPostgresStore(db.Pool)
		if err != nil {
			db.Close()
			return storage{}, err
		}
		ready["database"] = db.HealthCheck
		return storage{store: store, audit: progress.NewPostgresEventLog(db.Pool), close: db.Close}, nil

	case config.StoreSQLite:
		store, err := progress.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return storage{}, fmt.Errorf("opening sqlite store: %w", err)
		}
		ready["database"] = store.Ping
		return storage{store: store, close: func() { _ = store.Close() }}, nil

	case config.StoreMemory:
		slog.Warn("using in-memory progress store; progress is lost on restart")
		return storage{store: progress.NewMemoryStore(), close: func() {}}, nil

	default:
		return storage{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// newRouter registers every configured AI provider. OpenAI comes first in
// the fallback chain when both are set.
func newRouter(cfg config.AIConfig) *ai.Router {
	router := ai.NewRouter()

	if cfg.OpenAI.APIKey != "" {
		var opts []ai.OpenAIOption
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, ai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		if cfg.OpenAI.Model != "" {
			opts = append(opts, ai.WithModel(cfg.OpenAI.Model))
		}
		router.Register("openai", ai.NewOpenAIProvider(cfg.OpenAI.APIKey, opts...))
		slog.Info("AI provider registered", "provider", "openai")
	}

	if cfg.Anthropic.APIKey != "" {
		var opts []ai.AnthropicOption
		if cfg.Anthropic.Model != "" {
			opts = append(opts, ai.WithAnthropicModel(cfg.Anthropic.Model))
		}
		p, err := ai.NewAnthropicProvider(cfg.Anthropic.APIKey, opts...)
		if err != nil {
			slog.Warn("anthropic provider disabled", "error", err)
		} else {
			router.Register("anthropic", p)
			slog.Info("AI provider registered", "provider", "anthropic")
		}
	}

	return router
}

func newEvaluator(cfg config.EvaluatorConfig, router *ai.Router) (evaluator.Evaluator, error) {
	var base evaluator.Evaluator
	switch cfg.Backend {
	case config.EvaluatorAI:
		if !router.HasProvider() {
			return nil, fmt.Errorf("ai evaluator selected but no AI provider is registered")
		}
		base = evaluator.NewAIEvaluator(router)
	case config.EvaluatorHTTP:
		base = evaluator.NewHTTPEvaluator(cfg.URL, &http.Client{Timeout: cfg.Timeout})
	default:
		return nil, fmt.Errorf("unknown evaluator backend %q", cfg.Backend)
	}

	if cfg.MaxAttempts > 1 {
		return evaluator.NewRetrying(base, cfg.MaxAttempts), nil
	}
	return base, nil
}

func newAuthorizer(cfg config.AdminConfig) admin.Authorizer {
	if cfg.TokenHash == "" {
		slog.Warn("LEARN_ADMIN_TOKEN_HASH not set; admin routes deny every request")
		return admin.DenyAll
	}
	return admin.NewTokenAuthorizer(cfg.TokenHash)
}
