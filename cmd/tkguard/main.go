package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/kr1s57/tkguard/internal/adapter/controller/http/handlers"
	"github.com/kr1s57/tkguard/internal/adapter/controller/http/middleware"
	"github.com/kr1s57/tkguard/internal/adapter/controller/ws"
	"github.com/kr1s57/tkguard/internal/adapter/external/rcon"
	"github.com/kr1s57/tkguard/internal/adapter/external/webhook"
	"github.com/kr1s57/tkguard/internal/adapter/repository/clickhouse"
	"github.com/kr1s57/tkguard/internal/adapter/repository/file"
	"github.com/kr1s57/tkguard/internal/adapter/repository/postgres"
	"github.com/kr1s57/tkguard/internal/adapter/stream/redisstream"
	"github.com/kr1s57/tkguard/internal/config"
	"github.com/kr1s57/tkguard/internal/usecase/actions"
	"github.com/kr1s57/tkguard/internal/usecase/auth"
	"github.com/kr1s57/tkguard/internal/usecase/classifier"
	"github.com/kr1s57/tkguard/internal/usecase/policyconfig"
	"github.com/kr1s57/tkguard/internal/usecase/sessions"
	"github.com/kr1s57/tkguard/internal/usecase/tkban"
)

// auditStore is what the executor writes to and the API reads from
type auditStore interface {
	actions.AuditTrail
	handlers.AuditReader
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("Starting TKGuard",
		"env", cfg.App.Env,
		"port", cfg.App.Port,
		"policy_source", cfg.Policy.Source,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handlers.DependencyCheck{}

	// Postgres: player profiles and, optionally, the stored policy
	var db *sql.DB
	if cfg.Postgres.URL != "" {
		db, err = postgres.Open(ctx, cfg.Postgres.URL)
		if err != nil {
			logger.Error("Failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := postgres.Migrate(db); err != nil {
			logger.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
		checks["postgres"] = db.PingContext
		logger.Info("Connected to Postgres")
	}

	source, err := policySource(cfg, db)
	if err != nil {
		logger.Error("Invalid policy source", "error", err)
		os.Exit(1)
	}
	policy := policyconfig.NewManager(source, logger)
	if _, err := policy.Reload(ctx); err != nil {
		// Keep running on defaults; an admin can fix the document and reload
		logger.Error("Failed to load policy config, using defaults", "source", source.Name(), "error", err)
	}

	// Audit trail: ClickHouse when enabled, in memory otherwise
	var audit auditStore = actions.NewMemoryAudit(500)
	if cfg.ClickHouse.Enabled {
		chConn, err := clickhouse.NewConnection(ctx, &cfg.ClickHouse, logger)
		if err != nil {
			logger.Error("Failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		defer chConn.Close()

		repo := clickhouse.NewAuditRepository(chConn)
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Error("Failed to create audit table", "error", err)
			os.Exit(1)
		}
		audit = repo
		checks["clickhouse"] = chConn.Ping
	}

	// Moderation backend and notifications
	var moderator actions.Moderator
	if cfg.RCON.BaseURL != "" {
		moderator = rcon.NewClient(rcon.Config{
			BaseURL:   cfg.RCON.BaseURL,
			APIToken:  cfg.RCON.APIToken,
			Timeout:   cfg.RCON.Timeout,
			RateLimit: cfg.RCON.RateLimit,
		})
	} else {
		logger.Warn("RCON_API_URL not set, bans will fail permanently")
	}

	notifier, err := webhook.NewNotifier(cfg.Executor.WebhookTimeout, cfg.Policy.WebhookUsername)
	if err != nil {
		logger.Error("Failed to create webhook notifier", "error", err)
		os.Exit(1)
	}

	executor := actions.NewExecutor(actions.Config{
		Workers:        cfg.Executor.Workers,
		QueueSize:      cfg.Executor.QueueSize,
		BanTimeout:     cfg.Executor.BanTimeout,
		WebhookTimeout: cfg.Executor.WebhookTimeout,
		MaxRetries:     cfg.Executor.MaxRetries,
		BaseBackoff:    cfg.Executor.BaseBackoff,
		MaxBackoff:     cfg.Executor.MaxBackoff,
	}, moderator, notifier, audit, logger)
	// Own context so queued bans still go out while ingestion shuts down
	execCtx, execCancel := context.WithCancel(context.Background())
	defer execCancel()
	executor.Start(execCtx)

	// Engine
	hub := ws.NewHub(logger, cfg.App.CORSOrigins...)
	go hub.Run(ctx)

	engine := tkban.NewEngine(
		tkban.Config{Partitions: cfg.Engine.Partitions, ProfileTimeout: cfg.Engine.ProfileTimeout},
		policy,
		sessions.NewStore(0),
		classifier.New(),
		executor,
		logger,
	)
	engine.SetPublisher(hub)
	if db != nil {
		engine.SetProfileProvider(postgres.NewPlayerProfilesRepo(db))
	}

	engineDone := make(chan struct{})
	if cfg.Redis.Stream != "" {
		consumer, err := redisstream.NewConsumer(ctx, redisstream.Config{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			StartID:  cfg.Redis.StartID,
		}, logger)
		if err != nil {
			logger.Error("Failed to start event stream consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()
		checks["redis"] = consumer.Ping

		go func() {
			defer close(engineDone)
			if err := engine.Run(ctx, consumer); err != nil {
				logger.Error("Team kill engine stopped with error", "error", err)
			}
		}()
	} else {
		close(engineDone)
		logger.Info("REDIS_EVENT_STREAM not set, accepting events over HTTP only")
	}

	// HTTP API
	tokens, err := auth.NewService(cfg.JWT.Secret)
	if err != nil {
		logger.Error("Admin API requires JWT_SECRET", "error", err)
		os.Exit(1)
	}

	tkbanHandler := handlers.NewTKBanHandler(engine, policy, executor, audit)
	eventsHandler := handlers.NewEventsHandler(engine)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.App.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.HealthCheck(cfg, checks))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(tokens))

		// Log forwarders push events at game server rate
		r.With(middleware.RequireRole(auth.RoleAdmin, auth.RoleIngest)).
			Post("/events", eventsHandler.Ingest)

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(100, time.Minute))
			r.Use(middleware.RequireRole(auth.RoleAdmin, auth.RoleOperator))

			r.Get("/ws", hub.ServeWS)
			r.Route("/tkban", func(r chi.Router) {
				r.Get("/status", tkbanHandler.GetStatus)
				r.Get("/config", tkbanHandler.GetConfig)
				r.Get("/sessions", tkbanHandler.GetSessions)
				r.Get("/audit", tkbanHandler.GetAudit)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireAdmin())
					r.Post("/enable", tkbanHandler.Enable)
					r.Post("/disable", tkbanHandler.Disable)
					r.Put("/config", tkbanHandler.UpdateConfig)
					r.Post("/reload", tkbanHandler.Reload)
				})
			})
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// SIGHUP reloads the policy, SIGINT/SIGTERM shut down
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for s := range sig {
		if s != syscall.SIGHUP {
			break
		}
		if _, err := policy.Reload(ctx); err != nil {
			logger.Error("Policy reload failed, keeping active config", "error", err)
			continue
		}
		logger.Info("Policy reloaded", "source", source.Name())
	}

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Stop ingestion first so no verdict is produced after the executor drains
	cancel()
	<-engineDone

	stopped := make(chan struct{})
	go func() {
		executor.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		logger.Warn("Executor drain timed out, abandoning retries")
		execCancel()
		<-stopped
	}

	logger.Info("TKGuard stopped")
}

func policySource(cfg *config.Config, db *sql.DB) (policyconfig.Source, error) {
	switch cfg.Policy.Source {
	case "", "file":
		return file.NewPolicyFile(cfg.Policy.FilePath), nil
	case "postgres":
		if db == nil {
			return nil, errors.New("POLICY_SOURCE=postgres requires DATABASE_URL")
		}
		return postgres.NewPolicyConfigRepo(db), nil
	default:
		return nil, fmt.Errorf("unknown policy source %q", cfg.Policy.Source)
	}
}
