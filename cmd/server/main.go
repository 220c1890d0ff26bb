package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pesio-ai/be-mkt-approvals/internal/client"
	"github.com/pesio-ai/be-mkt-approvals/internal/config"
	"github.com/pesio-ai/be-mkt-approvals/internal/database"
	"github.com/pesio-ai/be-mkt-approvals/internal/handler"
	"github.com/pesio-ai/be-mkt-approvals/internal/logger"
	"github.com/pesio-ai/be-mkt-approvals/internal/middleware"
	"github.com/pesio-ai/be-mkt-approvals/internal/notification"
	"github.com/pesio-ai/be-mkt-approvals/internal/repository"
	"github.com/pesio-ai/be-mkt-approvals/internal/routing"
	"github.com/pesio-ai/be-mkt-approvals/internal/service"
	"github.com/pesio-ai/be-mkt-approvals/internal/workflow"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Marketing Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	workflowRepo := repository.NewWorkflowRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	actionRepo := repository.NewActionRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	artifactRepo := repository.NewArtifactRepository(db)

	// Seed workflow definitions from disk when a directory is configured.
	if dir := getEnv("WORKFLOW_DEFINITIONS_DIR", ""); dir != "" {
		defs, err := workflow.LoadDefinitionsDir(dir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("Failed to load workflow definitions")
		}
		for _, wf := range defs {
			if err := workflowRepo.Create(ctx, wf); err != nil {
				log.Fatal().Err(err).Str("workflow", wf.Name).Msg("Failed to seed workflow definition")
			}
		}
		log.Info().Int("count", len(defs)).Str("dir", dir).Msg("Workflow definitions loaded")
	}

	// NATS connection for delivery events. Optional: the publisher degrades
	// to a no-op when disabled.
	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS disabled, delivery events will not be published")
	}
	publisher := client.NewNotificationPublisher(nc, log.Logger)

	// In-app inbox: Redis when configured, in-process otherwise.
	var inbox notification.Inbox
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		inbox = notification.NewRedisInbox(rdb)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis inbox enabled")
	} else {
		inbox = notification.NewMemoryInbox()
		log.Warn().Msg("Redis disabled, using in-process inbox")
	}
	notifier := notification.NewService(inbox)

	// Identity service client
	identityURL := getEnv("IDENTITY_SERVICE_URL", "http://localhost:8081")
	identityClient := client.NewIdentityClient(identityURL)
	log.Info().Str("identity_url", identityURL).Msg("Identity client initialized")

	// Initialize services
	engine := workflow.NewEngine(log)
	router := routing.NewEngine(log)
	workspaceID := getEnv("WORKSPACE_ID", "default")

	approvalService := service.NewApprovalService(
		workflowRepo, requestRepo, actionRepo, auditRepo, artifactRepo,
		identityClient, publisher, notifier, engine, router, workspaceID, log,
	)
	artifactService := service.NewArtifactService(
		artifactRepo, auditRepo, identityClient, publisher, notifier, log,
	)

	// Timeout sweep: periodically escalates and expires overdue stages.
	go func() {
		ticker := time.NewTicker(cfg.Sweep.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				summary := approvalService.RunTimeoutSweep(ctx, now.UTC())
				if summary.Evaluated > 0 {
					log.Info().
						Int("evaluated", summary.Evaluated).
						Int("escalated", summary.Escalated).
						Int("expired", summary.Expired).
						Int("failed", summary.Failed).
						Msg("Timeout sweep completed")
				}
			}
		}
	}()
	log.Info().Dur("interval", cfg.Sweep.Interval).Msg("Timeout sweep started")

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(approvalService, artifactService, notifier, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Artifact routes
	mux.HandleFunc("/api/v1/artifacts", httpHandler.CreateArtifact)
	mux.HandleFunc("/api/v1/artifacts/get", httpHandler.GetArtifact)
	mux.HandleFunc("/api/v1/artifacts/actions", httpHandler.GetArtifactActions)
	mux.HandleFunc("/api/v1/artifacts/transition", httpHandler.TransitionArtifact)

	// Approval workflow routes
	mux.HandleFunc("/api/v1/approvals/submit", httpHandler.SubmitForApproval)
	mux.HandleFunc("/api/v1/approvals/action", httpHandler.ProcessAction)
	mux.HandleFunc("/api/v1/approvals/cancel", httpHandler.CancelRequest)
	mux.HandleFunc("/api/v1/approvals/pending", httpHandler.GetPendingApprovals)
	mux.HandleFunc("/api/v1/approvals/history", httpHandler.GetApprovalHistory)
	mux.HandleFunc("/api/v1/approvals/request", httpHandler.GetRequest)

	// Notification routes
	mux.HandleFunc("/api/v1/notifications", httpHandler.GetNotifications)
	mux.HandleFunc("/api/v1/notifications/read", httpHandler.MarkNotificationRead)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
