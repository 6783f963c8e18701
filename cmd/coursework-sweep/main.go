package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-coursework/internal/access"
	"github.com/noah-isme/gema-coursework/internal/config"
	"github.com/noah-isme/gema-coursework/internal/database"
	"github.com/noah-isme/gema-coursework/internal/grading"
	"github.com/noah-isme/gema-coursework/internal/observability"
	"github.com/noah-isme/gema-coursework/internal/repository"
	"github.com/noah-isme/gema-coursework/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("app", cfg.AppName).Logger()

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	if _, ok := grading.DefaultRegistry().Lookup(cfg.DefaultStrategy); !ok {
		log.Fatalf("unknown default agreement strategy %q", cfg.DefaultStrategy)
	}

	observability.RegisterMetrics()

	validate := validator.New(validator.WithRequiredStructEnabled())
	activity := service.NewActivityService(repository.NewActivityLogRepository(db), logger)
	workflow := service.NewWorkflowService(
		service.NewWorkflowRepositories(db),
		access.NewRoleOracle(nil),
		validate,
		logger,
		service.WorkflowOptions{
			DefaultStrategy: cfg.DefaultStrategy,
			ClassBoundaries: cfg.ClassBoundaries,
			Cache:           service.NewRedisStatusCache(redisClient, cfg.EventsChannel, cfg.StatusCacheTTL),
			Events:          service.NewBrokerPublisher(redisClient, cfg.EventsChannel, natsConn),
			Activity:        activity,
		},
	)

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start metrics server: %v", err)
		}
	}()

	logger.Info().Dur("interval", cfg.SweepInterval).Str("metrics_address", cfg.MetricsAddress).Msg("coursework sweep started")
	runSweeps(ctx, workflow, cfg.SweepInterval, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("sweep stopped")
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	return mux
}

func runSweeps(ctx context.Context, workflow service.WorkflowService, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runCtx := observability.ContextWithCorrelation(ctx, "")
		results, err := workflow.SweepAll(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			observability.Logger(runCtx, logger).Error().Err(err).Int("courseworks", len(results)).Msg("sweep finished with errors")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
