package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/medflow/medtrack/internal/auth/jwt"
	"github.com/medflow/medtrack/internal/pharmacy/cache"
	"github.com/medflow/medtrack/internal/pharmacy/consumers"
	"github.com/medflow/medtrack/internal/pharmacy/events"
	"github.com/medflow/medtrack/internal/pharmacy/handler"
	"github.com/medflow/medtrack/internal/pharmacy/repository"
	"github.com/medflow/medtrack/internal/pharmacy/service"
	"github.com/medflow/medtrack/pkg/config"
	"github.com/medflow/medtrack/pkg/database"
	"github.com/medflow/medtrack/pkg/httputil"
	"github.com/medflow/medtrack/pkg/logger"
	"github.com/medflow/medtrack/pkg/messaging"
	"github.com/medflow/medtrack/pkg/metrics"
)

func main() {
	// A local .env is optional; real deployments set the environment.
	_ = godotenv.Load()

	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(config.PharmacyService)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(config.PharmacyService, cfg.Server.Environment)
	log.Info().Str("timezone", cfg.Clinic.Timezone).Msg("starting Pharmacy Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx, repository.Migrations()); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	publisher, err := events.NewPharmacyEventPublisher(rmq, config.PharmacyService, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Stock cache is optional
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, stock cache disabled")
	}
	stockCache := cache.NewStockCache(redisClient, cfg.Redis.TTL, log)
	if stockCache != nil {
		defer stockCache.Close()
	}

	m := metrics.New()

	// Initialize services
	svc := service.New(service.Deps{
		Medications: repository.NewMedicationRepository(db),
		Lots:        repository.NewLotRepository(db),
		Dispensing:  repository.NewDispensingRepository(db),
		Clinic:      cfg.Clinic,
		Cache:       stockCache,
		Publisher:   publisher,
		Metrics:     m,
		Logger:      log,
	})

	// Start stock event consumer
	stockConsumer, err := consumers.NewStockEventConsumer(rmq, svc.Ledger, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create stock event consumer")
	}
	if err := stockConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start stock event consumer")
	}
	rmq.Supervise(ctx, stockConsumer.Resume)

	jwtManager := jwt.NewManager(&cfg.JWT)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(m.Middleware)
	r.Use(httputil.Authenticate(jwtManager, log))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status":   "healthy",
			"service":  config.PharmacyService,
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		}
		httputil.JSON(w, http.StatusOK, health)
	})
	r.Handle("/metrics", m.Handler())

	// API routes
	r.Route("/api/v1/pharmacy", func(r chi.Router) {
		handler.Routes(r, svc, log)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
