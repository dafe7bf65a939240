package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/vaidashi/order-processing-api/internal/config"
	"github.com/vaidashi/order-processing-api/internal/database"
	"github.com/vaidashi/order-processing-api/internal/models"
	"github.com/vaidashi/order-processing-api/internal/outbox"
	"github.com/vaidashi/order-processing-api/internal/repository"
	"github.com/vaidashi/order-processing-api/internal/scheduler"
	"github.com/vaidashi/order-processing-api/internal/service"
	"github.com/vaidashi/order-processing-api/pkg/circuitbreaker"
	"github.com/vaidashi/order-processing-api/pkg/kafka"
	"github.com/vaidashi/order-processing-api/pkg/logger"
	"github.com/vaidashi/order-processing-api/pkg/metrics"
	"github.com/vaidashi/order-processing-api/pkg/middleware"
)

// OrderManager is the lifecycle API the handlers call
type OrderManager interface {
	CreateOrder(ctx context.Context, customerID, customerName string, items []service.ItemInput) (*models.Order, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetAllOrders(ctx context.Context) ([]*models.Order, error)
	GetOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error)
	CancelOrder(ctx context.Context, id int64) (*models.Order, error)
}

// SweepRunner runs one pending sweep on demand
type SweepRunner interface {
	RunOnce(ctx context.Context) (service.SweepResult, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	config     *config.Config
	logger     logger.Logger
	router     *mux.Router
	httpServer *http.Server
	validate   *validator.Validate
	metrics    *metrics.ServerMetrics

	orders  OrderManager
	sweeper SweepRunner
	pinger  Pinger

	rateLimiter *middleware.RateLimiterMiddleware
	degradation *middleware.GracefulDegradation

	db              *database.Database
	outboxProcessor *outbox.Processor
	sweepScheduler  *scheduler.Sweeper
	kafkaProducer   *kafka.Producer
	redisClient     *redis.Client
}

// NewServer connects to every backing service and wires the API
func NewServer(ctx context.Context, cfg *config.Config, logger logger.Logger) (*Server, error) {
	db, err := database.New(ctx, cfg, logger)

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	serverMetrics := metrics.NewServerMetrics()

	// Initialize repositories
	orderRepo := repository.NewOrderRepository(db, logger)
	outboxRepo := repository.NewOutboxRepository(db, logger)
	txManager := repository.NewTxManager(db, logger)

	// Initialize services
	orderService := service.NewOrderService(orderRepo, txManager, serverMetrics, logger)

	s := &Server{
		config:   cfg,
		logger:   logger,
		metrics:  serverMetrics,
		orders:   orderService,
		pinger:   db,
		db:       db,
		validate: newValidator(),
	}

	// Outbox publishing
	s.outboxProcessor = outbox.NewProcessor(outboxRepo, outbox.ProcessorConfig{
		PollingInterval: cfg.Outbox.PollingInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.MaxRetries,
		ClaimLease:      cfg.Outbox.ClaimLease,
	}, logger)

	var eventHandler outbox.MessageHandler = outbox.NewLoggingHandler(logger)

	if cfg.Kafka.Enabled {
		s.kafkaProducer, err = kafka.NewProducer(cfg.Kafka.Brokers, logger)

		if err != nil {
			db.Close()
			return nil, err
		}

		eventHandler = outbox.NewKafkaHandler(s.kafkaProducer, cfg.Kafka.OrdersTopic, logger)
	}

	s.outboxProcessor.RegisterHandler(models.EventOrderCreated, eventHandler)
	s.outboxProcessor.RegisterHandler(models.EventOrderStatusChanged, eventHandler)

	// Sweep scheduling
	var locker scheduler.Locker

	if cfg.Redis.Enabled {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable at startup, sweeps will be skipped until it recovers", "error", err)
		}

		locker = scheduler.NewRedisLocker(s.redisClient, cfg.Sweeper.LockKey, cfg.Sweeper.LockTTL)
	}

	s.sweepScheduler = scheduler.NewSweeper(orderService, locker, scheduler.Config{
		Interval: cfg.Sweeper.Interval,
		Timeout:  cfg.Sweeper.Timeout,
	}, logger.With("component", "sweeper"))
	s.sweeper = s.sweepScheduler

	// HTTP middleware
	if cfg.RateLimit.Enabled {
		s.rateLimiter = middleware.NewRateLimiterMiddleware(middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.RPS,
			Burst:             cfg.RateLimit.Burst,
			TrustForwardedFor: cfg.RateLimit.TrustForwardedFor,
		}, logger)
	}

	s.degradation = middleware.NewGracefulDegradation(circuitbreaker.Config{
		Name:             "http",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
	}, logger)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.outboxProcessor.Start()

	if cfg.Sweeper.Enabled {
		s.sweepScheduler.Start()
	}

	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then stops background work and closes connections
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	if s.sweepScheduler != nil {
		s.sweepScheduler.Stop()
	}

	if s.outboxProcessor != nil {
		s.outboxProcessor.Stop()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.kafkaProducer != nil {
		if err := s.kafkaProducer.Close(); err != nil {
			s.logger.Error("Error closing Kafka producer", "error", err)
		}
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing Redis client", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Error closing database connection", "error", err)
		}
	}

	return err
}

// setupRoutes configures all the routes for our API
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.NotFoundHandler = http.HandlerFunc(s.notFoundHandler)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowedHandler)

	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Metrics(s.metrics))

	if s.rateLimiter != nil {
		s.router.Use(s.rateLimiter.Middleware)
	}

	if s.degradation != nil {
		s.router.Use(s.degradation.Middleware)
	}

	s.router.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	api.HandleFunc("/orders", s.getOrdersHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.createOrderHandler).Methods(http.MethodPost)
	api.HandleFunc("/orders/status/{status}", s.getOrdersByStatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.getOrderByIDHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.cancelOrderHandler).Methods(http.MethodDelete)

	// Admin API for operating the background jobs
	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/sweeps", s.runSweepHandler).Methods(http.MethodPost)
	admin.HandleFunc("/breaker", s.breakerStateHandler).Methods(http.MethodGet)
}

// responseRecorder captures the status written by a handler for logging
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware for logging requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr,
		)
	})
}
