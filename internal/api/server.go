package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/nakliyeci/carrier-jobs/internal/auth"
	"github.com/nakliyeci/carrier-jobs/internal/clients"
	"github.com/nakliyeci/carrier-jobs/internal/config"
	"github.com/nakliyeci/carrier-jobs/internal/database"
	"github.com/nakliyeci/carrier-jobs/internal/handlers"
	"github.com/nakliyeci/carrier-jobs/internal/lifecycle"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/internal/outbox"
	"github.com/nakliyeci/carrier-jobs/internal/repository"
	"github.com/nakliyeci/carrier-jobs/internal/repository/memory"
	"github.com/nakliyeci/carrier-jobs/internal/service"
	"github.com/nakliyeci/carrier-jobs/pkg/circuitbreaker"
	"github.com/nakliyeci/carrier-jobs/pkg/kafka"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
	"github.com/nakliyeci/carrier-jobs/pkg/middleware"
)

type Server struct {
	config          *config.Config
	logger          logger.Logger
	router          *mux.Router
	httpServer      *http.Server
	db              *database.Database
	services        *Services
	auth            *auth.Middleware
	rateLimiter     *middleware.RateLimiterMiddleware
	outboxProcessor *outbox.Processor
	expirySweeper   *service.ExpirySweeper
	kafkaProducer   *kafka.Producer
	kafkaConsumer   *kafka.Consumer
	jobEvents       *handlers.JobEventsHandler
	breakers        map[string]*circuitbreaker.CircuitBreaker
}

// NewServer creates a new API server with the given configuration and logger.
// Background workers are started by Start.
func NewServer(cfg *config.Config, logger logger.Logger) (*Server, error) {
	s := &Server{
		config:   cfg,
		logger:   logger,
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
	}

	stores, err := s.openStores()
	if err != nil {
		return nil, err
	}

	s.services = NewServices(stores, s.cityDirectory(), logger, models.GetCurrentTime, cfg.Offer.TTL)
	s.expirySweeper = service.NewExpirySweeper(s.services.Offers, cfg.Offer.SweepInterval, logger)

	s.outboxProcessor = outbox.NewProcessor(stores.Outbox, outbox.ProcessorConfig{
		PollingInterval: cfg.Outbox.PollInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.MaxRetries,
	}, logger)

	if cfg.Kafka.Enabled {
		if err := s.setupKafka(); err != nil {
			s.closeDB()
			return nil, err
		}
	} else {
		s.outboxProcessor.SetDefaultHandler(outbox.NewLoggingHandler(logger))
	}

	s.auth = auth.NewMiddleware(auth.NewAuthenticator(cfg.Auth.JWTSecret), logger)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("No JWT secret configured, trusting identity headers")
	}

	if cfg.RateLimit.Enabled {
		s.rateLimiter = middleware.NewRateLimiterMiddleware(&middleware.RateLimiterConfig{
			GlobalMaxTokens:   cfg.RateLimit.GlobalMaxTokens,
			GlobalRefillRate:  cfg.RateLimit.GlobalRefillRate,
			IPMaxTokens:       cfg.RateLimit.IPMaxTokens,
			IPRefillRate:      cfg.RateLimit.IPRefillRate,
			TrustForwardedFor: cfg.RateLimit.TrustForwardedFor,
		}, logger)
	}

	s.initRouter()
	return s, nil
}

// newServerWithServices builds a router-only server over services
func newServerWithServices(cfg *config.Config, logger logger.Logger, services *Services) *Server {
	s := &Server{
		config:   cfg,
		logger:   logger,
		services: services,
		auth:     auth.NewMiddleware(auth.NewAuthenticator(cfg.Auth.JWTSecret), logger),
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
	}
	s.initRouter()
	return s
}

func (s *Server) initRouter() {
	s.router = mux.NewRouter()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.setupRoutes()
}

func (s *Server) openStores() (repository.Stores, error) {
	if s.config.StorageDriver != config.StoragePostgres {
		s.logger.Info("Using in-memory storage")
		return memory.NewStore().Stores(), nil
	}

	db, err := database.New(s.config, s.logger)
	if err != nil {
		return repository.Stores{}, fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return repository.Stores{}, fmt.Errorf("failed to run database migrations: %w", err)
	}
	s.db = db

	outboxRepo := repository.NewOutboxRepository(db, s.logger)
	return repository.Stores{
		Listings: repository.NewListingRepository(db, s.logger),
		Bids:     repository.NewBidRepository(db, s.logger),
		Offers:   repository.NewOfferRepository(db, s.logger),
		Jobs:     repository.NewJobRepository(db, outboxRepo, s.logger),
		Outbox:   outboxRepo,
	}, nil
}

func (s *Server) cityDirectory() service.CityDirectory {
	if s.config.Profile.ServiceURL == "" {
		s.logger.Info("Using static carrier directory", "carriers", len(s.config.Profile.CarrierCities))
		return clients.NewStaticDirectory(s.config.Profile.CarrierCities)
	}

	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	})
	s.breakers["profile_service"] = breaker

	return clients.NewProfileClient(
		s.config.Profile.ServiceURL,
		s.config.Profile.Timeout,
		s.logger.With("component", "profile_client"),
		clients.WithCircuitBreaker(breaker),
	)
}

func (s *Server) setupKafka() error {
	producer, err := kafka.NewProducer(s.config.Kafka.Brokers, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	s.kafkaProducer = producer

	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     15 * time.Second,
		HalfOpenMaxCalls: 1,
	})
	s.breakers["kafka_producer"] = breaker

	kafkaHandler := outbox.NewKafkaHandler(producer, s.config.Kafka.JobsTopic, breaker, s.logger)
	for _, eventType := range lifecycle.AllEventTypes {
		s.outboxProcessor.RegisterHandler(string(eventType), kafkaHandler)
	}

	consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
		Brokers:       s.config.Kafka.Brokers,
		Topics:        []string{s.config.Kafka.JobsTopic},
		ConsumerGroup: s.config.Kafka.ConsumerGroup,
	}, s.logger)
	if err != nil {
		producer.Close()
		return fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	s.jobEvents = handlers.NewJobEventsHandler(s.logger)
	consumer.RegisterHandler(s.config.Kafka.JobsTopic, s.jobEvents)
	s.kafkaConsumer = consumer
	return nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the background workers and the HTTP server
func (s *Server) Start() error {
	if s.outboxProcessor != nil {
		s.outboxProcessor.Start()
	}
	if s.expirySweeper != nil {
		s.expirySweeper.Start()
	}
	if s.kafkaConsumer != nil {
		if err := s.kafkaConsumer.Start(); err != nil {
			// Non-fatal, events still reach the topic
			s.logger.Error("Failed to start Kafka consumer", "error", err)
		}
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	if s.expirySweeper != nil {
		s.expirySweeper.Stop()
	}
	if s.outboxProcessor != nil {
		s.outboxProcessor.Stop()
	}

	if s.kafkaConsumer != nil {
		if err := s.kafkaConsumer.Stop(); err != nil {
			s.logger.Error("Error stopping Kafka consumer", "error", err)
		}
	}

	if s.kafkaProducer != nil {
		if err := s.kafkaProducer.Close(); err != nil {
			s.logger.Error("Error closing Kafka producer", "error", err)
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	s.closeDB()
	return err
}

func (s *Server) closeDB() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("Error closing database connection", "error", err)
	}
}

// setupRoutes configures all the routes for our API
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID, s.loggingMiddleware)
	if s.rateLimiter != nil {
		s.router.Use(s.rateLimiter.Middleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.auth.Authenticate)

	broker := s.auth.RequireRole(auth.RoleBroker)
	carrier := s.auth.RequireRole(auth.RoleCarrier)
	anyone := s.auth.RequireRole(auth.RoleBroker, auth.RoleCarrier)

	// Listings
	authed.Handle("/listings", broker(http.HandlerFunc(s.publishListingHandler))).Methods(http.MethodPost)
	authed.Handle("/listings", anyone(http.HandlerFunc(s.getOpenListingsHandler))).Methods(http.MethodGet)
	authed.Handle("/listings/{id}", anyone(http.HandlerFunc(s.getListingHandler))).Methods(http.MethodGet)
	authed.Handle("/listings/{id}/close", broker(http.HandlerFunc(s.closeListingHandler))).Methods(http.MethodPost)

	// Bids
	authed.Handle("/bids", carrier(http.HandlerFunc(s.submitBidHandler))).Methods(http.MethodPost)
	authed.Handle("/bids/{id}/accept", broker(http.HandlerFunc(s.acceptBidHandler))).Methods(http.MethodPost)
	authed.Handle("/bids/{id}/reject", broker(http.HandlerFunc(s.rejectBidHandler))).Methods(http.MethodPost)
	authed.Handle("/bids/{id}/cancel", carrier(http.HandlerFunc(s.cancelBidHandler))).Methods(http.MethodPost)

	// Assignment offers
	authed.Handle("/offers", broker(http.HandlerFunc(s.issueOfferHandler))).Methods(http.MethodPost)
	authed.Handle("/offers/{id}", anyone(http.HandlerFunc(s.getOfferHandler))).Methods(http.MethodGet)
	authed.Handle("/offers/{id}/accept", carrier(http.HandlerFunc(s.acceptOfferHandler))).Methods(http.MethodPost)
	authed.Handle("/offers/{id}/reject", carrier(http.HandlerFunc(s.rejectOfferHandler))).Methods(http.MethodPost)

	// Jobs
	authed.Handle("/carriers/{id}/jobs", carrier(http.HandlerFunc(s.getCarrierJobsHandler))).Methods(http.MethodGet)
	authed.Handle("/jobs/{shipmentId}", anyone(http.HandlerFunc(s.getJobHandler))).Methods(http.MethodGet)
	authed.Handle("/jobs/{shipmentId}/start", carrier(http.HandlerFunc(s.startJobHandler))).Methods(http.MethodPost)
	authed.Handle("/jobs/{shipmentId}/complete", carrier(http.HandlerFunc(s.completeJobHandler))).Methods(http.MethodPost)
	authed.Handle("/jobs/{shipmentId}/cancel", broker(http.HandlerFunc(s.cancelJobHandler))).Methods(http.MethodPost)

	// Admin API for monitoring
	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(broker)
	admin.HandleFunc("/circuit-breakers", s.getCircuitBreakersHandler).Methods(http.MethodGet)
	admin.HandleFunc("/circuit-breakers/{name}/reset", s.resetCircuitBreakerHandler).Methods(http.MethodPost)
	admin.HandleFunc("/job-events", s.getJobEventsHandler).Methods(http.MethodGet)
}

// Middleware for logging requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr,
			"requestID", middleware.RequestIDFromContext(r.Context()),
		)
	})
}
