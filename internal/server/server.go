package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/oralvis/apiserver/config"
	"github.com/oralvis/apiserver/internal/auth"
	"github.com/oralvis/apiserver/internal/db"
	"github.com/oralvis/apiserver/internal/handlers"
	"github.com/oralvis/apiserver/internal/logging"
	"github.com/oralvis/apiserver/internal/mq"
	"github.com/oralvis/apiserver/internal/services"
	"github.com/oralvis/apiserver/internal/storage"
	"github.com/oralvis/apiserver/internal/store"
	"github.com/oralvis/apiserver/types"
)

const requestTimeout = 60 * time.Second

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	mq         *mq.MQ
	logger     logging.Logger
}

// New wires configuration, persistence, storage and messaging into a
// ready-to-start Server. Any failure here is fatal for startup.
func New(ctx context.Context, cfg config.Config, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("JWT_SECRET: %w", err)
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(cfg.Database, db.Up); err != nil {
			_ = dbConn.Close()
			return nil, err
		}
		logger.Info(ctx, "database schema up to date")
	}

	userService := services.NewUserService(store.NewUserRepository(dbConn), tokens)
	created, err := userService.Seed(ctx, SeedAccounts(cfg.Seed))
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("seed accounts: %w", err)
	}
	logger.Info(ctx, "seed accounts checked", "created", created)

	backend, err := storage.NewBackend(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	images := storage.NewStorage(backend)
	if err := images.EnsureBucket(ctx); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	logger.Info(ctx, "object storage ready", "backend", cfg.Storage.Backend, "bucket", images.Bucket())

	broker, err := mq.NewFromConfig(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init mq: %w", err)
	}
	logger.Info(ctx, "message broker ready", "backend", cfg.MQ.Backend, "channel", cfg.MQ.Channel)

	scanService := services.NewScanService(store.NewScanRepository(dbConn), images, broker, services.ScanServiceOptions{
		Folder:       cfg.Storage.Folder,
		EventChannel: cfg.MQ.Channel,
		Logger:       logger,
	})

	router := NewRouter(RouterDeps{
		Users:          userService,
		Scans:          scanService,
		Tokens:         tokens,
		Logger:         logger,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		LoginLimit:     handlers.NewIPRateLimiter(cfg.LoginLimit.PerMinute, cfg.LoginLimit.Burst),
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 5000
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		mq:         broker,
		logger:     logger,
	}, nil
}

// RouterDeps are the collaborators mounted by NewRouter.
type RouterDeps struct {
	Users          handlers.Authenticator
	Scans          handlers.ScanUseCases
	Tokens         handlers.TokenVerifier
	Logger         logging.Logger
	AllowedOrigins []string
	LoginLimit     *handlers.IPRateLimiter
	Now            func() time.Time
}

// NewRouter builds the /api route tree with the shared middleware stack.
func NewRouter(deps RouterDeps) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	gate := handlers.NewGate(deps.Tokens, logger)

	var loginLimit func(http.Handler) http.Handler
	if deps.LoginLimit != nil {
		loginLimit = deps.LoginLimit.Middleware
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		handlers.RequestLogger(logger),
		handlers.Recoverer(logger),
		cors.Handler(cors.Options{
			AllowedOrigins:   deps.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
	)
	router.NotFound(handlers.NotFound)
	router.MethodNotAllowed(handlers.MethodNotAllowed)

	// Uploads are exempt from the request deadline; ScanRouter applies it
	// to the remaining scan routes.
	timeout := middleware.Timeout(requestTimeout)
	router.Route("/api", func(r chi.Router) {
		r.With(timeout).Get("/health", handlers.Health(deps.Now))
		r.Route("/auth", func(r chi.Router) {
			r.Use(timeout)
			handlers.AuthRouter(r, deps.Users, gate, loginLimit, logger)
		})
		r.Route("/scans", func(r chi.Router) {
			handlers.ScanRouter(r, deps.Scans, gate, logger, timeout)
		})
	})

	return router
}

// SeedAccounts lists the fixed accounts created at initialization.
func SeedAccounts(cfg config.SeedConfig) []services.SeedAccount {
	return []services.SeedAccount{
		{
			Email:    cfg.Technician.Email,
			Password: cfg.Technician.Password,
			Name:     cfg.Technician.Name,
			Role:     types.RoleTechnician,
		},
		{
			Email:    cfg.Dentist.Email,
			Password: cfg.Dentist.Password,
			Name:     cfg.Dentist.Name,
			Role:     types.RoleDentist,
		},
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and then releases the broker and the
// database pool.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.mq != nil {
		if cerr := s.mq.Close(); cerr != nil {
			s.logger.Warn(ctx, "close mq", "error", cerr)
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
