package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"moneygo/internal/config"
	"moneygo/internal/credential"
	"moneygo/internal/domain"
	"moneygo/internal/handler"
	"moneygo/internal/logging"
	"moneygo/internal/notify"
	"moneygo/internal/observability"
	"moneygo/internal/repository"
	"moneygo/internal/repository/memory"
	"moneygo/internal/scheduler"
	"moneygo/internal/service"
	"moneygo/migrations"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the operations exposed over HTTP.
type Services struct {
	Accounts   *service.AccountService
	Transfers  *service.TransferService
	Schedules  *service.ScheduledTransferService
	QrPayments *service.QrPaymentService
}

// Server represents the HTTP server
type Server struct {
	router     *mux.Router
	server     *http.Server
	db         *sql.DB
	poller     *scheduler.Poller
	dispatcher *notify.Dispatcher
	logger     *slog.Logger
	port       string
}

// NewServer wires the store selected by cfg.StoreDriver, the services, the
// notification hooks and the scheduled transfer poller.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	metrics := observability.NewMetrics()

	var (
		db        *sql.DB
		store     domain.Store
		credStore credential.Store
		pinger    Pinger
	)

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		memStore := memory.NewStore(logger, cfg.LockTimeout)
		store, credStore, pinger = memStore, credential.NewMemoryStore(), memStore
		logger.Warn("Using in-memory store, data is lost on restart")

	default:
		var err error
		db, err = openDB(cfg, logger)
		if err != nil {
			return nil, err
		}
		pgStore := repository.NewStore(db, logger, cfg.LockTimeout)
		store, credStore, pinger = pgStore, credential.NewPostgresStore(db, logger), pgStore
	}

	verifier := credential.NewVerifier(credStore, cfg.MaxAuthFailures, 0, logger)

	hooks := []notify.Hook{notify.NewLogHook(logger)}
	if cfg.WebhookURL != "" {
		hooks = append(hooks, notify.NewWebhookHook(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookTimeout, logger))
	}
	dispatcher := notify.NewDispatcher(logger, metrics, cfg.WebhookTimeout, hooks...)

	deps := service.Deps{
		Store:       store,
		Credentials: verifier,
		Notifier:    dispatcher,
		Metrics:     metrics,
		Logger:      logger,
		Options: service.Options{
			Location:             cfg.Location(),
			DailyLimit:           cfg.DailyLimit,
			PerTransactionLimit:  cfg.PerTransactionLimit,
			LargeAmountThreshold: cfg.LargeAmountThreshold,
			LockRetryAttempts:    cfg.LockRetryAttempts,
			LockRetryBackoff:     cfg.LockRetryBackoff,
			QrTTL:                cfg.QrTTL,
		},
	}

	services := Services{
		Accounts:   service.NewAccountService(deps, verifier),
		Transfers:  service.NewTransferService(deps),
		Schedules:  service.NewScheduledTransferService(deps),
		QrPayments: service.NewQrPaymentService(deps),
	}

	poller := scheduler.NewPoller(services.Schedules, scheduler.Config{
		Interval:         cfg.SchedulerInterval,
		BatchSize:        cfg.SchedulerBatchSize,
		ExecutionTimeout: cfg.SchedulerExecutionTimeout,
	}, logger, metrics)

	router := NewRouter(services, handler.NewAuthenticator(cfg.JWTSecret), pinger, metrics, logger)

	return &Server{
		router:     router,
		db:         db,
		poller:     poller,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

func openDB(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Successfully connected to database")

	if err := repository.Migrate(ctx, db, migrations.FS, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewRouter registers every route. Routes other than /health and /metrics
// require a bearer token; /admin routes require the admin role.
func NewRouter(services Services, auth *handler.Authenticator, pinger Pinger, metrics *observability.Metrics, logger *slog.Logger) *mux.Router {
	accountHandler := handler.NewAccountHandler(services.Accounts)
	transferHandler := handler.NewTransferHandler(services.Transfers)
	scheduleHandler := handler.NewScheduleHandler(services.Schedules)
	qrHandler := handler.NewQrHandler(services.QrPayments)

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger, metrics))

	router.HandleFunc("/health", healthHandler(pinger)).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := router.NewRoute().Subrouter()
	api.Use(auth.Middleware())

	// Account routes
	api.HandleFunc("/accounts", accountHandler.OpenAccount).Methods("POST")
	api.HandleFunc("/accounts/me", accountHandler.GetMyAccount).Methods("GET")
	api.HandleFunc("/accounts/me/limit", accountHandler.GetLimit).Methods("GET")
	api.HandleFunc("/accounts/me/secret", accountHandler.GetSecretStatus).Methods("GET")
	api.HandleFunc("/accounts/me/secret", accountHandler.ChangeSecret).Methods("PUT")
	api.HandleFunc("/accounts/me/transactions", accountHandler.History).Methods("GET")
	api.HandleFunc("/accounts/me/transactions/{entry_id}", accountHandler.GetEntry).Methods("GET")
	api.HandleFunc("/accounts/{account_number}", accountHandler.GetByNumber).Methods("GET")

	// Money movement routes
	api.HandleFunc("/transfers", transferHandler.Transfer).Methods("POST")
	api.HandleFunc("/deposits/self", transferHandler.SelfDeposit).Methods("POST")
	api.HandleFunc("/withdrawals/self", transferHandler.SelfWithdraw).Methods("POST")

	// Scheduled transfer routes
	api.HandleFunc("/scheduled-transfers", scheduleHandler.Create).Methods("POST")
	api.HandleFunc("/scheduled-transfers", scheduleHandler.List).Methods("GET")
	api.HandleFunc("/scheduled-transfers/{id}", scheduleHandler.Get).Methods("GET")
	api.HandleFunc("/scheduled-transfers/{id}/cancel", scheduleHandler.Cancel).Methods("POST")

	// QR payment routes
	api.HandleFunc("/qr-payments", qrHandler.Generate).Methods("POST")
	api.HandleFunc("/qr-payments/{code}", qrHandler.Get).Methods("GET")
	api.HandleFunc("/qr-payments/{code}/pay", qrHandler.Pay).Methods("POST")
	api.HandleFunc("/qr-payments/{code}/cancel", qrHandler.Cancel).Methods("POST")

	// Admin routes
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(handler.RequireAdmin())
	admin.HandleFunc("/accounts/{account_id}", accountHandler.AdminGetAccount).Methods("GET")
	admin.HandleFunc("/accounts/{account_id}/deposit", transferHandler.AdminDeposit).Methods("POST")
	admin.HandleFunc("/accounts/{account_id}/withdraw", transferHandler.AdminWithdraw).Methods("POST")
	admin.HandleFunc("/accounts/{account_id}/freeze", accountHandler.Freeze).Methods("POST")
	admin.HandleFunc("/accounts/{account_id}/activate", accountHandler.Activate).Methods("POST")
	admin.HandleFunc("/accounts/{account_id}/close", accountHandler.Close).Methods("POST")
	admin.HandleFunc("/accounts/{account_id}/unlock-secret", accountHandler.UnlockSecret).Methods("POST")

	return router
}

func healthHandler(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger, metrics *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create response wrapper to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			metrics.IncrHTTPRequest(strconv.Itoa(ww.statusCode))
			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	// Create listener first to get actual port
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	// Get the actual port being used
	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start", "error", err)
		}
	}()

	return s.port, nil
}

// Run starts the HTTP server and the scheduled transfer poller and blocks
// until ctx is cancelled or either of them fails, then shuts down.
func (s *Server) Run(ctx context.Context, port string, shutdownTimeout time.Duration) error {
	if _, err := s.Start(port); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	pollerDone := make(chan struct{})
	g.Go(func() error {
		defer close(pollerDone)
		return s.poller.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Executions in flight still need the store.
		<-pollerDone
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	})
	return g.Wait()
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	// Deliver notifications of requests that completed before shutdown.
	s.dispatcher.Wait()

	if s.db != nil {
		s.db.Close()
	}
	return err
}

// RunScheduler executes one batch of due scheduled transfers.
func (s *Server) RunScheduler(ctx context.Context) scheduler.Result {
	return s.poller.RunOnce(ctx)
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	// Tests run on port 0 and keep their output quiet
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		logger = logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		return nil, "", err
	}

	return server, port, nil
}
