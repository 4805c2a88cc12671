package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/finbridge/finbridge/auth"
	"github.com/finbridge/finbridge/config"
	"github.com/finbridge/finbridge/handlers"
	"github.com/finbridge/finbridge/keys"
	authMiddleware "github.com/finbridge/finbridge/middleware"
	"github.com/finbridge/finbridge/store"
	"github.com/finbridge/finbridge/upstream"
)

func main() {
	// Load .env if present, then configuration from the environment
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Initialize store (PostgreSQL if configured, otherwise memory)
	var st store.Store
	var closeDB func()

	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}

		conn, err := pgStore.Pool().Acquire(context.Background())
		if err != nil {
			logger.Fatal("failed to acquire database connection", zap.Error(err))
		}
		if err := store.RunMigrations(context.Background(), conn.Conn(), logger); err != nil {
			conn.Release()
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		conn.Release()

		st = pgStore
		closeDB = func() { pgStore.Close() }
		logger.Info("using postgresql storage")
	} else {
		st = store.NewMemoryStore()
		logger.Info("using in-memory storage")
	}

	// Key material and ledger
	material, err := keys.NewMaterial(
		keys.WithBuffer(cfg.Keys.BufferSize),
		keys.WithVerificationCache(cfg.Keys.CacheSize),
	)
	if err != nil {
		logger.Fatal("failed to initialize key material", zap.Error(err))
	}
	defer material.Close()

	ledger := keys.NewLedger(st, material, keys.LedgerOptions{
		MaxActiveKeys: cfg.Keys.MaxActive,
		DefaultTTL:    cfg.Keys.DefaultTTL,
		MaxTTL:        cfg.Keys.MaxTTL,
		Retention:     cfg.Keys.Retention,
	}, logger)

	// Provider client, broker and rotator
	providerClient := upstream.NewClient(cfg.Upstream.Timeout, upstream.RetryPolicy{
		MaxAttempts: cfg.Upstream.MaxAttempts,
		BaseDelay:   cfg.Upstream.BaseBackoff,
	}, logger)

	var broker *upstream.Broker
	if cfg.Upstream.SigningKeyPEM != "" {
		key, err := upstream.ParseSigningKey(cfg.Upstream.SigningKeyPEM)
		if err != nil {
			logger.Fatal("failed to parse provider signing key", zap.Error(err))
		}
		broker = upstream.NewBroker(upstream.BrokerConfig{
			TokenURL:   cfg.Upstream.TokenURL,
			APIBaseURL: cfg.Upstream.APIBaseURL,
			ClientID:   cfg.Upstream.ClientID,
			SigningKey: key,
		}, providerClient, logger)
	} else {
		logger.Warn("provider signing key not configured, service-level calls disabled")
	}

	rotator := upstream.NewRotator(upstream.RotatorConfig{
		TokenURL:     cfg.Upstream.TokenURL,
		ClientID:     cfg.Upstream.ClientID,
		ClientSecret: cfg.Upstream.ClientSecret,
		RedirectURI:  cfg.Upstream.RedirectURI,
	}, st, providerClient, logger)

	// JWT service and middleware
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.SessionTTL)
	sessionAuth := authMiddleware.NewAuthMiddleware(jwtService)
	keyAuth := authMiddleware.NewAPIKeyMiddleware(ledger)

	// Handlers
	authHandler := handlers.NewAuthHandler(st, jwtService, cfg.JWT.SessionTTL)
	apiKeyHandler := handlers.NewAPIKeyHandler(ledger)
	connectionHandler := handlers.NewConnectionHandler(rotator)
	providerHandler := handlers.NewProviderHandler(broker)

	// Router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Get("/health", handlers.HealthCheck)
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
	})

	// Session-protected routes
	r.Route("/api", func(r chi.Router) {
		r.Use(sessionAuth.RequireAuth)
		r.Get("/auth/me", authHandler.Me)

		r.Route("/keys", func(r chi.Router) {
			r.Post("/", apiKeyHandler.Create)
			r.Get("/", apiKeyHandler.List)
			r.Delete("/{id}", apiKeyHandler.Revoke)
			r.Post("/verify", apiKeyHandler.Verify)
		})

		r.Route("/connection", func(r chi.Router) {
			r.Post("/", connectionHandler.Connect)
			r.Get("/", connectionHandler.Status)
			r.Delete("/", connectionHandler.Disconnect)
		})

		r.Get("/institutions", providerHandler.Institutions)
	})

	// Programmatic access authenticated by API key
	r.Route("/v1", func(r chi.Router) {
		r.Use(keyAuth.RequireAPIKey)
		r.Get("/whoami", func(w http.ResponseWriter, req *http.Request) {
			userID, _ := authMiddleware.GetUserFromContext(req.Context())
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"user_id":"` + userID + `"}`))
		})
	})

	// Background reaper for expired and idle keys
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := ledger.Reap(ctx); err != nil {
					logger.Warn("key reap failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	if closeDB != nil {
		closeDB()
	}

	logger.Info("server exited")
}
