package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"

	"github.com/LautiLosio/account-balance-tracker/src/config"
	"github.com/LautiLosio/account-balance-tracker/src/database"
	"github.com/LautiLosio/account-balance-tracker/src/handlers"
	"github.com/LautiLosio/account-balance-tracker/src/ledger"
	"github.com/LautiLosio/account-balance-tracker/src/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

var limiter *rate.Limiter

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{}
	for _, origin := range config.Cfg.AllowedOrigins {
		allowedOrigins[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("Account balance tracker server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	database.MustMigrate()

	limiter = rate.NewLimiter(rate.Every(config.Cfg.RateLimitInterval), config.Cfg.RateLimitBurst)

	accountsCache := cache.New(config.Cfg.CacheExpiration, config.Cfg.CacheCleanupInterval)
	store := ledger.NewStore(database.DB, accountsCache)

	accountHandler := handlers.NewAccountHandler(store)
	txHandler := handlers.NewTransactionHandler(store)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Account balance tracker backend is running"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		r.Group(func(r chi.Router) {
			r.Use(handlers.AuthMiddleware)

			r.Get("/accounts", accountHandler.ListAccounts)
			r.Post("/accounts", accountHandler.CreateAccount)
			r.Get("/accounts/{id}", accountHandler.GetAccount)
			r.Put("/accounts/{id}", accountHandler.UpdateAccount)
			r.Delete("/accounts/{id}", accountHandler.DeleteAccount)

			r.Post("/accounts/{id}/transactions", txHandler.AddTransaction)
			r.Put("/accounts/{id}/transactions/{txID}", txHandler.UpdateTransaction)
			r.Delete("/accounts/{id}/transactions/{txID}", txHandler.DeleteTransaction)
		})
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  config.Cfg.ReadTimeout,
		WriteTimeout: config.Cfg.WriteTimeout,
		IdleTimeout:  config.Cfg.IdleTimeout,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
}
