package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/openlend/risk-engine/internal/metrics"
	"github.com/openlend/risk-engine/internal/risk"
	"github.com/openlend/risk-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := risk.NewWSHub()
	go wsHub.Run()

	// --- Risk service ---
	riskSvc := risk.NewService(st, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"risk-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time snapshot updates.
		r.Get("/ws", wsHub.HandleWS)

		// Snapshot ingestion.
		r.Put("/banks", riskSvc.IngestBank)
		r.Put("/banks/{bankID}/price", riskSvc.IngestPrice)
		r.Put("/accounts", riskSvc.IngestAccount)
		r.Put("/groups/{groupID}/emode", riskSvc.IngestEmodePairs)

		// Bank queries.
		r.Get("/banks", riskSvc.ListBanks)
		r.Get("/banks/{bankID}", riskSvc.GetBank)
		r.Get("/banks/{bankID}/rates", riskSvc.GetBankRates)

		// Account risk queries.
		r.Get("/accounts", riskSvc.ListAccounts)
		r.Get("/accounts/{accountID}", riskSvc.GetAccount)
		r.Get("/accounts/{accountID}/health", riskSvc.GetHealth)
		r.Get("/accounts/{accountID}/free-collateral", riskSvc.GetFreeCollateral)
		r.Get("/accounts/{accountID}/max-borrow/{bankID}", riskSvc.GetMaxBorrow)
		r.Get("/accounts/{accountID}/max-withdraw/{bankID}", riskSvc.GetMaxWithdraw)
		r.Get("/accounts/{accountID}/liquidation-price/{bankID}", riskSvc.GetLiquidationPrice)
		r.Get("/accounts/{accountID}/max-liquidatable", riskSvc.GetMaxLiquidatable)
		r.Get("/accounts/{accountID}/emode", riskSvc.GetEmode)

		// Leverage previews.
		r.Get("/leverage/max", riskSvc.GetMaxLeverage)
		r.Post("/leverage/preview", riskSvc.PreviewLeverage)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("risk-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down risk-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("risk-engine stopped")
}
