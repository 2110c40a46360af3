package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/admin"
	"github.com/HanTheDev/adinsight-api/internal/analysis"
	"github.com/HanTheDev/adinsight-api/internal/api"
	"github.com/HanTheDev/adinsight-api/internal/auth"
	"github.com/HanTheDev/adinsight-api/internal/cache"
	"github.com/HanTheDev/adinsight-api/internal/config"
	"github.com/HanTheDev/adinsight-api/internal/dataforseo"
	"github.com/HanTheDev/adinsight-api/internal/db"
	"github.com/HanTheDev/adinsight-api/internal/httpx"
	"github.com/HanTheDev/adinsight-api/internal/jobs"
	"github.com/HanTheDev/adinsight-api/internal/llm"
	"github.com/HanTheDev/adinsight-api/internal/logger"
	"github.com/HanTheDev/adinsight-api/internal/maintenance"
	"github.com/HanTheDev/adinsight-api/internal/ratelimit"
	"github.com/HanTheDev/adinsight-api/internal/website"
)

const (
	version         = "1.0.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	os.Exit(serve(os.Stderr))
}

// serve runs the server and returns the process exit code. Errors are written
// to stderr as well, since config and logger failures happen before zap is set up.
func serve(stderr io.Writer) int {
	err := run()
	if err != nil {
		logger.Logger().Error("server exited", zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintf(stderr, "adinsight-api: %v\n", err)
		return 1
	}
	return 0
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logger.WithModule("server")
	log.Info("configuration loaded", zap.Stringer("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	limiter, err := ratelimit.NewRateLimiter(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer limiter.Close()

	responses := cache.NewManager(database, cache.WithTTL(cfg.CacheTTL))

	keywords := dataforseo.NewClient(dataforseo.Config{
		BaseURL:      cfg.DataForSEOBaseURL,
		Login:        cfg.DataForSEOLogin,
		Password:     cfg.DataForSEOPassword,
		LocationCode: cfg.DataForSEOLocationCode,
		LanguageCode: cfg.DataForSEOLanguageCode,
	}, responses, dataforseo.WithRateLimit(cfg.DataForSEOMaxRPS, 5))
	model := llm.NewClient(llm.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	}, responses)
	fetcher := website.NewFetcher(cfg.WebsiteFetchTimeout, nil)

	analyzer := analysis.NewWebsiteAnalyzer(fetcher, model)
	predictor := analysis.NewProfitabilityPredictor(analyzer, model, keywords)
	runner := jobs.NewRunner(database, predictor, cfg.MaxConcurrentJobs)

	cleaner := maintenance.NewCleaner(responses, database,
		maintenance.WithCacheSchedule(cfg.CacheCleanupSchedule),
		maintenance.WithAccessLogRetention(cfg.AccessLogRetention))
	if err := cleaner.Start(); err != nil {
		return err
	}

	mw := auth.NewMiddleware(cfg.JWTSecret, cfg.AdminToken)
	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler(database, limiter)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api.NewHandler(api.Deps{
		Tenants:    database,
		Limiter:    limiter,
		Keywords:   keywords,
		Classifier: model,
		Jobs:       runner,
		JWTSecret:  cfg.JWTSecret,
	}).RegisterRoutes(router, mw)
	admin.NewAdminHandler(database, responses).RegisterRoutes(router, mw)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := multierr.Append(srv.Shutdown(shutdownCtx), runner.Shutdown(shutdownCtx))
	select {
	case <-cleaner.Stop().Done():
	case <-shutdownCtx.Done():
	}

	log.Info("server stopped")
	return shutdownErr
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler reports unhealthy when the database is unreachable and
// degraded when only redis is; rate limiting fails open without it.
func healthHandler(database, redis pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"database": "ok", "redis": "ok"}
		status, code := "healthy", http.StatusOK
		if err := redis.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			status = "degraded"
		}
		if err := database.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status, code = "unhealthy", http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, code, map[string]any{
			"status":  status,
			"version": version,
			"checks":  checks,
		})
	}
}
