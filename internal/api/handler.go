// Package api serves the tenant-facing keyword research and analysis endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/analysis"
	"github.com/HanTheDev/adinsight-api/internal/auth"
	"github.com/HanTheDev/adinsight-api/internal/dataforseo"
	"github.com/HanTheDev/adinsight-api/internal/llm"
	"github.com/HanTheDev/adinsight-api/internal/logger"
	"github.com/HanTheDev/adinsight-api/internal/models"
	"github.com/HanTheDev/adinsight-api/internal/provider"
	"github.com/HanTheDev/adinsight-api/internal/ratelimit"
)

type TenantStore interface {
	GetTenantByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error)
	GetTenantByID(ctx context.Context, id int) (*models.Tenant, error)
	LogAccess(ctx context.Context, log *models.AccessLog) error
}

type Limiter interface {
	Allow(ctx context.Context, tenantID int, limit int) ratelimit.Decision
}

type KeywordData interface {
	SearchVolume(ctx context.Context, keywords []string) provider.Result[[]dataforseo.KeywordData]
	KeywordSuggestions(ctx context.Context, seed string, limit int) provider.Result[[]dataforseo.KeywordData]
	KeywordsForSite(ctx context.Context, domain string) provider.Result[[]dataforseo.KeywordData]
}

type Classifier interface {
	ClassifyKeywords(ctx context.Context, keywords []string) provider.Result[llm.KeywordClassification]
}

type Jobs interface {
	Submit(ctx context.Context, tenantID int, req analysis.Request) (*models.AnalysisJob, error)
	Get(ctx context.Context, tenantID int, id uuid.UUID) (*models.AnalysisJob, error)
	Cancel(ctx context.Context, tenantID int, id uuid.UUID) error
}

type Deps struct {
	Tenants    TenantStore
	Limiter    Limiter
	Keywords   KeywordData
	Classifier Classifier
	Jobs       Jobs
	JWTSecret  string
	TokenTTL   time.Duration

	// StreamPollInterval is how often an analysis stream re-reads its job.
	StreamPollInterval time.Duration
}

type Handler struct {
	Deps
	now func() time.Time
	log *zap.Logger
}

func NewHandler(d Deps) *Handler {
	if d.TokenTTL <= 0 {
		d.TokenTTL = auth.DefaultTokenTTL
	}
	return &Handler{Deps: d, now: time.Now, log: logger.WithModule("api")}
}

func (h *Handler) RegisterRoutes(router *mux.Router, mw *auth.Middleware) {
	router.HandleFunc("/auth/token", h.IssueToken).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(observe, mw.Authenticate, h.tenantGate)

	api.HandleFunc("/keywords/search-volume", h.SearchVolume).Methods(http.MethodPost)
	api.HandleFunc("/keywords/suggestions", h.Suggestions).Methods(http.MethodPost)
	api.HandleFunc("/keywords/site", h.KeywordsForSite).Methods(http.MethodPost)
	api.HandleFunc("/keywords/classify", h.Classify).Methods(http.MethodPost)

	api.HandleFunc("/analyses", h.CreateAnalysis).Methods(http.MethodPost)
	api.HandleFunc("/analyses/{id}", h.GetAnalysis).Methods(http.MethodGet)
	api.HandleFunc("/analyses/{id}/cancel", h.CancelAnalysis).Methods(http.MethodPost)
	api.HandleFunc("/analyses/{id}/stream", h.StreamAnalysis).Methods(http.MethodGet)
}
