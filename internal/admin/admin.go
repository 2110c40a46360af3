package admin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/auth"
	"github.com/HanTheDev/adinsight-api/internal/httpx"
	"github.com/HanTheDev/adinsight-api/internal/logger"
	"github.com/HanTheDev/adinsight-api/internal/models"
)

const (
	defaultRateLimit = 1000
	dateLayout       = "2006-01-02"
)

type Store interface {
	ListTenants(ctx context.Context) ([]models.Tenant, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenantByID(ctx context.Context, id int) (*models.Tenant, error)
	UpdateTenant(ctx context.Context, id int, update models.TenantUpdate) error
	DeleteTenant(ctx context.Context, id int) error
	RotateAPIKey(ctx context.Context, id int, apiKey string) error
	GetTenantAnalytics(ctx context.Context, tenantID int, from, to time.Time) (*models.TenantAnalytics, error)
}

// Cache is the operator view of the response cache.
type Cache interface {
	Stats(ctx context.Context) *models.CacheStats
	CleanupExpired(ctx context.Context) int64
	Invalidate(ctx context.Context, key string) bool
}

type AdminHandler struct {
	db    Store
	cache Cache
	now   func() time.Time
	log   *zap.Logger
}

func NewAdminHandler(store Store, cache Cache) *AdminHandler {
	return &AdminHandler{db: store, cache: cache, now: time.Now, log: logger.WithModule("admin")}
}

func (h *AdminHandler) RegisterRoutes(router *mux.Router, mw *auth.Middleware) {
	r := router.PathPrefix("/admin").Subrouter()
	r.Use(mw.RequireAdmin)

	// Tenant management
	r.HandleFunc("/tenants", h.ListTenants).Methods(http.MethodGet)
	r.HandleFunc("/tenants", h.CreateTenant).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{id}", h.GetTenant).Methods(http.MethodGet)
	r.HandleFunc("/tenants/{id}", h.UpdateTenant).Methods(http.MethodPut)
	r.HandleFunc("/tenants/{id}", h.DeleteTenant).Methods(http.MethodDelete)
	r.HandleFunc("/tenants/{id}/rotate-key", h.RotateAPIKey).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{id}/analytics", h.GetAnalytics).Methods(http.MethodGet)

	// Response cache
	r.HandleFunc("/cache/stats", h.GetCacheStats).Methods(http.MethodGet)
	r.HandleFunc("/cache/cleanup", h.CleanupCache).Methods(http.MethodPost)
	r.HandleFunc("/cache/{key}", h.InvalidateCacheEntry).Methods(http.MethodDelete)
}

type createTenantRequest struct {
	Name             string `json:"name" validate:"required,max=255"`
	RateLimitPerHour int    `json:"rate_limit_per_hour" validate:"omitempty,min=1"`
}

func (h *AdminHandler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if req.RateLimitPerHour == 0 {
		req.RateLimitPerHour = defaultRateLimit
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		httpx.WriteError(w, h.log, httpx.Wrap(err, "Failed to generate API key"))
		return
	}

	tenant := &models.Tenant{
		Name:             req.Name,
		APIKey:           apiKey,
		RateLimitPerHour: req.RateLimitPerHour,
	}
	if err := h.db.CreateTenant(r.Context(), tenant); err != nil {
		httpx.WriteError(w, h.log, httpx.Wrap(err, "Failed to create tenant"))
		return
	}

	h.log.Info("tenant created", zap.Int("tenant_id", tenant.ID), zap.String("name", tenant.Name))
	httpx.WriteJSON(w, http.StatusCreated, tenant)
}

func (h *AdminHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.db.ListTenants(r.Context())
	if err != nil {
		httpx.WriteError(w, h.log, httpx.Wrap(err, "Failed to list tenants"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tenants)
}

func (h *AdminHandler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	tenant, err := h.db.GetTenantByID(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Failed to load tenant")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tenant)
}

type updateTenantRequest struct {
	Name             *string `json:"name" validate:"omitempty,min=1,max=255"`
	RateLimitPerHour *int    `json:"rate_limit_per_hour" validate:"omitempty,min=1"`
}

func (h *AdminHandler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	var req updateTenantRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if req.Name == nil && req.RateLimitPerHour == nil {
		httpx.WriteError(w, h.log, httpx.NewBadRequest("Nothing to update"))
		return
	}

	update := models.TenantUpdate{Name: req.Name, RateLimitPerHour: req.RateLimitPerHour}
	if err := h.db.UpdateTenant(r.Context(), id, update); err != nil {
		h.writeStoreError(w, err, "Failed to update tenant")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *AdminHandler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	if err := h.db.DeleteTenant(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "Failed to delete tenant")
		return
	}
	h.log.Info("tenant deleted", zap.Int("tenant_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	newAPIKey, err := generateAPIKey()
	if err != nil {
		httpx.WriteError(w, h.log, httpx.Wrap(err, "Failed to generate API key"))
		return
	}
	if err := h.db.RotateAPIKey(r.Context(), id, newAPIKey); err != nil {
		h.writeStoreError(w, err, "Failed to rotate API key")
		return
	}

	h.log.Info("api key rotated", zap.Int("tenant_id", id))
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"api_key": newAPIKey,
		"status":  "rotated",
	})
}

// GetAnalytics reports access-log aggregates for ?from=YYYY-MM-DD&to=YYYY-MM-DD.
// The range defaults to the last 30 days; to is inclusive.
func (h *AdminHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	today := h.now().UTC().Truncate(24 * time.Hour)
	from, err := parseDate(r.URL.Query().Get("from"), today.AddDate(0, 0, -30))
	if err != nil {
		httpx.WriteError(w, h.log, httpx.NewBadRequest("from must be YYYY-MM-DD"))
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"), today)
	if err != nil {
		httpx.WriteError(w, h.log, httpx.NewBadRequest("to must be YYYY-MM-DD"))
		return
	}
	to = to.AddDate(0, 0, 1)
	if !from.Before(to) {
		httpx.WriteError(w, h.log, httpx.NewBadRequest("from must not be after to"))
		return
	}

	stats, err := h.db.GetTenantAnalytics(r.Context(), tenantID, from, to)
	if err != nil {
		h.writeStoreError(w, err, "Failed to get analytics")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.Stats(r.Context())
	if stats == nil {
		httpx.WriteError(w, h.log, httpx.New("CACHE_UNAVAILABLE", "Cache statistics unavailable", http.StatusServiceUnavailable))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) CleanupCache(w http.ResponseWriter, r *http.Request) {
	deleted := h.cache.CleanupExpired(r.Context())
	httpx.WriteJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// InvalidateCacheEntry deletes one entry by its exact cache key, e.g.
// "dataforseo_search_volume_1752550164".
func (h *AdminHandler) InvalidateCacheEntry(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !h.cache.Invalidate(r.Context(), key) {
		httpx.WriteError(w, h.log, httpx.ErrNotFound.WithMessage("Cache entry not found"))
		return
	}
	h.log.Info("cache entry invalidated", zap.String("cache_key", key))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) tenantID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		httpx.WriteError(w, h.log, httpx.NewBadRequest("Invalid tenant ID"))
		return 0, false
	}
	return id, true
}

func (h *AdminHandler) writeStoreError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, models.ErrNotFound) {
		httpx.WriteError(w, h.log, httpx.ErrNotFound.WithMessage("Tenant not found"))
		return
	}
	httpx.WriteError(w, h.log, httpx.Wrap(err, message))
}

func parseDate(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	return time.Parse(dateLayout, s)
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
