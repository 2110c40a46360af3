package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/logger"
	"github.com/HanTheDev/adinsight-api/internal/metrics"
	"github.com/HanTheDev/adinsight-api/internal/models"
)

const DefaultTTL = 90 * 24 * time.Hour

// Store is the persistence the Manager needs. *db.DB implements it.
type Store interface {
	GetCacheEntry(ctx context.Context, key, fingerprint string, now time.Time) (*models.CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, entry *models.CacheEntry) error
	DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error)
	DeleteCacheEntry(ctx context.Context, key string) (bool, error)
	CacheTotals(ctx context.Context, now time.Time) (*models.CacheTotals, error)
}

// Manager memoizes provider responses. Every method is fail-soft: store
// errors are logged and surface as a miss, a no-op write or a nil result.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   *zap.Logger
}

type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
		log:   logger.WithModule("cache"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the stored response for input, or nil when there is no live entry.
func (m *Manager) Get(ctx context.Context, input any, service, endpoint string) json.RawMessage {
	payload, err := keyPayload(input, service, endpoint)
	if err != nil {
		m.log.Warn("cache lookup skipped", zap.String("service", service), zap.String("endpoint", endpoint), zap.Error(err))
		metrics.CacheLookups.WithLabelValues(service, endpoint, "error").Inc()
		return nil
	}
	key := formatKey(service, endpoint, payload)

	entry, err := m.store.GetCacheEntry(ctx, key, fingerprint(payload), m.now())
	switch {
	case errors.Is(err, models.ErrNotFound):
		metrics.CacheLookups.WithLabelValues(service, endpoint, "miss").Inc()
		return nil
	case err != nil:
		m.log.Warn("cache lookup failed", zap.String("cache_key", key), zap.Error(err))
		metrics.CacheLookups.WithLabelValues(service, endpoint, "error").Inc()
		return nil
	}

	metrics.CacheLookups.WithLabelValues(service, endpoint, "hit").Inc()
	m.log.Debug("cache hit", zap.String("cache_key", key), zap.Int64("hit_count", entry.HitCount))
	return entry.APIResponse
}

// Set stores response under the key for input, replacing any previous entry.
func (m *Manager) Set(ctx context.Context, input any, service, endpoint string, response any) {
	payload, err := keyPayload(input, service, endpoint)
	if err != nil {
		m.log.Warn("cache write skipped", zap.String("service", service), zap.String("endpoint", endpoint), zap.Error(err))
		metrics.CacheWrites.WithLabelValues(service, endpoint, "error").Inc()
		return
	}
	key := formatKey(service, endpoint, payload)

	body, err := json.Marshal(response)
	if err != nil {
		m.log.Warn("cache write skipped", zap.String("cache_key", key), zap.Error(err))
		metrics.CacheWrites.WithLabelValues(service, endpoint, "error").Inc()
		return
	}
	inputJSON, _ := Canonical(input)

	now := m.now()
	entry := &models.CacheEntry{
		CacheKey:         key,
		ServiceType:      service,
		EndpointType:     endpoint,
		InputData:        json.RawMessage(inputJSON),
		InputFingerprint: fingerprint(payload),
		APIResponse:      body,
		ExpiresAt:        now.Add(m.ttl),
		HitCount:         0,
		CreatedAt:        now,
		LastAccessedAt:   now,
	}
	if err := m.store.UpsertCacheEntry(ctx, entry); err != nil {
		m.log.Warn("cache write failed", zap.String("cache_key", key), zap.Error(err))
		metrics.CacheWrites.WithLabelValues(service, endpoint, "error").Inc()
		return
	}
	metrics.CacheWrites.WithLabelValues(service, endpoint, "ok").Inc()
}

// CleanupExpired deletes entries past their expiry and returns how many went.
// Store errors are logged and reported as zero deletions.
func (m *Manager) CleanupExpired(ctx context.Context) int64 {
	n, err := m.DeleteExpired(ctx)
	if err != nil {
		m.log.Warn("cache cleanup failed", zap.Error(err))
		return 0
	}
	return n
}

// DeleteExpired is CleanupExpired for callers that need the store error.
func (m *Manager) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpiredCacheEntries(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	metrics.CacheEvictions.Add(float64(n))
	m.log.Info("expired cache entries removed", zap.Int64("deleted", n))
	return n, nil
}

// Invalidate removes a single entry by its exact key.
func (m *Manager) Invalidate(ctx context.Context, key string) bool {
	deleted, err := m.store.DeleteCacheEntry(ctx, key)
	if err != nil {
		m.log.Warn("cache invalidation failed", zap.String("cache_key", key), zap.Error(err))
		return false
	}
	return deleted
}

// Stats aggregates the table, or returns nil if it cannot be read.
func (m *Manager) Stats(ctx context.Context) *models.CacheStats {
	totals, err := m.store.CacheTotals(ctx, m.now())
	if err != nil {
		m.log.Warn("cache stats unavailable", zap.Error(err))
		return nil
	}

	stats := &models.CacheStats{
		TotalEntries:      totals.TotalEntries,
		ExpiredEntries:    totals.ExpiredEntries,
		TotalHits:         totals.TotalHits,
		SizeEstimateBytes: totals.StorageBytes,
		Services:          totals.Services,
	}
	if totals.TotalEntries > 0 {
		stats.AvgHitRate = float64(totals.TotalHits) / float64(totals.TotalEntries)
	}
	return stats
}
