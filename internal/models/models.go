package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrJobFinished = errors.New("job already finished")
)

type Tenant struct {
	ID               int       `json:"id"`
	Name             string    `json:"name"`
	APIKey           string    `json:"api_key"`
	RateLimitPerHour int       `json:"rate_limit_per_hour"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TenantUpdate carries the optional fields of a partial tenant update.
type TenantUpdate struct {
	Name             *string `json:"name"`
	RateLimitPerHour *int    `json:"rate_limit_per_hour"`
}

type AccessLog struct {
	ID             int64     `json:"id"`
	TenantID       int       `json:"tenant_id"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMs int       `json:"response_time_ms"`
	RequestSize    int64     `json:"request_size"`
	ResponseSize   int64     `json:"response_size"`
	Timestamp      time.Time `json:"timestamp"`
}

type TenantAnalytics struct {
	TenantID          int              `json:"tenant_id"`
	From              time.Time        `json:"from"`
	To                time.Time        `json:"to"`
	TotalRequests     int64            `json:"total_requests"`
	ErrorRequests     int64            `json:"error_requests"`
	AvgResponseTimeMs float64          `json:"avg_response_time_ms"`
	Endpoints         []EndpointCounts `json:"endpoints"`
}

type EndpointCounts struct {
	Endpoint string `json:"endpoint"`
	Requests int64  `json:"requests"`
}

// CacheEntry is one memoized provider response. CacheKey is unique; writes replace.
type CacheEntry struct {
	CacheKey         string          `json:"cache_key"`
	ServiceType      string          `json:"service_type"`
	EndpointType     string          `json:"endpoint_type"`
	InputData        json.RawMessage `json:"input_data"`
	InputFingerprint string          `json:"input_fingerprint"`
	APIResponse      json.RawMessage `json:"api_response"`
	ExpiresAt        time.Time       `json:"expires_at"`
	HitCount         int64           `json:"hit_count"`
	CreatedAt        time.Time       `json:"created_at"`
	LastAccessedAt   time.Time       `json:"last_accessed_at"`
}

// Expired reports whether the entry is past its expiry at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CacheTotals are the raw aggregates read from the cache table.
type CacheTotals struct {
	TotalEntries   int64
	ExpiredEntries int64
	TotalHits      int64
	StorageBytes   int64
	Services       []ServiceCacheStats
}

type ServiceCacheStats struct {
	Service  string `json:"service"`
	Endpoint string `json:"endpoint"`
	Entries  int64  `json:"entries"`
	Hits     int64  `json:"hits"`
}

type CacheStats struct {
	TotalEntries      int64               `json:"total_entries"`
	ExpiredEntries    int64               `json:"expired_entries"`
	TotalHits         int64               `json:"total_hits"`
	AvgHitRate        float64             `json:"avg_hit_rate"`
	SizeEstimateBytes int64               `json:"size_estimate_bytes"`
	Services          []ServiceCacheStats `json:"services"`
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

type AnalysisJob struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      int             `json:"tenant_id"`
	TargetURL     string          `json:"target_url"`
	Params        json.RawMessage `json:"params,omitempty"`
	Status        JobStatus       `json:"status"`
	Progress      int             `json:"progress"`
	StatusMessage string          `json:"status_message"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}
