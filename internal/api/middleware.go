package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/auth"
	"github.com/HanTheDev/adinsight-api/internal/httpx"
	"github.com/HanTheDev/adinsight-api/internal/metrics"
	"github.com/HanTheDev/adinsight-api/internal/models"
)

type tenantKey struct{}

const accessLogTimeout = 5 * time.Second

// tenantGate loads the authenticated tenant, applies its hourly quota and
// records an access log row once the response is written.
func (h *Handler) tenantGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := h.now()

		claims, ok := auth.GetTenantFromContext(r.Context())
		if !ok {
			httpx.WriteError(w, h.log, httpx.ErrUnauthorized)
			return
		}

		tenant, err := h.Tenants.GetTenantByID(r.Context(), claims.TenantID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				httpx.WriteError(w, h.log, httpx.ErrUnauthorized.WithMessage("Tenant no longer exists"))
				return
			}
			httpx.WriteError(w, h.log, httpx.Wrap(err, "Failed to load tenant"))
			return
		}

		decision := h.Limiter.Allow(r.Context(), tenant.ID, tenant.RateLimitPerHour)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		if !decision.Allowed {
			h.log.Info("rate limit exceeded", zap.Int("tenant_id", tenant.ID))
			w.Header().Set("Retry-After", strconv.Itoa(int(max(decision.ResetAt.Sub(h.now()).Seconds(), 1))))
			httpx.WriteError(rec, h.log, httpx.ErrRateLimit)
		} else {
			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), tenantKey{}, tenant)))
		}

		h.logAccess(r, tenant.ID, rec, h.now().Sub(start))
	})
}

func (h *Handler) logAccess(r *http.Request, tenantID int, rec *responseRecorder, elapsed time.Duration) {
	entry := &models.AccessLog{
		TenantID:       tenantID,
		Endpoint:       r.URL.Path,
		Method:         r.Method,
		StatusCode:     rec.statusCode,
		ResponseTimeMs: int(elapsed.Milliseconds()),
		RequestSize:    max(r.ContentLength, 0),
		ResponseSize:   int64(rec.size),
	}
	ctx := context.WithoutCancel(r.Context())
	go func() {
		ctx, cancel := context.WithTimeout(ctx, accessLogTimeout)
		defer cancel()
		if err := h.Tenants.LogAccess(ctx, entry); err != nil {
			h.log.Warn("failed to write access log", zap.Int("tenant_id", tenantID), zap.Error(err))
		}
	}()
}

func tenantFrom(ctx context.Context) *models.Tenant {
	t, _ := ctx.Value(tenantKey{}).(*models.Tenant)
	return t
}

// observe records request latency labelled by route template.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.APILatency.
			WithLabelValues(r.Method, route, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	size          int
	headerWritten bool
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	if !r.headerWritten {
		r.statusCode = statusCode
		r.headerWritten = true
		r.ResponseWriter.WriteHeader(statusCode)
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.headerWritten = true
	size, err := r.ResponseWriter.Write(b)
	r.size += size
	return size, err
}

// Hijack lets the analysis stream upgrade through the recorder.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T cannot be hijacked", r.ResponseWriter)
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		r.statusCode = http.StatusSwitchingProtocols
		r.headerWritten = true
	}
	return conn, rw, err
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
