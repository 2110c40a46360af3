package provider

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/metrics"
)

// Call identifies one memoizable provider request. Input must already be
// normalized so that equivalent requests serialize identically.
type Call struct {
	Service  string
	Endpoint string
	Input    any
}

// Memoize serves call from cache when possible, otherwise runs fetch once.
// Successful fetches are cached; failures are logged and replaced by
// fallback(), which is never cached.
func Memoize[T any](
	ctx context.Context,
	cache Cache,
	log *zap.Logger,
	call Call,
	fetch func(context.Context) (T, error),
	fallback func() T,
) Result[T] {
	if cache == nil {
		cache = NopCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	fields := []zap.Field{zap.String("service", call.Service), zap.String("endpoint", call.Endpoint)}

	if raw := cache.Get(ctx, call.Input, call.Service, call.Endpoint); raw != nil {
		var v T
		err := json.Unmarshal(raw, &v)
		if err == nil {
			metrics.ProviderCalls.WithLabelValues(call.Service, call.Endpoint, string(SourceCache)).Inc()
			return Cached(v)
		}
		log.Warn("ignoring undecodable cache entry", append(fields, zap.Error(err))...)
	}

	v, err := fetch(ctx)
	if err != nil {
		log.Warn("provider call failed, using fallback", append(fields, zap.Error(err))...)
		metrics.ProviderCalls.WithLabelValues(call.Service, call.Endpoint, string(SourceFallback)).Inc()
		return Fallback(fallback(), err)
	}

	cache.Set(ctx, call.Input, call.Service, call.Endpoint, v)
	metrics.ProviderCalls.WithLabelValues(call.Service, call.Endpoint, string(SourceLive)).Inc()
	return Live(v)
}
