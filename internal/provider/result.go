// Package provider holds the memoize-or-fallback call pattern shared by the
// third-party API clients.
package provider

import (
	"context"
	"encoding/json"
)

// Source says where a Result's value came from.
type Source string

const (
	SourceLive     Source = "live"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

// Result is a provider value tagged with its origin. Err is the upstream
// failure that caused a fallback and is nil otherwise.
type Result[T any] struct {
	Value  T
	Source Source
	Err    error
}

// Degraded reports whether the value is a synthetic fallback.
func (r Result[T]) Degraded() bool {
	return r.Source == SourceFallback
}

func Live[T any](v T) Result[T] {
	return Result[T]{Value: v, Source: SourceLive}
}

func Cached[T any](v T) Result[T] {
	return Result[T]{Value: v, Source: SourceCache}
}

func Fallback[T any](v T, err error) Result[T] {
	return Result[T]{Value: v, Source: SourceFallback, Err: err}
}

// Cache is the subset of cache.Manager the clients use.
type Cache interface {
	Get(ctx context.Context, input any, service, endpoint string) json.RawMessage
	Set(ctx context.Context, input any, service, endpoint string, response any)
}

// NopCache never hits and drops every write.
type NopCache struct{}

func (NopCache) Get(context.Context, any, string, string) json.RawMessage { return nil }

func (NopCache) Set(context.Context, any, string, string, any) {}
