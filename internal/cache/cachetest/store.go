// Package cachetest provides an in-memory cache.Store for tests.
package cachetest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/HanTheDev/adinsight-api/internal/models"
)

var ErrUnavailable = errors.New("cachetest: store unavailable")

// Store mirrors the SQL semantics of the cache table: lookups filter on
// expiry and fingerprint and bump hit_count, writes are upserts.
type Store struct {
	mu      sync.Mutex
	entries map[string]models.CacheEntry

	// Fail makes every call return ErrUnavailable.
	Fail bool

	Gets    int
	Upserts int
}

func NewStore() *Store {
	return &Store{entries: map[string]models.CacheEntry{}}
}

func (s *Store) GetCacheEntry(_ context.Context, key, fingerprint string, now time.Time) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Gets++
	if s.Fail {
		return nil, ErrUnavailable
	}

	entry, ok := s.entries[key]
	if !ok || !now.Before(entry.ExpiresAt) || entry.InputFingerprint != fingerprint {
		return nil, models.ErrNotFound
	}
	entry.HitCount++
	entry.LastAccessedAt = now
	s.entries[key] = entry

	out := entry
	return &out, nil
}

func (s *Store) UpsertCacheEntry(_ context.Context, entry *models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Upserts++
	if s.Fail {
		return ErrUnavailable
	}
	s.entries[entry.CacheKey] = *entry
	return nil
}

func (s *Store) DeleteExpiredCacheEntries(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return 0, ErrUnavailable
	}

	var n int64
	for key, entry := range s.entries {
		if entry.ExpiresAt.Before(now) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteCacheEntry(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return false, ErrUnavailable
	}
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok, nil
}

func (s *Store) CacheTotals(_ context.Context, now time.Time) (*models.CacheTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return nil, ErrUnavailable
	}

	totals := &models.CacheTotals{}
	byService := map[[2]string]*models.ServiceCacheStats{}
	for _, entry := range s.entries {
		totals.TotalEntries++
		totals.TotalHits += entry.HitCount
		totals.StorageBytes += int64(len(entry.APIResponse) + len(entry.InputData))
		if !now.Before(entry.ExpiresAt) {
			totals.ExpiredEntries++
		}
		k := [2]string{entry.ServiceType, entry.EndpointType}
		svc, ok := byService[k]
		if !ok {
			svc = &models.ServiceCacheStats{Service: k[0], Endpoint: k[1]}
			byService[k] = svc
		}
		svc.Entries++
		svc.Hits += entry.HitCount
	}
	for _, svc := range byService {
		totals.Services = append(totals.Services, *svc)
	}
	sort.Slice(totals.Services, func(i, j int) bool {
		if totals.Services[i].Service != totals.Services[j].Service {
			return totals.Services[i].Service < totals.Services[j].Service
		}
		return totals.Services[i].Endpoint < totals.Services[j].Endpoint
	})
	return totals, nil
}

// Put inserts an entry as-is, bypassing the Manager.
func (s *Store) Put(entry models.CacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.CacheKey] = entry
}

// Entry returns a copy of the stored entry for key.
func (s *Store) Entry(key string) (models.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	return entry, ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
