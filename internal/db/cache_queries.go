package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/HanTheDev/adinsight-api/internal/models"
)

const cacheTable = "cache_entries"

// GetCacheEntry reads a live entry and counts the hit in the same statement.
// Expired rows and rows whose stored fingerprint differs return models.ErrNotFound.
func (db *DB) GetCacheEntry(ctx context.Context, key, fingerprint string, now time.Time) (*models.CacheEntry, error) {
	sqlStr, args, err := qb().Update(cacheTable).
		Set("hit_count", sq.Expr("hit_count + 1")).
		Set("last_accessed_at", now).
		Where(sq.Eq{"cache_key": key, "input_fingerprint": fingerprint}).
		Where(sq.Gt{"expires_at": now}).
		Suffix("RETURNING cache_key, service_type, endpoint_type, input_data, input_fingerprint, api_response, expires_at, hit_count, created_at, last_accessed_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build cache lookup: %w", err)
	}

	var entry models.CacheEntry
	err = db.Pool.QueryRow(ctx, sqlStr, args...).Scan(
		&entry.CacheKey,
		&entry.ServiceType,
		&entry.EndpointType,
		&entry.InputData,
		&entry.InputFingerprint,
		&entry.APIResponse,
		&entry.ExpiresAt,
		&entry.HitCount,
		&entry.CreatedAt,
		&entry.LastAccessedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &entry, nil
}

// UpsertCacheEntry replaces any entry with the same key, resetting its hit count.
func (db *DB) UpsertCacheEntry(ctx context.Context, entry *models.CacheEntry) error {
	sqlStr, args, err := qb().Insert(cacheTable).
		Columns("cache_key", "service_type", "endpoint_type", "input_data", "input_fingerprint",
			"api_response", "expires_at", "hit_count", "created_at", "last_accessed_at").
		Values(entry.CacheKey, entry.ServiceType, entry.EndpointType, string(entry.InputData), entry.InputFingerprint,
			string(entry.APIResponse), entry.ExpiresAt, entry.HitCount, entry.CreatedAt, entry.LastAccessedAt).
		Suffix(`ON CONFLICT (cache_key) DO UPDATE SET
            service_type = EXCLUDED.service_type,
            endpoint_type = EXCLUDED.endpoint_type,
            input_data = EXCLUDED.input_data,
            input_fingerprint = EXCLUDED.input_fingerprint,
            api_response = EXCLUDED.api_response,
            expires_at = EXCLUDED.expires_at,
            hit_count = EXCLUDED.hit_count,
            created_at = EXCLUDED.created_at,
            last_accessed_at = EXCLUDED.last_accessed_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build cache upsert: %w", err)
	}

	_, err = db.Pool.Exec(ctx, sqlStr, args...)
	return err
}

func (db *DB) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	sqlStr, args, err := qb().Delete(cacheTable).Where(sq.Lt{"expires_at": now}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build cache cleanup: %w", err)
	}

	tag, err := db.Pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (db *DB) DeleteCacheEntry(ctx context.Context, key string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM cache_entries WHERE cache_key = $1`, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CacheTotals scans the whole table; StorageBytes is the relation size on disk.
func (db *DB) CacheTotals(ctx context.Context, now time.Time) (*models.CacheTotals, error) {
	totals := &models.CacheTotals{Services: []models.ServiceCacheStats{}}

	query := `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE expires_at <= $1),
               COALESCE(SUM(hit_count), 0),
               pg_total_relation_size('cache_entries')
        FROM cache_entries
    `
	if err := db.Pool.QueryRow(ctx, query, now).
		Scan(&totals.TotalEntries, &totals.ExpiredEntries, &totals.TotalHits, &totals.StorageBytes); err != nil {
		return nil, err
	}

	rows, err := db.Pool.Query(ctx, `
        SELECT service_type, endpoint_type, COUNT(*), COALESCE(SUM(hit_count), 0)
        FROM cache_entries
        GROUP BY service_type, endpoint_type
        ORDER BY service_type, endpoint_type
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var s models.ServiceCacheStats
		if err := rows.Scan(&s.Service, &s.Endpoint, &s.Entries, &s.Hits); err != nil {
			return nil, err
		}
		totals.Services = append(totals.Services, s)
	}
	return totals, rows.Err()
}
