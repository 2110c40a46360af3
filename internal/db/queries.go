package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/HanTheDev/adinsight-api/internal/models"
)

const tenantColumns = "id, name, api_key, rate_limit_per_hour, created_at, updated_at"

func scanTenant(row interface{ Scan(...any) error }) (*models.Tenant, error) {
	var tenant models.Tenant
	err := row.Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.APIKey,
		&tenant.RateLimitPerHour,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &tenant, nil
}

func (db *DB) GetTenantByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	query := `
        SELECT ` + tenantColumns + `
        FROM tenants
        WHERE api_key = $1
    `
	return scanTenant(db.Pool.QueryRow(ctx, query, apiKey))
}

func (db *DB) GetTenantByID(ctx context.Context, id int) (*models.Tenant, error) {
	query := `
        SELECT ` + tenantColumns + `
        FROM tenants
        WHERE id = $1
    `
	return scanTenant(db.Pool.QueryRow(ctx, query, id))
}

func (db *DB) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := []models.Tenant{}
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, *tenant)
	}
	return tenants, rows.Err()
}

func (db *DB) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	query := `
        INSERT INTO tenants (name, api_key, rate_limit_per_hour)
        VALUES ($1, $2, $3)
        RETURNING id, created_at, updated_at
    `
	return db.Pool.QueryRow(ctx, query, tenant.Name, tenant.APIKey, tenant.RateLimitPerHour).
		Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
}

// UpdateTenant applies the non-nil fields of update.
func (db *DB) UpdateTenant(ctx context.Context, id int, update models.TenantUpdate) error {
	set := map[string]any{"updated_at": sq.Expr("NOW()")}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.RateLimitPerHour != nil {
		set["rate_limit_per_hour"] = *update.RateLimitPerHour
	}

	sqlStr, args, err := qb().Update("tenants").SetMap(set).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := db.Pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *DB) DeleteTenant(ctx context.Context, id int) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *DB) RotateAPIKey(ctx context.Context, id int, apiKey string) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE tenants SET api_key = $2, updated_at = NOW() WHERE id = $1`, id, apiKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *DB) LogAccess(ctx context.Context, log *models.AccessLog) error {
	query := `
        INSERT INTO access_logs (tenant_id, endpoint, method, status_code, response_time_ms, request_size, response_size)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `

	_, err := db.Pool.Exec(ctx, query,
		log.TenantID,
		log.Endpoint,
		log.Method,
		log.StatusCode,
		log.ResponseTimeMs,
		log.RequestSize,
		log.ResponseSize,
	)

	return err
}

// DeleteAccessLogsBefore prunes access log rows older than cutoff.
func (db *DB) DeleteAccessLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM access_logs WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetTenantAnalytics summarises access logs in [from, to).
func (db *DB) GetTenantAnalytics(ctx context.Context, tenantID int, from, to time.Time) (*models.TenantAnalytics, error) {
	stats := &models.TenantAnalytics{TenantID: tenantID, From: from, To: to, Endpoints: []models.EndpointCounts{}}

	totals := `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE status_code >= 400),
               COALESCE(AVG(response_time_ms), 0)
        FROM access_logs
        WHERE tenant_id = $1 AND timestamp >= $2 AND timestamp < $3
    `
	if err := db.Pool.QueryRow(ctx, totals, tenantID, from, to).
		Scan(&stats.TotalRequests, &stats.ErrorRequests, &stats.AvgResponseTimeMs); err != nil {
		return nil, err
	}

	perEndpoint := `
        SELECT endpoint, COUNT(*)
        FROM access_logs
        WHERE tenant_id = $1 AND timestamp >= $2 AND timestamp < $3
        GROUP BY endpoint
        ORDER BY COUNT(*) DESC
    `
	rows, err := db.Pool.Query(ctx, perEndpoint, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ec models.EndpointCounts
		if err := rows.Scan(&ec.Endpoint, &ec.Requests); err != nil {
			return nil, err
		}
		stats.Endpoints = append(stats.Endpoints, ec)
	}
	return stats, rows.Err()
}
