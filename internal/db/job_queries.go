package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/HanTheDev/adinsight-api/internal/models"
)

const jobColumns = `id, tenant_id, target_url, params, status, progress, status_message,
        result, error, created_at, updated_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*models.AnalysisJob, error) {
	var (
		job    models.AnalysisJob
		status string
		params []byte
		result []byte
	)
	err := row.Scan(
		&job.ID,
		&job.TenantID,
		&job.TargetURL,
		&params,
		&status,
		&job.Progress,
		&job.StatusMessage,
		&result,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	job.Status = models.JobStatus(status)
	if len(params) > 0 {
		job.Params = json.RawMessage(params)
	}
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	return &job, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (db *DB) CreateAnalysisJob(ctx context.Context, job *models.AnalysisJob) error {
	query := `
        INSERT INTO analysis_jobs (id, tenant_id, target_url, params, status, progress, status_message)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at, updated_at
    `
	return db.Pool.QueryRow(ctx, query,
		job.ID, job.TenantID, job.TargetURL, nullableJSON(job.Params),
		string(job.Status), job.Progress, job.StatusMessage,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (db *DB) GetAnalysisJob(ctx context.Context, tenantID int, id uuid.UUID) (*models.AnalysisJob, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE id = $1 AND tenant_id = $2`
	return scanJob(db.Pool.QueryRow(ctx, query, id, tenantID))
}

// UpdateJobProgress records progress on a non-terminal job and returns its
// current status so the caller can notice a cancellation.
func (db *DB) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int, message string) (models.JobStatus, error) {
	query := `
        UPDATE analysis_jobs
        SET status = CASE WHEN status = 'pending' THEN 'running' ELSE status END,
            progress = CASE WHEN status IN ('pending', 'running') THEN $2 ELSE progress END,
            status_message = CASE WHEN status IN ('pending', 'running') THEN $3 ELSE status_message END,
            updated_at = NOW()
        WHERE id = $1
        RETURNING status
    `
	var status string
	if err := db.Pool.QueryRow(ctx, query, id, progress, message).Scan(&status); err != nil {
		return "", notFound(err)
	}
	return models.JobStatus(status), nil
}

// CompleteJob stores the result unless the job already reached a terminal state.
func (db *DB) CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage, at time.Time) error {
	return db.finishJob(ctx, id, models.JobCompleted, "Analysis complete", result, "", at)
}

func (db *DB) FailJob(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	return db.finishJob(ctx, id, models.JobFailed, "Analysis failed", nil, message, at)
}

func (db *DB) finishJob(ctx context.Context, id uuid.UUID, status models.JobStatus, statusMessage string, result json.RawMessage, errMsg string, at time.Time) error {
	query := `
        UPDATE analysis_jobs
        SET status = $2,
            progress = CASE WHEN $2 = 'completed' THEN 100 ELSE progress END,
            status_message = $3,
            result = $4,
            error = $5,
            completed_at = $6,
            updated_at = NOW()
        WHERE id = $1 AND status IN ('pending', 'running')
    `
	tag, err := db.Pool.Exec(ctx, query, id, string(status), statusMessage, nullableJSON(result), errMsg, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobFinished
	}
	return nil
}

// CancelJob flags a pending or running job; the runner stops at its next step boundary.
func (db *DB) CancelJob(ctx context.Context, tenantID int, id uuid.UUID, at time.Time) error {
	query := `
        UPDATE analysis_jobs
        SET status = 'cancelled', status_message = 'Cancelled by user', completed_at = $3, updated_at = NOW()
        WHERE id = $1 AND tenant_id = $2 AND status IN ('pending', 'running')
    `
	tag, err := db.Pool.Exec(ctx, query, id, tenantID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := db.GetAnalysisJob(ctx, tenantID, id); err != nil {
		return err
	}
	return models.ErrJobFinished
}
