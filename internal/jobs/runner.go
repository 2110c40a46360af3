// Package jobs runs profitability analyses in the background and persists
// their status, progress and result.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/HanTheDev/adinsight-api/internal/analysis"
	"github.com/HanTheDev/adinsight-api/internal/logger"
	"github.com/HanTheDev/adinsight-api/internal/metrics"
	"github.com/HanTheDev/adinsight-api/internal/models"
	"github.com/HanTheDev/adinsight-api/internal/website"
)

// ErrCancelled is returned from the progress callback once the job row has
// been flagged cancelled.
var ErrCancelled = errors.New("job cancelled")

const finalWriteTimeout = 5 * time.Second

type Store interface {
	CreateAnalysisJob(ctx context.Context, job *models.AnalysisJob) error
	GetAnalysisJob(ctx context.Context, tenantID int, id uuid.UUID) (*models.AnalysisJob, error)
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int, message string) (models.JobStatus, error)
	CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage, at time.Time) error
	FailJob(ctx context.Context, id uuid.UUID, message string, at time.Time) error
	CancelJob(ctx context.Context, tenantID int, id uuid.UUID, at time.Time) error
}

type Predictor interface {
	PredictProfitability(ctx context.Context, req analysis.Request, progress analysis.ProgressFunc) (*analysis.Report, error)
}

type Runner struct {
	store     Store
	predictor Predictor
	sem       *semaphore.Weighted
	wg        sync.WaitGroup
	baseCtx   context.Context
	stop      context.CancelFunc
	now       func() time.Time
	log       *zap.Logger
}

// NewRunner allows at most maxConcurrent analyses to run at once.
func NewRunner(store Store, predictor Predictor, maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Runner{
		store:     store,
		predictor: predictor,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		baseCtx:   ctx,
		stop:      stop,
		now:       time.Now,
		log:       logger.WithModule("jobs"),
	}
}

// Submit records a pending job for tenantID and starts it in the background.
func (r *Runner) Submit(ctx context.Context, tenantID int, req analysis.Request) (*models.AnalysisJob, error) {
	target, err := website.NormalizeURL(req.URL)
	if err != nil {
		return nil, err
	}
	req.URL = target

	params, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode job params: %w", err)
	}

	job := &models.AnalysisJob{
		ID:            uuid.New(),
		TenantID:      tenantID,
		TargetURL:     target,
		Params:        params,
		Status:        models.JobPending,
		StatusMessage: "Queued",
	}
	if err := r.store.CreateAnalysisJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Run(r.baseCtx, job.ID, req); err != nil {
			r.log.Debug("analysis job ended with error", zap.Stringer("job_id", job.ID), zap.Error(err))
		}
	}()
	return job, nil
}

// Run executes one job synchronously and records its final state. The
// returned error is the analysis error, if any.
func (r *Runner) Run(ctx context.Context, id uuid.UUID, req analysis.Request) error {
	log := r.log.With(zap.Stringer("job_id", id), zap.String("url", req.URL))

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.fail(ctx, log, id, err)
		return err
	}
	defer r.sem.Release(1)

	report, err := r.predictor.PredictProfitability(ctx, req, r.progress(id, log))
	switch {
	case errors.Is(err, ErrCancelled):
		log.Info("analysis job cancelled")
		metrics.AnalysisJobs.WithLabelValues(string(models.JobCancelled)).Inc()
		return err
	case err != nil:
		r.fail(ctx, log, id, err)
		return err
	}

	result, err := json.Marshal(report)
	if err != nil {
		r.fail(ctx, log, id, err)
		return err
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if err := r.store.CompleteJob(wctx, id, result, r.now()); err != nil {
		if errors.Is(err, models.ErrJobFinished) {
			log.Info("analysis finished after job was cancelled; result discarded")
			return nil
		}
		log.Error("failed to store analysis result", zap.Error(err))
		return err
	}
	log.Info("analysis job completed")
	metrics.AnalysisJobs.WithLabelValues(string(models.JobCompleted)).Inc()
	return nil
}

// progress persists each milestone and aborts the run once the row is cancelled.
// Store errors are logged and do not stop the analysis.
func (r *Runner) progress(id uuid.UUID, log *zap.Logger) analysis.ProgressFunc {
	return func(ctx context.Context, percent int, status string) error {
		current, err := r.store.UpdateJobProgress(ctx, id, percent, status)
		if err != nil {
			log.Warn("failed to record job progress", zap.Int("progress", percent), zap.Error(err))
			return nil
		}
		if current == models.JobCancelled {
			return ErrCancelled
		}
		return nil
	}
}

func (r *Runner) fail(ctx context.Context, log *zap.Logger, id uuid.UUID, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	log.Warn("analysis job failed", zap.Error(cause))
	metrics.AnalysisJobs.WithLabelValues(string(models.JobFailed)).Inc()
	if err := r.store.FailJob(wctx, id, cause.Error(), r.now()); err != nil && !errors.Is(err, models.ErrJobFinished) {
		log.Error("failed to record job failure", zap.Error(err))
	}
}

func (r *Runner) Get(ctx context.Context, tenantID int, id uuid.UUID) (*models.AnalysisJob, error) {
	return r.store.GetAnalysisJob(ctx, tenantID, id)
}

// Cancel flags the job; a step already in flight runs to completion.
func (r *Runner) Cancel(ctx context.Context, tenantID int, id uuid.UUID) error {
	return r.store.CancelJob(ctx, tenantID, id, r.now())
}

// Shutdown stops running analyses at their next step boundary and waits for
// them to record their final state, or for ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stop()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
