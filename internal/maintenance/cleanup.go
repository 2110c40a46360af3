package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/logger"
)

const (
	defaultCacheSpec     = "@daily"
	defaultAccessLogSpec = "@hourly"
	defaultRetention     = 90 * 24 * time.Hour
)

// CacheCleaner removes expired response-cache entries.
type CacheCleaner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// AccessLogPruner deletes access log rows older than a cutoff.
type AccessLogPruner interface {
	DeleteAccessLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cleaner runs periodic housekeeping: expiring the response cache and
// enforcing access log retention.
type Cleaner struct {
	cache      CacheCleaner
	accessLogs AccessLogPruner
	cron       *cron.Cron
	now        func() time.Time
	log        *zap.Logger
	retention  time.Duration

	cacheSchedule     string
	accessLogSchedule string
}

type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache cleanup.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithAccessLogRetention sets how long access logs are kept. Zero keeps the default.
func WithAccessLogRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retention = d
		}
	}
}

// NewCleaner builds a Cleaner. A nil dependency skips its job.
func NewCleaner(cache CacheCleaner, accessLogs AccessLogPruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		cache:             cache,
		accessLogs:        accessLogs,
		now:               time.Now,
		retention:         defaultRetention,
		cacheSchedule:     defaultCacheSpec,
		accessLogSchedule: defaultAccessLogSpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Start registers the jobs and launches the scheduler. An invalid cron
// specification is returned before anything is scheduled.
func (c *Cleaner) Start() error {
	if c.cache == nil && c.accessLogs == nil {
		return nil
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if err := c.cleanupCache(context.Background()); err != nil {
				c.log.Warn("cache cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule cache cleanup %q: %w", c.cacheSchedule, err)
		}
	}

	if c.accessLogs != nil {
		if _, err := c.cron.AddFunc(c.accessLogSchedule, func() {
			if err := c.pruneAccessLogs(context.Background()); err != nil {
				c.log.Warn("access log pruning failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule access log pruning %q: %w", c.accessLogSchedule, err)
		}
	}

	c.cron.Start()
	c.log.Info("maintenance scheduled",
		zap.String("cache_schedule", c.cacheSchedule),
		zap.String("access_log_schedule", c.accessLogSchedule),
		zap.Duration("access_log_retention", c.retention))
	return nil
}

// Stop halts the scheduler; the returned context is done once running jobs finish.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially. A failing job does not
// stop the next one; all failures are returned together.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	var errs error
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.cache != nil {
		errs = multierr.Append(errs, c.cleanupCache(ctx))
	}
	if c.accessLogs != nil {
		errs = multierr.Append(errs, c.pruneAccessLogs(ctx))
	}
	return errs
}

func (c *Cleaner) cleanupCache(ctx context.Context) error {
	if _, err := c.cache.DeleteExpired(ctx); err != nil {
		return fmt.Errorf("cleanup cache: %w", err)
	}
	return nil
}

func (c *Cleaner) pruneAccessLogs(ctx context.Context) error {
	cutoff := c.now().Add(-c.retention)
	n, err := c.accessLogs.DeleteAccessLogsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune access logs: %w", err)
	}
	if n > 0 {
		c.log.Info("access logs pruned", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
	return nil
}
