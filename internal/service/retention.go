package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/model"
	"github.com/GoPolymarket/polyaudit/internal/pkg/logger"
	"github.com/GoPolymarket/polyaudit/internal/trace"
)

// Cleaner is implemented by sinks that need explicit retention sweeps.
type Cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Janitor periodically deletes records older than the retention window. Each
// sweep is its own unit of work and is audited like any other job.
type Janitor struct {
	cleaner   Cleaner
	retention time.Duration
	interval  time.Duration
	ic        *Interceptor
	methods   *Methods
	log       *slog.Logger
}

func NewJanitor(cleaner Cleaner, retention, interval time.Duration, ic *Interceptor, log *slog.Logger) (*Janitor, error) {
	methods, err := NewMethods("RetentionJanitor",
		Method{Name: "Cleanup", Audited: true, Category: model.CategorySystem},
	)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Component("retention")
	}
	return &Janitor{
		cleaner:   cleaner,
		retention: retention,
		interval:  interval,
		ic:        ic,
		methods:   methods,
		log:       log,
	}, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
// A non-positive retention or interval disables the janitor.
func (j *Janitor) Run(ctx context.Context) error {
	if j.retention <= 0 || j.interval <= 0 {
		j.log.Info("retention janitor disabled")
		return nil
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		j.sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	ctx, _ = trace.Start(ctx, "", model.CategorySystem, model.TriggerScheduled)
	removed, err := Invoke(ctx, j.ic, j.methods.Get("Cleanup"), []any{j.retention.String()},
		func(ctx context.Context) (int64, error) {
			return j.cleaner.Cleanup(ctx, j.retention)
		})
	if err != nil {
		logger.LogError(ctx, j.log, err, "audit retention sweep failed")
		return
	}
	if removed > 0 {
		j.log.Info("audit retention sweep", "removed", removed, "trace_id", trace.IDFromContext(ctx))
	}
}
