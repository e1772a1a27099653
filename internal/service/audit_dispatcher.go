package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/model"
	"github.com/GoPolymarket/polyaudit/internal/pkg/logger"
	"github.com/GoPolymarket/polyaudit/internal/pkg/metrics"
)

const (
	DefaultFailureBackoff = time.Second
	DefaultStorageTimeout = 5 * time.Second
)

// SinkFactory resolves the sink for one record. It is called once per record
// so request-scoped resources never outlive a single write.
type SinkFactory func(ctx context.Context) (AuditRepo, error)

// StaticSink always resolves to repo.
func StaticSink(repo AuditRepo) SinkFactory {
	return func(context.Context) (AuditRepo, error) { return repo, nil }
}

type DispatcherConfig struct {
	Options        Options
	FailureBackoff time.Duration
	StorageTimeout time.Duration
	Logger         *slog.Logger
}

// Dispatcher is the single consumer of an AuditQueue.
type Dispatcher struct {
	queue   *AuditQueue
	sinks   SinkFactory
	opts    Options
	backoff time.Duration
	timeout time.Duration
	log     *slog.Logger
	done    chan struct{}
}

func NewDispatcher(queue *AuditQueue, sinks SinkFactory, cfg DispatcherConfig) *Dispatcher {
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = DefaultFailureBackoff
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = DefaultStorageTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Component("audit_dispatcher")
	}
	// resolved once; the per-record service then never looks up the executable
	cfg.Options.ApplicationName = cfg.Options.ResolvedApplicationName()
	return &Dispatcher{
		queue:   queue,
		sinks:   sinks,
		opts:    cfg.Options,
		backoff: cfg.FailureBackoff,
		timeout: cfg.StorageTimeout,
		log:     cfg.Logger,
		done:    make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled. A record whose write fails is
// logged and discarded, then the loop pauses for the failure backoff. Records
// still queued at cancellation are lost. Run must be called at most once.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("audit dispatcher started")
	defer func() {
		d.log.Info("audit dispatcher stopped", "pending", d.queue.Len())
		close(d.done)
	}()

	for {
		rec, ok := d.queue.Dequeue(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !ok {
			continue
		}

		if err := d.persist(ctx, rec); err != nil {
			metrics.PersistFailures.Inc()
			logger.LogError(ctx, d.log, err, "failed to persist audit record",
				"trace_id", rec.TraceID,
				"operation", rec.Operation,
			)
			if !d.pause(ctx) {
				return nil
			}
			continue
		}
		metrics.RecordsPersisted.Inc()
	}
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// persist detaches from ctx so shutdown never aborts an in-flight write; the
// storage timeout bounds it instead.
func (d *Dispatcher) persist(ctx context.Context, rec model.AuditRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit sink panic: %v", r)
		}
	}()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	repo, err := d.sinks(wctx)
	if err != nil {
		return fmt.Errorf("resolve audit sink: %w", err)
	}
	return NewAuditService(d.opts, repo, d.log).Log(wctx, rec)
}

func (d *Dispatcher) pause(ctx context.Context) bool {
	t := time.NewTimer(d.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
