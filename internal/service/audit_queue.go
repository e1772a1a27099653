package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/model"
	"github.com/GoPolymarket/polyaudit/internal/pkg/logger"
	"github.com/GoPolymarket/polyaudit/internal/pkg/metrics"
	"golang.org/x/time/rate"
)

const DefaultQueueCapacity = 1000

// Enqueuer is the producer side of the delivery pipeline.
type Enqueuer interface {
	Enqueue(rec model.AuditRecord)
}

// AuditQueue 有界环形缓冲区：生产者永不阻塞，满时丢弃最旧的记录
//
// Many producers, one consumer. Enqueue never blocks and never fails; when the
// ring is full the oldest record is evicted. Dequeue blocks until a record is
// available or the context is cancelled.
type AuditQueue struct {
	mu       sync.Mutex
	capacity int
	records  []model.AuditRecord
	head     int
	count    int
	dropped  uint64

	notify   chan struct{}
	log      *slog.Logger
	dropWarn rate.Sometimes
}

func NewAuditQueue(capacity int, log *slog.Logger) *AuditQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if log == nil {
		log = logger.Component("audit_queue")
	}
	return &AuditQueue{
		capacity: capacity,
		records:  make([]model.AuditRecord, capacity),
		notify:   make(chan struct{}, 1),
		log:      log,
		dropWarn: rate.Sometimes{Interval: time.Second},
	}
}

func (q *AuditQueue) Enqueue(rec model.AuditRecord) {
	q.mu.Lock()
	evicted := false
	if q.count == q.capacity {
		q.records[q.head] = model.AuditRecord{}
		q.head = (q.head + 1) % q.capacity
		q.count--
		q.dropped++
		evicted = true
	}
	q.records[(q.head+q.count)%q.capacity] = rec
	q.count++
	depth, dropped := q.count, q.dropped
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	metrics.RecordsEnqueued.WithLabelValues(string(rec.Category)).Inc()
	metrics.QueueDepth.Set(float64(depth))
	if evicted {
		metrics.RecordsDropped.Inc()
		q.dropWarn.Do(func() {
			q.log.Warn("audit queue full, dropping oldest record",
				"capacity", q.capacity,
				"dropped_total", dropped,
			)
		})
	}
}

// Dequeue returns the oldest buffered record. ok is false when ctx was
// cancelled before a record became available.
func (q *AuditQueue) Dequeue(ctx context.Context) (rec model.AuditRecord, ok bool) {
	for {
		if ctx.Err() != nil {
			return model.AuditRecord{}, false
		}
		if rec, ok = q.pop(); ok {
			return rec, true
		}
		select {
		case <-ctx.Done():
			return model.AuditRecord{}, false
		case <-q.notify:
		}
	}
}

func (q *AuditQueue) pop() (model.AuditRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return model.AuditRecord{}, false
	}
	rec := q.records[q.head]
	q.records[q.head] = model.AuditRecord{}
	q.head = (q.head + 1) % q.capacity
	q.count--
	metrics.QueueDepth.Set(float64(q.count))
	return rec, true
}

func (q *AuditQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *AuditQueue) Cap() int {
	return q.capacity
}

// Dropped is the number of records evicted by overflow since creation.
func (q *AuditQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
