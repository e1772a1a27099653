package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/config"
	"github.com/GoPolymarket/polyaudit/internal/model"
)

// AuditStore is the record sink contract every backend implements.
type AuditStore interface {
	Add(ctx context.Context, rec model.AuditRecord) error
	GetByTraceID(ctx context.Context, traceID string) ([]model.AuditRecord, error)
	GetByApplicationName(ctx context.Context, name string, page, pageSize int) ([]model.AuditRecord, error)
}

// Retainer is implemented by stores that need explicit retention sweeps.
type Retainer interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

var (
	_ AuditStore = (*PostgresAuditRepo)(nil)
	_ AuditStore = (*RedisAuditRepo)(nil)
	_ AuditStore = (*MemoryAuditRepo)(nil)
	_ Retainer   = (*PostgresAuditRepo)(nil)
	_ Retainer   = (*MemoryAuditRepo)(nil)
)

// Sink is the store chosen for this process.
type Sink struct {
	Kind  string
	Store AuditStore
	// Retainer is nil when the backend expires records on its own.
	Retainer Retainer
	close    func() error
}

func (s *Sink) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenSink picks Postgres when a DSN is configured, otherwise Redis when an
// address is configured, otherwise memory. A backend that cannot be reached
// is logged and skipped.
func OpenSink(ctx context.Context, cfg *config.Config, log *slog.Logger) *Sink {
	if cfg.Database.DSN != "" {
		db, err := NewDB(cfg.Database)
		if err == nil {
			if err = Migrate(ctx, db, log); err == nil {
				repo := NewPostgresAuditRepo(db)
				return &Sink{Kind: "postgres", Store: repo, Retainer: repo, close: db.Close}
			}
			_ = db.Close()
		}
		log.Error("failed to open postgres sink, falling back", slog.String("error", err.Error()))
	}

	if cfg.Redis.Addr != "" {
		rdb, err := NewRedisClient(cfg.Redis)
		if err == nil {
			repo := NewRedisAuditRepo(rdb, cfg.Redis.KeyPrefix, cfg.Database.Retention())
			return &Sink{Kind: "redis", Store: repo, close: rdb.Close}
		}
		log.Error("failed to connect to redis, falling back to memory", slog.String("error", err.Error()))
	}

	repo := NewMemoryAuditRepo(DefaultMemoryCapacity)
	return &Sink{Kind: "memory", Store: repo, Retainer: repo}
}
