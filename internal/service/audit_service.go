package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/GoPolymarket/polyaudit/internal/model"
	"github.com/GoPolymarket/polyaudit/internal/pkg/logger"
	"github.com/google/uuid"
)

const (
	UnknownApplication = "UnknownApp"

	DefaultPageSize = 50
	MaxPageSize     = 500
)

// AuditRepo is the record sink contract.
type AuditRepo interface {
	Add(ctx context.Context, rec model.AuditRecord) error
	// GetByTraceID returns records in ascending LoggedAt order.
	GetByTraceID(ctx context.Context, traceID string) ([]model.AuditRecord, error)
	// GetByApplicationName returns one page in descending LoggedAt order.
	// page is 1-based.
	GetByApplicationName(ctx context.Context, name string, page, pageSize int) ([]model.AuditRecord, error)
}

type Options struct {
	// ApplicationName stamped on every record. Empty means the executable name.
	ApplicationName string
}

// ResolvedApplicationName applies the fallback chain: configured name,
// executable base name, UnknownApp.
func (o Options) ResolvedApplicationName() string {
	if name := strings.TrimSpace(o.ApplicationName); name != "" {
		return name
	}
	if exe, err := os.Executable(); err == nil {
		name := strings.TrimSuffix(filepath.Base(exe), filepath.Ext(exe))
		if name != "" && name != "." {
			return name
		}
	}
	return UnknownApplication
}

// AuditService stamps records at the sink boundary and serves the queries.
type AuditService struct {
	repo    AuditRepo
	appName string
	log     *slog.Logger
}

func NewAuditService(opts Options, repo AuditRepo, log *slog.Logger) *AuditService {
	if log == nil {
		log = logger.Component("audit")
	}
	return &AuditService{
		repo:    repo,
		appName: opts.ResolvedApplicationName(),
		log:     log,
	}
}

func (s *AuditService) ApplicationName() string {
	return s.appName
}

// Log assigns ID and ApplicationName (overriding whatever the caller set),
// cuts over-long columns and hands the record to the sink.
func (s *AuditService) Log(ctx context.Context, rec model.AuditRecord) error {
	rec.ID = newRecordID()
	rec.ApplicationName = s.appName
	rec = rec.Truncated()

	s.log.InfoContext(ctx, "[AUDIT] "+rec.Operation,
		slog.String("trace_id", rec.TraceID),
		slog.String("category", string(rec.Category)),
		slog.String("operation", rec.Operation),
		slog.Bool("has_error", rec.HasError),
		slog.Int64("duration_ms", rec.DurationMs),
	)

	return s.repo.Add(ctx, rec)
}

func (s *AuditService) GetByTraceID(ctx context.Context, traceID string) ([]model.AuditRecord, error) {
	return s.repo.GetByTraceID(ctx, traceID)
}

func (s *AuditService) ListByApplication(ctx context.Context, name string, page, pageSize int) ([]model.AuditRecord, error) {
	page, pageSize = NormalizePage(page, pageSize)
	return s.repo.GetByApplicationName(ctx, name, page, pageSize)
}

// NormalizePage clamps pagination input to the supported range.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// UUIDv7 keeps ids roughly time ordered inside the sink.
func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
