package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/model"
	"github.com/jmoiron/sqlx"
)

const auditColumns = `id, application_name, trace_id, logged_at, category, operation, method,
	status_code, status_description, has_error, duration_ms, input_data, output_data,
	metadata, user_id, ip_address`

type PostgresAuditRepo struct {
	db *sqlx.DB
}

// NewPostgresAuditRepo expects the schema to be migrated already (see Migrate).
func NewPostgresAuditRepo(db *sqlx.DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

func (r *PostgresAuditRepo) Add(ctx context.Context, rec model.AuditRecord) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (`+auditColumns+`) VALUES (
			:id, :application_name, :trace_id, :logged_at, :category, :operation, :method,
			:status_code, :status_description, :has_error, :duration_ms, :input_data, :output_data,
			:metadata, :user_id, :ip_address
		)
		ON CONFLICT (id) DO NOTHING
	`, rec)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (r *PostgresAuditRepo) GetByTraceID(ctx context.Context, traceID string) ([]model.AuditRecord, error) {
	records := []model.AuditRecord{}
	err := r.db.SelectContext(ctx, &records,
		`SELECT `+auditColumns+` FROM audit_logs WHERE trace_id = $1 ORDER BY logged_at ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("query audit records by trace: %w", err)
	}
	return records, nil
}

func (r *PostgresAuditRepo) GetByApplicationName(ctx context.Context, name string, page, pageSize int) ([]model.AuditRecord, error) {
	if page < 1 || pageSize < 1 {
		return nil, ErrInvalidPage
	}
	records := make([]model.AuditRecord, 0, pageSize)
	err := r.db.SelectContext(ctx, &records,
		`SELECT `+auditColumns+` FROM audit_logs WHERE application_name = $1
		ORDER BY logged_at DESC OFFSET $2 LIMIT $3`,
		name, pageOffset(page, pageSize), pageSize)
	if err != nil {
		return nil, fmt.Errorf("query audit records by application: %w", err)
	}
	return records, nil
}

// Cleanup deletes records older than olderThan and reports how many went.
func (r *PostgresAuditRepo) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE logged_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup audit records: %w", err)
	}
	return res.RowsAffected()
}

func pageOffset(page, pageSize int) int {
	return (page - 1) * pageSize
}
