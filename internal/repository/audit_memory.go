package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/model"
)

const DefaultMemoryCapacity = 10000

// MemoryAuditRepo keeps the most recent records in a ring. It is the sink of
// last resort when no database is configured.
type MemoryAuditRepo struct {
	mu        sync.Mutex
	maxSize   int
	records   []model.AuditRecord
	nextIndex int
}

func NewMemoryAuditRepo(maxSize int) *MemoryAuditRepo {
	if maxSize <= 0 {
		maxSize = DefaultMemoryCapacity
	}
	return &MemoryAuditRepo{
		maxSize: maxSize,
		records: make([]model.AuditRecord, 0, maxSize),
	}
}

func (m *MemoryAuditRepo) Add(_ context.Context, rec model.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) < m.maxSize {
		m.records = append(m.records, rec)
		return nil
	}
	m.records[m.nextIndex] = rec
	m.nextIndex = (m.nextIndex + 1) % m.maxSize
	return nil
}

func (m *MemoryAuditRepo) GetByTraceID(_ context.Context, traceID string) ([]model.AuditRecord, error) {
	out := m.filter(func(r model.AuditRecord) bool { return r.TraceID == traceID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].LoggedAt.Before(out[j].LoggedAt) })
	return out, nil
}

func (m *MemoryAuditRepo) GetByApplicationName(_ context.Context, name string, page, pageSize int) ([]model.AuditRecord, error) {
	if page < 1 || pageSize < 1 {
		return nil, ErrInvalidPage
	}
	all := m.filter(func(r model.AuditRecord) bool { return r.ApplicationName == name })
	sort.SliceStable(all, func(i, j int) bool { return all[i].LoggedAt.After(all[j].LoggedAt) })

	start := pageOffset(page, pageSize)
	if start >= len(all) {
		return []model.AuditRecord{}, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

// Cleanup drops records older than olderThan.
func (m *MemoryAuditRepo) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]model.AuditRecord, 0, m.maxSize)
	for _, r := range m.ordered() {
		if !r.LoggedAt.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	removed := int64(len(m.records) - len(kept))
	m.records = kept
	m.nextIndex = 0
	return removed, nil
}

func (m *MemoryAuditRepo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// filter returns matches in insertion order.
func (m *MemoryAuditRepo) filter(keep func(model.AuditRecord) bool) []model.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.AuditRecord{}
	for _, r := range m.ordered() {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// ordered must be called with mu held.
func (m *MemoryAuditRepo) ordered() []model.AuditRecord {
	if len(m.records) < m.maxSize {
		return m.records
	}
	out := make([]model.AuditRecord, 0, len(m.records))
	out = append(out, m.records[m.nextIndex:]...)
	return append(out, m.records[:m.nextIndex]...)
}
