package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memRecord(app, traceID string, at time.Time, op string) model.AuditRecord {
	return model.AuditRecord{
		ID:              op,
		ApplicationName: app,
		TraceID:         traceID,
		LoggedAt:        at,
		Category:        model.CategoryHTTP,
		Operation:       op,
	}
}

func TestMemoryAuditRepoTraceQueryIsAscending(t *testing.T) {
	repo := NewMemoryAuditRepo(10)
	ctx := context.Background()
	base := time.Date(2026, 1, 21, 14, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Add(ctx, memRecord("api", "t1", base.Add(2*time.Second), "c")))
	require.NoError(t, repo.Add(ctx, memRecord("api", "t1", base, "a")))
	require.NoError(t, repo.Add(ctx, memRecord("api", "t2", base, "other")))
	require.NoError(t, repo.Add(ctx, memRecord("api", "t1", base.Add(time.Second), "b")))

	got, err := repo.GetByTraceID(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].Operation, got[1].Operation, got[2].Operation})

	none, err := repo.GetByTraceID(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryAuditRepoApplicationPages(t *testing.T) {
	repo := NewMemoryAuditRepo(100)
	ctx := context.Background()
	base := time.Date(2026, 1, 21, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Add(ctx, memRecord("api", "t", base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("op-%d", i))))
	}
	require.NoError(t, repo.Add(ctx, memRecord("worker", "t", base, "foreign")))

	page1, err := repo.GetByApplicationName(ctx, "api", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "op-4", page1[0].Operation)
	assert.Equal(t, "op-3", page1[1].Operation)

	page3, err := repo.GetByApplicationName(ctx, "api", 3, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "op-0", page3[0].Operation)

	page4, err := repo.GetByApplicationName(ctx, "api", 4, 2)
	require.NoError(t, err)
	assert.Empty(t, page4)

	_, err = repo.GetByApplicationName(ctx, "api", 0, 2)
	assert.True(t, errors.Is(err, ErrInvalidPage))
}

func TestMemoryAuditRepoKeepsMostRecent(t *testing.T) {
	repo := NewMemoryAuditRepo(3)
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Add(ctx, memRecord("api", "t", base.Add(time.Duration(i)*time.Millisecond), fmt.Sprintf("op-%d", i))))
	}

	assert.Equal(t, 3, repo.Len())
	got, err := repo.GetByTraceID(ctx, "t")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "op-2", got[0].Operation)
	assert.Equal(t, "op-4", got[2].Operation)
}

func TestMemoryAuditRepoCleanup(t *testing.T) {
	repo := NewMemoryAuditRepo(10)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, repo.Add(ctx, memRecord("api", "t", now.Add(-48*time.Hour), "old")))
	require.NoError(t, repo.Add(ctx, memRecord("api", "t", now, "fresh")))

	removed, err := repo.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := repo.GetByTraceID(ctx, "t")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].Operation)
}
