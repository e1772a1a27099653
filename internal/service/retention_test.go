package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/model"
	"github.com/GoPolymarket/polyaudit/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCleaner struct {
	mu    sync.Mutex
	calls int
	err   error
	swept chan time.Duration
}

func (c *countingCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	c.swept <- olderThan
	return 3, c.err
}

func TestJanitorSweepsAndAudits(t *testing.T) {
	ic, q := newTestInterceptor()
	cleaner := &countingCleaner{swept: make(chan time.Duration, 8)}
	j, err := NewJanitor(cleaner, 24*time.Hour, time.Hour, ic, logger.Discard())
	require.NoError(t, err)
	require.True(t, j.methods.Get("Cleanup").Audited)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = j.Run(ctx)
		close(done)
	}()

	select {
	case got := <-cleaner.swept:
		assert.Equal(t, 24*time.Hour, got)
	case <-time.After(time.Second):
		t.Fatal("janitor did not sweep on start")
	}
	cancel()
	<-done

	r := q.only(t)
	assert.Equal(t, "RetentionJanitor.Cleanup", r.Operation)
	assert.Equal(t, model.CategorySystem, r.Category)
	assert.Equal(t, model.TriggerScheduled, *r.Method)
	assert.JSONEq(t, `{"result":3}`, *r.OutputData)
	assert.JSONEq(t, `{"arguments":["24h0m0s"]}`, *r.InputData)
}

func TestJanitorRecordsFailedSweep(t *testing.T) {
	ic, q := newTestInterceptor()
	cleaner := &countingCleaner{swept: make(chan time.Duration, 1), err: errors.New("relation does not exist")}
	j, err := NewJanitor(cleaner, time.Hour, time.Hour, ic, logger.Discard())
	require.NoError(t, err)

	j.sweep(context.Background())

	r := q.only(t)
	assert.True(t, r.HasError)
	require.NotNil(t, r.Metadata)
	assert.Contains(t, *r.Metadata, "relation does not exist")
}

func TestJanitorDisabled(t *testing.T) {
	cleaner := &countingCleaner{swept: make(chan time.Duration, 1)}
	j, err := NewJanitor(cleaner, 0, time.Hour, nil, logger.Discard())
	require.NoError(t, err)
	assert.NoError(t, j.Run(context.Background()))
	assert.Zero(t, cleaner.calls)
}
