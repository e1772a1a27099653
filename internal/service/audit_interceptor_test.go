package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/model"
	"github.com/GoPolymarket/polyaudit/internal/trace"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureQueue struct {
	mu      sync.Mutex
	records []model.AuditRecord
}

func (c *captureQueue) Enqueue(rec model.AuditRecord) {
	c.mu.Lock()
	c.records = append(c.records, rec)
	c.mu.Unlock()
}

func (c *captureQueue) all() []model.AuditRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.AuditRecord(nil), c.records...)
}

func (c *captureQueue) only(t *testing.T) model.AuditRecord {
	t.Helper()
	recs := c.all()
	require.Len(t, recs, 1)
	return recs[0]
}

func newTestInterceptor() (*Interceptor, *captureQueue) {
	q := &captureQueue{}
	ic := NewInterceptor(q)
	ic.localIP = func() string { return "10.0.0.7" }
	return ic, q
}

// Product catalog used to exercise a hand-written audited wrapper.
type Product struct {
	ID    string          `json:"id"`
	Price decimal.Decimal `json:"price"`
}

type ProductService interface {
	Register(ctx context.Context, name string, price decimal.Decimal) (uuid.UUID, error)
	Lookup(ctx context.Context, id string) (*Product, error)
	Reindex(ctx context.Context) *Future[Void]
	Ping(ctx context.Context) error
}

type auditedProducts struct {
	next    ProductService
	ic      *Interceptor
	methods *Methods
}

func newAuditedProducts(next ProductService, ic *Interceptor) *auditedProducts {
	methods, err := NewMethods("ProductService",
		Method{Name: "Register", Audited: true},
		Method{Name: "Lookup", Audited: true, Operation: "catalog.lookup"},
		Method{Name: "Reindex", Audited: true, Category: model.CategoryBackground},
	)
	if err != nil {
		panic(err)
	}
	return &auditedProducts{next: next, ic: ic, methods: methods}
}

func (a *auditedProducts) Register(ctx context.Context, name string, price decimal.Decimal) (uuid.UUID, error) {
	return Invoke(ctx, a.ic, a.methods.Get("Register"), []any{name, price}, func(ctx context.Context) (uuid.UUID, error) {
		return a.next.Register(ctx, name, price)
	})
}

func (a *auditedProducts) Lookup(ctx context.Context, id string) (*Product, error) {
	return Invoke(ctx, a.ic, a.methods.Get("Lookup"), []any{id}, func(ctx context.Context) (*Product, error) {
		return a.next.Lookup(ctx, id)
	})
}

func (a *auditedProducts) Reindex(ctx context.Context) *Future[Void] {
	return InvokeFuture(ctx, a.ic, a.methods.Get("Reindex"), nil, a.next.Reindex)
}

func (a *auditedProducts) Ping(ctx context.Context) error {
	return InvokeErr(ctx, a.ic, a.methods.Get("Ping"), nil, a.next.Ping)
}

type stubProducts struct {
	registerErr error
	reindexWait time.Duration
}

var fixedID = uuid.MustParse("0190d7a4-6f1e-7c3a-9b2d-4e5f6a7b8c9d")

func (s *stubProducts) Register(_ context.Context, _ string, _ decimal.Decimal) (uuid.UUID, error) {
	if s.registerErr != nil {
		return uuid.Nil, s.registerErr
	}
	return fixedID, nil
}

func (s *stubProducts) Lookup(_ context.Context, id string) (*Product, error) {
	if id == "missing" {
		return nil, nil
	}
	return &Product{ID: id, Price: decimal.RequireFromString("9.99")}, nil
}

func (s *stubProducts) Reindex(ctx context.Context) *Future[Void] {
	return Go(ctx, func(context.Context) (Void, error) {
		time.Sleep(s.reindexWait)
		return Void{}, nil
	})
}

func (s *stubProducts) Ping(context.Context) error { return nil }

func TestInvokeRecordsScalarResult(t *testing.T) {
	ic, q := newTestInterceptor()
	svc := newAuditedProducts(&stubProducts{}, ic)

	id, err := svc.Register(context.Background(), "lamp", decimal.RequireFromString("12.50"))
	require.NoError(t, err)
	assert.Equal(t, fixedID, id)

	r := q.only(t)
	assert.Equal(t, "ProductService.Register", r.Operation)
	assert.Equal(t, model.CategoryJob, r.Category)
	assert.Equal(t, model.TriggerTriggered, *r.Method)
	assert.Equal(t, model.JobSuccess, *r.StatusCode)
	assert.Equal(t, "Success", *r.StatusDescription)
	assert.False(t, r.HasError)
	assert.JSONEq(t, `{"arguments":["lamp","12.5"]}`, *r.InputData)
	assert.JSONEq(t, `{"result":"`+fixedID.String()+`"}`, *r.OutputData)
	assert.JSONEq(t, `{"hasError":false}`, *r.Metadata)
	assert.Equal(t, "10.0.0.7", *r.IPAddress)
	assert.Nil(t, r.UserID)
	assert.Len(t, r.TraceID, trace.IDLength)
}

func TestInvokeRecordsComplexAndNilResults(t *testing.T) {
	ic, q := newTestInterceptor()
	svc := newAuditedProducts(&stubProducts{}, ic)

	_, err := svc.Lookup(context.Background(), "p-1")
	require.NoError(t, err)
	_, err = svc.Lookup(context.Background(), "missing")
	require.NoError(t, err)

	recs := q.all()
	require.Len(t, recs, 2)
	assert.Equal(t, "catalog.lookup", recs[0].Operation)
	assert.JSONEq(t, `{"id":"p-1","price":"9.99"}`, *recs[0].OutputData)
	assert.Equal(t, "{}", *recs[1].OutputData)
}

func TestInvokeRecordsFailureAndPropagatesError(t *testing.T) {
	ic, q := newTestInterceptor()
	boom := errors.New("boom")
	svc := newAuditedProducts(&stubProducts{registerErr: boom}, ic)

	_, err := svc.Register(context.Background(), "lamp", decimal.Zero)
	assert.Same(t, boom, err)

	r := q.only(t)
	assert.Equal(t, model.JobFailed, *r.StatusCode)
	assert.Equal(t, "Failed", *r.StatusDescription)
	assert.True(t, r.HasError)
	assert.Nil(t, r.OutputData)

	var meta struct {
		HasError bool `json:"hasError"`
		Error    struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(*r.Metadata), &meta))
	assert.True(t, meta.HasError)
	assert.Equal(t, "boom", meta.Error.Message)
	assert.Equal(t, "*errors.errorString", meta.Error.Type)
}

func TestInvokeCapturesPkgErrorsStack(t *testing.T) {
	ic, q := newTestInterceptor()
	m := Method{Type: "Worker", Name: "Sync", Audited: true}

	_, err := Invoke(context.Background(), ic, m, nil, func(context.Context) (int, error) {
		return 0, pkgerrors.New("upstream refused")
	})
	require.Error(t, err)

	assert.Contains(t, *q.only(t).Metadata, "TestInvokeCapturesPkgErrorsStack")
}

func TestInvokeMapsContextErrors(t *testing.T) {
	ic, q := newTestInterceptor()
	m := Method{Type: "Worker", Name: "Sync", Audited: true}

	_ = InvokeErr(context.Background(), ic, m, nil, func(context.Context) error { return context.Canceled })
	_ = InvokeErr(context.Background(), ic, m, nil, func(context.Context) error {
		return pkgerrors.Wrap(context.DeadlineExceeded, "fetch")
	})

	recs := q.all()
	require.Len(t, recs, 2)
	assert.Equal(t, model.JobCancelled, *recs[0].StatusCode)
	assert.Equal(t, model.JobTimeout, *recs[1].StatusCode)
	assert.True(t, recs[1].HasError)
}

func TestInvokeRepanicsAfterRecording(t *testing.T) {
	ic, q := newTestInterceptor()
	m := Method{Type: "Worker", Name: "Explode", Audited: true}

	assert.PanicsWithValue(t, "kaput", func() {
		_, _ = Invoke(context.Background(), ic, m, nil, func(context.Context) (string, error) {
			panic("kaput")
		})
	})

	r := q.only(t)
	assert.Equal(t, model.JobFailed, *r.StatusCode)
	assert.Contains(t, *r.Metadata, `"message":"kaput"`)
	assert.Contains(t, *r.Metadata, `"type":"string"`)
}

func TestInvokeFutureRecordsAfterSettling(t *testing.T) {
	ic, q := newTestInterceptor()
	svc := newAuditedProducts(&stubProducts{reindexWait: 100 * time.Millisecond}, ic)

	f := svc.Reindex(context.Background())
	assert.Empty(t, q.all())

	_, err := f.Wait(context.Background())
	require.NoError(t, err)

	r := q.only(t)
	assert.GreaterOrEqual(t, r.DurationMs, int64(100))
	assert.Equal(t, model.CategoryBackground, r.Category)
	assert.Equal(t, "{}", *r.InputData)
	assert.Equal(t, "{}", *r.OutputData)
}

func TestInvokeFutureRecordsDeferredFailure(t *testing.T) {
	ic, q := newTestInterceptor()
	m := Method{Type: "Mailer", Name: "Send", Audited: true}

	f := InvokeFuture(context.Background(), ic, m, []any{"a@b.c"}, func(ctx context.Context) *Future[int] {
		return Go(ctx, func(context.Context) (int, error) {
			return 0, errors.New("smtp down")
		})
	})
	_, err := f.Result()
	require.EqualError(t, err, "smtp down")

	r := q.only(t)
	assert.True(t, r.HasError)
	assert.Contains(t, *r.Metadata, "smtp down")
}

func TestInvokeUsesAmbientTraceContext(t *testing.T) {
	ic, q := newTestInterceptor()
	svc := newAuditedProducts(&stubProducts{}, ic)

	ctx, _ := trace.Start(context.Background(), "UCTI-X", model.CategoryHTTP, "POST")
	ctx = trace.WithCaller(ctx, trace.Caller{UserID: "u-42", IPAddress: "203.0.113.9"})
	_, err := svc.Reindex(ctx).Result()
	require.NoError(t, err)

	r := q.only(t)
	assert.Equal(t, "UCTI-X", r.TraceID)
	assert.Equal(t, model.CategoryHTTP, r.Category)
	assert.Equal(t, "POST", *r.Method)
	assert.Equal(t, "u-42", *r.UserID)
	assert.Equal(t, "203.0.113.9", *r.IPAddress)
	assert.Equal(t, "ProductService.Reindex", r.Operation)
}

func TestUnauditedMethodPassesThrough(t *testing.T) {
	ic, q := newTestInterceptor()
	svc := newAuditedProducts(&stubProducts{}, ic)

	require.NoError(t, svc.Ping(context.Background()))
	assert.Empty(t, q.all())
}

func TestNewMethodsRejectsBadTables(t *testing.T) {
	_, err := NewMethods("Svc", Method{Name: "A"}, Method{Name: "A"})
	assert.Error(t, err)

	_, err = NewMethods("Svc", Method{Name: "A", Category: "Cron"})
	assert.Error(t, err)

	ms, err := NewMethods("Svc", Method{Name: "A", Audited: true})
	require.NoError(t, err)
	assert.Equal(t, "Svc", ms.Get("A").Type)
	assert.False(t, ms.Get("B").Audited)
}

func TestEncodeResult(t *testing.T) {
	when := time.Date(2026, 1, 21, 14, 35, 51, 0, time.UTC)
	n := 7

	assert.Equal(t, `{"result":true}`, encodeResult(true))
	assert.Equal(t, `{"result":42}`, encodeResult(uint16(42)))
	assert.Equal(t, `{"result":"hi"}`, encodeResult("hi"))
	assert.Equal(t, `{"result":7}`, encodeResult(&n))
	assert.Equal(t, `{"result":"2026-01-21T14:35:51Z"}`, encodeResult(when))
	assert.Equal(t, `{"result":"1.5"}`, encodeResult(decimal.RequireFromString("1.5")))
	assert.Equal(t, `{}`, encodeResult(nil))
	assert.Equal(t, `{}`, encodeResult(Void{}))
	assert.Equal(t, `[1,2]`, encodeResult([]int{1, 2}))
	assert.Equal(t, `[]`, encodeResult([]int{}))
	assert.Equal(t, `{}`, encodeResult([]string(nil)))
	assert.Equal(t, `{}`, encodeResult(map[string]int(nil)))
	assert.True(t, strings.HasPrefix(encodeResult(make(chan int)), `{"raw":`))
}

func TestEncodeArguments(t *testing.T) {
	assert.Equal(t, "{}", encodeArguments(nil))
	assert.JSONEq(t, `{"arguments":[1,"x",null]}`, encodeArguments([]any{1, "x", nil}))
}
