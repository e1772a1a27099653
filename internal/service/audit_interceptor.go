package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/model"
	"github.com/GoPolymarket/polyaudit/internal/trace"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Method describes one operation of an audited component.
type Method struct {
	Type    string
	Name    string
	Audited bool
	// Operation overrides the default "<Type>.<Name>".
	Operation string
	// Category is used when no trace context is active. Empty means Job.
	Category model.Category
}

func (m Method) operation() string {
	if m.Operation != "" {
		return m.Operation
	}
	return m.Type + "." + m.Name
}

// Methods is the capability table of one component, built once when the
// component's audited wrapper is constructed.
type Methods struct {
	typeName string
	byName   map[string]Method
}

// NewMethods registers the audited methods of typeName. Names not listed are
// treated as unaudited.
func NewMethods(typeName string, methods ...Method) (*Methods, error) {
	ms := &Methods{typeName: typeName, byName: make(map[string]Method, len(methods))}
	for _, m := range methods {
		if m.Name == "" {
			return nil, fmt.Errorf("audited method of %s has no name", typeName)
		}
		if _, dup := ms.byName[m.Name]; dup {
			return nil, fmt.Errorf("method %s.%s registered twice", typeName, m.Name)
		}
		if m.Category != "" && !m.Category.Valid() {
			return nil, fmt.Errorf("method %s.%s: unknown audit category %q", typeName, m.Name, m.Category)
		}
		m.Type = typeName
		ms.byName[m.Name] = m
	}
	return ms, nil
}

// Get returns the entry for name; unknown names are unaudited.
func (ms *Methods) Get(name string) Method {
	if m, ok := ms.byName[name]; ok {
		return m
	}
	return Method{Type: ms.typeName, Name: name}
}

// Interceptor turns calls of audited methods into audit records.
type Interceptor struct {
	queue   Enqueuer
	localIP func() string
}

func NewInterceptor(queue Enqueuer) *Interceptor {
	return &Interceptor{queue: queue, localIP: LocalIPv4}
}

// Invoke runs fn as the audited method m. The result and error are returned
// unchanged; a panic is re-raised after its record is queued.
func Invoke[T any](ctx context.Context, ic *Interceptor, m Method, args []any, fn func(context.Context) (T, error)) (T, error) {
	if ic == nil || !m.Audited {
		return fn(ctx)
	}
	c := ic.begin(ctx, m, args)
	defer func() {
		if r := recover(); r != nil {
			c.finishPanic(r, debug.Stack())
			panic(r)
		}
	}()
	v, err := fn(ctx)
	c.finish(v, err)
	return v, err
}

// InvokeErr is Invoke for methods without a result value.
func InvokeErr(ctx context.Context, ic *Interceptor, m Method, args []any, fn func(context.Context) error) error {
	_, err := Invoke(ctx, ic, m, args, func(ctx context.Context) (Void, error) {
		return Void{}, fn(ctx)
	})
	return err
}

// InvokeFuture runs fn and audits the deferred work it starts. The record is
// produced when the future settles; the returned future settles right after.
func InvokeFuture[T any](ctx context.Context, ic *Interceptor, m Method, args []any, fn func(context.Context) *Future[T]) *Future[T] {
	if ic == nil || !m.Audited {
		return fn(ctx)
	}
	c := ic.begin(ctx, m, args)

	inner := func() (f *Future[T]) {
		defer func() {
			if r := recover(); r != nil {
				c.finishPanic(r, debug.Stack())
				panic(r)
			}
		}()
		return fn(ctx)
	}()
	if inner == nil {
		inner = Resolved(*new(T), nil)
	}

	out := newFuture[T]()
	go func() {
		v, err := inner.Result()
		c.finish(v, err)
		out.settle(v, err)
	}()
	return out
}

// call is one in-flight audited invocation.
type call struct {
	ic        *Interceptor
	method    Method
	start     time.Time
	input     string
	traceID   string
	category  model.Category
	trigger   string
	userID    *string
	ipAddress *string
}

func (ic *Interceptor) begin(ctx context.Context, m Method, args []any) *call {
	c := &call{
		ic:       ic,
		method:   m,
		start:    time.Now(),
		input:    encodeArguments(args),
		category: model.CategoryJob,
		trigger:  model.TriggerTriggered,
	}
	if m.Category != "" {
		c.category = m.Category
	}
	if view, ok := trace.FromContext(ctx); ok {
		c.traceID = view.TraceID()
		if cat := view.Category(); cat != "" {
			c.category = cat
		}
		if method := view.Method(); method != "" {
			c.trigger = method
		}
	}
	if c.traceID == "" {
		c.traceID = trace.NewID()
	}

	caller, _ := trace.CallerFromContext(ctx)
	c.userID = model.StringPtr(caller.UserID)
	ip := caller.IPAddress
	if ip == "" {
		ip = ic.localIP()
	}
	c.ipAddress = model.StringPtr(ip)
	return c
}

func (c *call) finish(result any, err error) {
	if err != nil {
		c.enqueue(statusForError(err), nil, errorMetadata(err.Error(), fmt.Sprintf("%T", err), stackOf(err)))
		return
	}
	out := encodeResult(result)
	c.enqueue(model.JobSuccess, &out, `{"hasError":false}`)
}

func (c *call) finishPanic(r any, stack []byte) {
	msg := fmt.Sprint(r)
	if err, ok := r.(error); ok {
		msg = err.Error()
	}
	c.enqueue(model.JobFailed, nil, errorMetadata(msg, fmt.Sprintf("%T", r), string(stack)))
}

func (c *call) enqueue(code int, output *string, metadata string) {
	input := c.input
	c.ic.queue.Enqueue(model.AuditRecord{
		TraceID:           c.traceID,
		LoggedAt:          c.start.UTC(),
		Category:          c.category,
		Operation:         c.method.operation(),
		Method:            model.StringPtr(c.trigger),
		StatusCode:        model.IntPtr(code),
		StatusDescription: model.StringPtr(model.DescribeJobStatus(code)),
		HasError:          model.IsJobError(code),
		DurationMs:        time.Since(c.start).Milliseconds(),
		InputData:         &input,
		OutputData:        output,
		Metadata:          &metadata,
		UserID:            c.userID,
		IPAddress:         c.ipAddress,
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return model.JobCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return model.JobTimeout
	default:
		return model.JobFailed
	}
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

func stackOf(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) {
		return pe.Stack
	}
	var st stackTracer
	if errors.As(err, &st) {
		return fmt.Sprintf("%+v", st.StackTrace())
	}
	return ""
}

func errorMetadata(message, typ, stack string) string {
	meta := struct {
		HasError bool `json:"hasError"`
		Error    struct {
			Message    string `json:"message"`
			StackTrace string `json:"stackTrace"`
			Type       string `json:"type"`
		} `json:"error"`
	}{HasError: true}
	meta.Error.Message = message
	meta.Error.StackTrace = stack
	meta.Error.Type = typ
	out, err := json.Marshal(meta)
	if err != nil {
		return `{"hasError":true}`
	}
	return string(out)
}

func encodeArguments(args []any) string {
	if len(args) == 0 {
		return "{}"
	}
	out, err := json.Marshal(struct {
		Arguments []any `json:"arguments"`
	}{Arguments: args})
	if err != nil {
		return model.WrapRaw(fmt.Sprintf("%+v", args))
	}
	return string(out)
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	uuidType    = reflect.TypeOf(uuid.UUID{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
	voidType    = reflect.TypeOf(Void{})
)

// encodeResult wraps scalars as {"result": v} and serializes everything else
// as is. Nil values (including nil slices and maps) and Void encode as {}.
func encodeResult(v any) string {
	if v == nil {
		return "{}"
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "{}"
		}
		rv = rv.Elem()
	}
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map) && rv.IsNil() {
		return "{}"
	}
	if rv.Type() == voidType {
		return "{}"
	}

	payload := rv.Interface()
	if isScalar(rv) {
		payload = struct {
			Result any `json:"result"`
		}{Result: payload}
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return model.WrapRaw(fmt.Sprintf("%+v", rv.Interface()))
	}
	return string(out)
}

func isScalar(rv reflect.Value) bool {
	switch rv.Type() {
	case timeType, uuidType, decimalType:
		return true
	}
	switch rv.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	}
	return false
}

var (
	localIPOnce sync.Once
	localIP     string
)

// LocalIPv4 returns the first non-loopback IPv4 address of this host, or "".
func LocalIPv4() string {
	localIPOnce.Do(func() {
		addrs, err := net.InterfaceAddrs()
		if err != nil {
			return
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if v4 := ipNet.IP.To4(); v4 != nil {
				localIP = v4.String()
				return
			}
		}
	})
	return localIP
}
