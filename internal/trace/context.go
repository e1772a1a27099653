package trace

import (
	"context"
	"sync"

	"github.com/GoPolymarket/polyaudit/internal/model"
)

// View is the read-only side of a unit-of-work trace context.
type View interface {
	TraceID() string
	Category() model.Category
	Method() string
}

// Scope is the mutable trace context of one unit of work (one HTTP request or
// one queue-message cycle). Only the code that called Start holds the Scope;
// everything else sees it through View.
type Scope struct {
	mu       sync.RWMutex
	traceID  string
	category model.Category
	method   string
}

func (s *Scope) TraceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traceID
}

func (s *Scope) Category() model.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.category
}

func (s *Scope) Method() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.method
}

func (s *Scope) SetCategory(c model.Category) {
	s.mu.Lock()
	s.category = c
	s.mu.Unlock()
}

func (s *Scope) SetMethod(method string) {
	s.mu.Lock()
	s.method = method
	s.mu.Unlock()
}

// readOnly hides the setters of a Scope from context readers.
type readOnly struct{ s *Scope }

func (r readOnly) TraceID() string          { return r.s.TraceID() }
func (r readOnly) Category() model.Category { return r.s.Category() }
func (r readOnly) Method() string           { return r.s.Method() }

type scopeKey struct{}

type callerKey struct{}

// Start opens a new unit of work. An empty traceID is replaced by a freshly
// generated one. The returned context carries a read-only view of the scope.
func Start(ctx context.Context, traceID string, category model.Category, method string) (context.Context, *Scope) {
	if traceID == "" {
		traceID = NewID()
	}
	s := &Scope{
		traceID:  traceID,
		category: category,
		method:   method,
	}
	return context.WithValue(ctx, scopeKey{}, readOnly{s}), s
}

// FromContext returns the trace context of the current unit of work, if any.
func FromContext(ctx context.Context) (View, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(scopeKey{}).(readOnly)
	if !ok {
		return nil, false
	}
	return v, true
}

// IDFromContext returns the current trace id or "".
func IDFromContext(ctx context.Context) string {
	if v, ok := FromContext(ctx); ok {
		return v.TraceID()
	}
	return ""
}

// Caller describes who triggered the current unit of work.
type Caller struct {
	UserID    string
	IPAddress string
}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
