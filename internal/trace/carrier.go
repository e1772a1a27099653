package trace

import (
	"context"
	"net/http"

	"github.com/GoPolymarket/polyaudit/internal/model"
)

const (
	// HeaderInbound is read from incoming requests.
	HeaderInbound = "traceId"
	// HeaderOutbound is echoed on every response.
	HeaderOutbound = "X-Trace-Id"
	// MessageAttribute carries the trace id on queue messages.
	MessageAttribute = "TraceId"
)

// Carrier moves a trace id across a process or transport boundary.
type Carrier interface {
	Get(key string) string
	Set(key, value string)
}

// MessageAttributes is a Carrier for broker message attributes.
type MessageAttributes map[string]string

func (m MessageAttributes) Get(key string) string { return m[key] }

func (m MessageAttributes) Set(key, value string) { m[key] = value }

// HeaderCarrier adapts http.Header for outbound calls.
type HeaderCarrier http.Header

func (h HeaderCarrier) Get(key string) string { return http.Header(h).Get(key) }

func (h HeaderCarrier) Set(key, value string) { http.Header(h).Set(key, value) }

func keyFor(c Carrier) string {
	if _, ok := c.(MessageAttributes); ok {
		return MessageAttribute
	}
	return HeaderInbound
}

// Inject writes the ambient trace id into the carrier. It reports whether a
// trace id was available.
func Inject(ctx context.Context, c Carrier) bool {
	id := IDFromContext(ctx)
	if id == "" || isNilCarrier(c) {
		return false
	}
	c.Set(keyFor(c), id)
	return true
}

// isNilCarrier also catches nil maps stored in the interface, which cannot
// be written to.
func isNilCarrier(c Carrier) bool {
	switch v := c.(type) {
	case nil:
		return true
	case MessageAttributes:
		return v == nil
	case HeaderCarrier:
		return v == nil
	}
	return false
}

// Extract returns the trace id held by the carrier, or "".
func Extract(c Carrier) string {
	if c == nil {
		return ""
	}
	return c.Get(keyFor(c))
}

// StartFromMessage opens a unit of work for one queue message, adopting the
// trace id it carries or generating a new one.
func StartFromMessage(ctx context.Context, attrs MessageAttributes, category model.Category, method string) (context.Context, *Scope) {
	return Start(ctx, Extract(attrs), category, method)
}
