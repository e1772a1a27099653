package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/config"
	"github.com/GoPolymarket/polyaudit/internal/model"
	"github.com/GoPolymarket/polyaudit/internal/pkg/logger"
	"github.com/GoPolymarket/polyaudit/internal/service"
	"github.com/GoPolymarket/polyaudit/internal/trace"
	"github.com/gin-gonic/gin"
)

const (
	// ContextTraceID is the gin key holding the trace id of the request.
	ContextTraceID = "trace_id"
	// ContextUserID is set by whichever auth layer identifies the caller.
	ContextUserID = "user_id"

	redactedValue = "***"
)

// bodyLogWriter 包装 ResponseWriter 以捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body      *bytes.Buffer
	limit     int
	truncated bool
}

func (w *bodyLogWriter) capture(b []byte) {
	if w.limit > 0 {
		room := w.limit - w.body.Len()
		if room <= 0 {
			w.truncated = w.truncated || len(b) > 0
			return
		}
		if len(b) > room {
			b = b[:room]
			w.truncated = true
		}
	}
	w.body.Write(b)
}

func (w *bodyLogWriter) Write(b []byte) (int, error) {
	w.capture(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyLogWriter) WriteString(s string) (int, error) {
	w.capture([]byte(s))
	return w.ResponseWriter.WriteString(s)
}

type auditor struct {
	queue         service.Enqueuer
	skip          map[string]struct{}
	sensitiveKeys map[string]struct{}
	redactHeaders map[string]struct{}
	maxBodyBytes  int
	localIP       func() string
}

// AuditMiddleware is the transport interceptor: it opens the trace context of
// the request, echoes the trace id, captures both bodies and queues one audit
// record per request. It must be the outermost middleware; it also recovers
// panics and answers them with a 500 carrying the trace id.
func AuditMiddleware(queue service.Enqueuer, cfg config.AuditConfig) gin.HandlerFunc {
	return newAuditor(queue, cfg, service.LocalIPv4).handle
}

func newAuditor(queue service.Enqueuer, cfg config.AuditConfig, localIP func() string) *auditor {
	a := &auditor{
		queue:         queue,
		skip:          make(map[string]struct{}, len(cfg.SkipPaths)),
		sensitiveKeys: make(map[string]struct{}, len(cfg.SensitiveKeys)),
		redactHeaders: make(map[string]struct{}, len(cfg.RedactHeaders)),
		maxBodyBytes:  cfg.MaxBodyBytes,
		localIP:       localIP,
	}
	for _, p := range cfg.SkipPaths {
		a.skip[p] = struct{}{}
	}
	for _, k := range cfg.SensitiveKeys {
		a.sensitiveKeys[strings.ToLower(strings.TrimSpace(k))] = struct{}{}
	}
	for _, h := range cfg.RedactHeaders {
		a.redactHeaders[http.CanonicalHeaderKey(h)] = struct{}{}
	}
	return a
}

// clientIP falls back to this host's address when the peer is unknown.
func (a *auditor) clientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return a.localIP()
}

type exceptionInfo struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	StackTrace string `json:"stackTrace"`
}

func (a *auditor) handle(c *gin.Context) {
	start := time.Now()

	ctx, scope := trace.Start(c.Request.Context(), c.GetHeader(trace.HeaderInbound), model.CategoryHTTP, c.Request.Method)
	traceID := scope.TraceID()
	c.Header(trace.HeaderOutbound, traceID)
	c.Set(ContextTraceID, traceID)
	ctx = trace.WithCaller(ctx, trace.Caller{IPAddress: a.clientIP(c)})
	c.Request = c.Request.WithContext(ctx)

	_, skipped := a.skip[c.Request.URL.Path]

	// 1. 读取请求体 (并写回以便后续 Bind 使用)
	var reqBody []byte
	var reqErr error
	if !skipped && c.Request.Body != nil && c.Request.Body != http.NoBody {
		reqBody, reqErr = io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	// 2. 包装 ResponseWriter 以捕获响应
	blw := &bodyLogWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}, limit: a.maxBodyBytes}
	c.Writer = blw

	defer func() {
		var exc *exceptionInfo
		if r := recover(); r != nil {
			exc = &exceptionInfo{
				Message:    fmt.Sprint(r),
				Type:       fmt.Sprintf("%T", r),
				StackTrace: string(debug.Stack()),
			}
			if err, ok := r.(error); ok {
				exc.Message = err.Error()
			}
			logger.Error("panic recovered",
				"trace_id", traceID,
				"path", c.Request.URL.Path,
				"panic", exc.Message,
			)
			if !c.Writer.Written() {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "internal server error",
					"traceId": traceID,
				})
			} else {
				c.Abort()
			}
		}
		if skipped {
			return
		}
		a.queue.Enqueue(a.record(c, start, traceID, reqBody, reqErr, blw, exc))
	}()

	// === 执行业务逻辑 ===
	c.Next()
}

func (a *auditor) record(c *gin.Context, start time.Time, traceID string, reqBody []byte, reqErr error, blw *bodyLogWriter, exc *exceptionInfo) model.AuditRecord {
	status := c.Writer.Status()
	method := c.Request.Method

	input := a.encodeBody(reqBody, reqErr != nil || a.exceedsCap(reqBody))
	output := a.encodeBody(blw.body.Bytes(), blw.truncated)
	metadata := a.metadata(c, exc)

	return model.AuditRecord{
		TraceID:           traceID,
		LoggedAt:          start.UTC(),
		Category:          model.CategoryHTTP,
		Operation:         c.Request.URL.Path,
		Method:            &method,
		StatusCode:        model.IntPtr(status),
		StatusDescription: model.StringPtr(model.DescribeHTTPStatus(status)),
		HasError:          model.IsHTTPError(status),
		DurationMs:        time.Since(start).Milliseconds(),
		InputData:         &input,
		OutputData:        &output,
		Metadata:          &metadata,
		UserID:            model.StringPtr(c.GetString(ContextUserID)),
		IPAddress:         model.StringPtr(a.clientIP(c)),
	}
}

func (a *auditor) exceedsCap(b []byte) bool {
	return a.maxBodyBytes > 0 && len(b) > a.maxBodyBytes
}

// encodeBody redacts sensitive JSON values and normalises the text for storage.
// Partial captures are never treated as JSON.
func (a *auditor) encodeBody(b []byte, partial bool) string {
	if partial {
		if a.maxBodyBytes > 0 && len(b) > a.maxBodyBytes {
			b = b[:a.maxBodyBytes]
		}
		return model.WrapRaw(string(b))
	}
	if redacted, ok := a.redactJSON(b); ok {
		return string(redacted)
	}
	return model.EncodeJSON(b)
}

// redactJSON reports ok only when b is JSON and at least one value was masked.
func (a *auditor) redactJSON(body []byte) ([]byte, bool) {
	if len(a.sensitiveKeys) == 0 || len(bytes.TrimSpace(body)) == 0 {
		return nil, false
	}
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false
	}
	if !a.redactValue(&data) {
		return nil, false
	}
	out, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	return out, true
}

func (a *auditor) redactValue(v *interface{}) bool {
	changed := false
	switch raw := (*v).(type) {
	case map[string]interface{}:
		for key, val := range raw {
			if a.isSensitiveKey(key) {
				raw[key] = redactedValue
				changed = true
				continue
			}
			vv := val
			if a.redactValue(&vv) {
				raw[key] = vv
				changed = true
			}
		}
	case []interface{}:
		for i, val := range raw {
			vv := val
			if a.redactValue(&vv) {
				raw[i] = vv
				changed = true
			}
		}
	}
	return changed
}

func (a *auditor) isSensitiveKey(key string) bool {
	_, ok := a.sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

type requestInfo struct {
	Method        string            `json:"method"`
	Path          string            `json:"path"`
	Query         string            `json:"query,omitempty"`
	Headers       map[string]string `json:"headers"`
	ContentType   string            `json:"contentType,omitempty"`
	ContentLength int64             `json:"contentLength"`
	Host          string            `json:"host"`
	Scheme        string            `json:"scheme"`
}

type responseInfo struct {
	StatusCode    int               `json:"statusCode"`
	Headers       map[string]string `json:"headers"`
	ContentType   string            `json:"contentType,omitempty"`
	ContentLength int               `json:"contentLength"`
}

type httpMetadata struct {
	Request   requestInfo    `json:"request"`
	Response  responseInfo   `json:"response"`
	Errors    []string       `json:"errors,omitempty"`
	Exception *exceptionInfo `json:"exception,omitempty"`
}

func (a *auditor) metadata(c *gin.Context, exc *exceptionInfo) string {
	req := c.Request
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	size := c.Writer.Size()
	if size < 0 {
		size = 0
	}

	meta := httpMetadata{
		Request: requestInfo{
			Method:        req.Method,
			Path:          req.URL.Path,
			Query:         req.URL.RawQuery,
			Headers:       a.flattenHeaders(req.Header),
			ContentType:   req.Header.Get("Content-Type"),
			ContentLength: req.ContentLength,
			Host:          req.Host,
			Scheme:        scheme,
		},
		Response: responseInfo{
			StatusCode:    c.Writer.Status(),
			Headers:       a.flattenHeaders(c.Writer.Header()),
			ContentType:   c.Writer.Header().Get("Content-Type"),
			ContentLength: size,
		},
		Errors:    c.Errors.Errors(),
		Exception: exc,
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(out)
}

func (a *auditor) flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if _, ok := a.redactHeaders[http.CanonicalHeaderKey(name)]; ok {
			out[name] = redactedValue
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// SetUser records the authenticated caller for both the HTTP record and any
// call records produced while handling the request.
func SetUser(c *gin.Context, userID string) {
	c.Set(ContextUserID, userID)
	caller, _ := trace.CallerFromContext(c.Request.Context())
	caller.UserID = userID
	c.Request = c.Request.WithContext(trace.WithCaller(c.Request.Context(), caller))
}
