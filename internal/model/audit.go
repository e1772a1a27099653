package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Category classifies where an audited operation came from.
type Category string

const (
	CategoryHTTP       Category = "HTTP"
	CategoryJob        Category = "Job"
	CategoryBackground Category = "Background"
	CategoryQueue      Category = "Queue"
	CategoryDatabase   Category = "Database"
	CategoryExternal   Category = "External"
	CategorySystem     Category = "System"
)

var categories = []Category{
	CategoryHTTP,
	CategoryJob,
	CategoryBackground,
	CategoryQueue,
	CategoryDatabase,
	CategoryExternal,
	CategorySystem,
}

// Categories returns the closed set of categories.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory accepts only members of the closed set.
func ParseCategory(raw string) (Category, error) {
	c := Category(raw)
	if !c.Valid() {
		return "", fmt.Errorf("unknown audit category %q", raw)
	}
	return c, nil
}

// Trigger kinds used as the Method of non-HTTP records.
const (
	TriggerScheduled = "Scheduled"
	TriggerTriggered = "Triggered"
	TriggerManual    = "Manual"
	TriggerRetry     = "Retry"
)

// AuditRecord 代表一次被观察操作的审计记录
//
// Records are values: once built by an interceptor they are copied through the
// queue and only the sink boundary fills ID and ApplicationName.
type AuditRecord struct {
	ID                string    `json:"id" db:"id"`
	ApplicationName   string    `json:"applicationName" db:"application_name"`
	TraceID           string    `json:"traceId" db:"trace_id"`
	LoggedAt          time.Time `json:"loggedAt" db:"logged_at"`
	Category          Category  `json:"category" db:"category"`
	Operation         string    `json:"operation" db:"operation"`
	Method            *string   `json:"method,omitempty" db:"method"`
	StatusCode        *int      `json:"statusCode,omitempty" db:"status_code"`
	StatusDescription *string   `json:"statusDescription,omitempty" db:"status_description"`
	HasError          bool      `json:"hasError" db:"has_error"`
	DurationMs        int64     `json:"durationMs" db:"duration_ms"`
	InputData         *string   `json:"inputData,omitempty" db:"input_data"`
	OutputData        *string   `json:"outputData,omitempty" db:"output_data"`
	Metadata          *string   `json:"metadata,omitempty" db:"metadata"`
	UserID            *string   `json:"userId,omitempty" db:"user_id"`
	IPAddress         *string   `json:"ipAddress,omitempty" db:"ip_address"`
}

// Column limits of the audit_logs table.
const (
	MaxApplicationNameLen   = 100
	MaxTraceIDLen           = 50
	MaxMethodLen            = 50
	MaxOperationLen         = 500
	MaxStatusDescriptionLen = 100
	MaxUserIDLen            = 100
	MaxIPAddressLen         = 50
)

// Truncated returns a copy with every length-limited column cut to fit.
func (r AuditRecord) Truncated() AuditRecord {
	r.ApplicationName = truncate(r.ApplicationName, MaxApplicationNameLen)
	r.TraceID = truncate(r.TraceID, MaxTraceIDLen)
	r.Operation = truncate(r.Operation, MaxOperationLen)
	r.Method = truncatePtr(r.Method, MaxMethodLen)
	r.StatusDescription = truncatePtr(r.StatusDescription, MaxStatusDescriptionLen)
	r.UserID = truncatePtr(r.UserID, MaxUserIDLen)
	r.IPAddress = truncatePtr(r.IPAddress, MaxIPAddressLen)
	return r
}

// truncate keeps at most n characters, the unit VARCHAR(n) counts. Invalid
// UTF-8 is replaced so the text column accepts the value.
func truncate(s string, n int) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func truncatePtr(s *string, n int) *string {
	if s == nil {
		return nil
	}
	v := truncate(*s, n)
	if v == *s {
		return s
	}
	return &v
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func IntPtr(v int) *int {
	return &v
}

// Job / call status codes.
const (
	JobSuccess        = 0
	JobFailed         = 1
	JobCancelled      = 2
	JobTimeout        = 3
	JobPartialSuccess = 4
)

var jobStatusDescriptions = map[int]string{
	JobSuccess:        "Success",
	JobFailed:         "Failed",
	JobCancelled:      "Cancelled",
	JobTimeout:        "Timeout",
	JobPartialSuccess: "PartialSuccess",
}

// DescribeJobStatus maps a job status code to its label; unknown codes map to
// their numeric string.
func DescribeJobStatus(code int) string {
	if desc, ok := jobStatusDescriptions[code]; ok {
		return desc
	}
	return strconv.Itoa(code)
}

// IsJobError is false only for Success and PartialSuccess.
func IsJobError(code int) bool {
	return code != JobSuccess && code != JobPartialSuccess
}

var httpStatusDescriptions = map[int]string{
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "NoContent",
	400: "BadRequest",
	401: "Unauthorized",
	403: "Forbidden",
	404: "NotFound",
	409: "Conflict",
	422: "UnprocessableEntity",
	500: "InternalServerError",
	502: "BadGateway",
	503: "ServiceUnavailable",
	504: "GatewayTimeout",
}

// DescribeHTTPStatus maps an HTTP status code to its label; unknown codes map
// to their numeric string.
func DescribeHTTPStatus(code int) string {
	if desc, ok := httpStatusDescriptions[code]; ok {
		return desc
	}
	return strconv.Itoa(code)
}

// IsHTTPError reports whether an HTTP status denotes a failed request.
func IsHTTPError(code int) bool {
	return code >= 400
}

// EncodeJSON normalises captured payload text so storage always receives valid
// JSON: empty input becomes {}, valid JSON is kept as is and anything else is
// wrapped as {"raw": "..."}.
func EncodeJSON(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "{}"
	}
	if json.Valid(trimmed) {
		return string(raw)
	}
	return WrapRaw(string(raw))
}

// WrapRaw encodes s as {"raw": s}.
func WrapRaw(s string) string {
	out, err := json.Marshal(struct {
		Raw string `json:"raw"`
	}{Raw: s})
	if err != nil {
		// string marshalling cannot fail
		return "{}"
	}
	return string(out)
}
