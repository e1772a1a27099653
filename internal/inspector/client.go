package inspector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/middleware"
	"github.com/GoPolymarket/polyaudit/internal/model"
	"github.com/GoPolymarket/polyaudit/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyaudit/internal/trace"
	"github.com/pkg/errors"
)

// Client reads audit records through the query API.
type Client struct {
	baseURL  string
	adminKey string
	http     *http.Client
}

func NewClient(baseURL, adminKey string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		adminKey: adminKey,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Trace(ctx context.Context, traceID string) ([]model.AuditRecord, error) {
	return c.get(ctx, "/v1/audit/traces/"+url.PathEscape(traceID), nil)
}

func (c *Client) Application(ctx context.Context, name string, page, pageSize int) ([]model.AuditRecord, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	return c.get(ctx, "/v1/audit/applications/"+url.PathEscape(name), q)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]model.AuditRecord, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request failed")
	}
	if c.adminKey != "" {
		req.Header.Set(middleware.HeaderAdminKey, c.adminKey)
	}
	// the lookup itself shows up in the audit trail under its own trace
	ctx, _ = trace.Start(ctx, "", model.CategoryExternal, model.TriggerManual)
	trace.Inject(ctx, trace.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "querying audit records failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr apperrors.AppError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr != nil || apiErr.Message == "" {
			return nil, errors.Errorf("query API answered %s", resp.Status)
		}
		return nil, errors.Errorf("%s: %s (trace %s)", apiErr.Type, apiErr.Message, resp.Header.Get(trace.HeaderOutbound))
	}

	var records []model.AuditRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, errors.Wrap(err, "decoding audit records failed")
	}
	return records, nil
}
