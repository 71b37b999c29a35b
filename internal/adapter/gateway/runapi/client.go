// Package runapi calls the run endpoints of a running "deeplay serve".
// It lets short-lived commands steer runs whose timers live in that process.
package runapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/YoshitsuguKoike/deeplay/internal/adapter/controller/httpapi"
	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/application/port/input"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
)

// DefaultTimeout bounds one request. Cancelling a run with a step in
// flight waits for the dispatch to land, so it is generous.
const DefaultTimeout = 2 * time.Minute

// Client implements the run and approval use cases over HTTP
type Client struct {
	base   *url.URL
	http   *http.Client
	logger logrus.FieldLogger
}

var (
	_ input.RunUseCase      = (*Client)(nil)
	_ input.ApprovalUseCase = (*Client)(nil)
)

// New creates a client for the server at baseURL, e.g. http://127.0.0.1:9464
func New(baseURL string, logger logrus.FieldLogger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	return &Client{
		base:   u,
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: logger.WithField("component", "runapi"),
	}, nil
}

func (c *Client) StartRun(ctx context.Context, tenant model.TenantID, scenarioID string) (*dto.RunDTO, error) {
	var out dto.RunDTO
	err := c.do(ctx, tenant, http.MethodPost, "/runs", nil, httpapi.StartRunRequest{ScenarioID: scenarioID}, &out)
	return result(&out, err)
}

func (c *Client) PauseRun(ctx context.Context, tenant model.TenantID, runID string) (*dto.RunDTO, error) {
	var out dto.RunDTO
	err := c.do(ctx, tenant, http.MethodPost, "/runs/"+url.PathEscape(runID)+"/pause", nil, nil, &out)
	return result(&out, err)
}

func (c *Client) ResumeRun(ctx context.Context, tenant model.TenantID, runID string) (*dto.RunDTO, error) {
	var out dto.RunDTO
	err := c.do(ctx, tenant, http.MethodPost, "/runs/"+url.PathEscape(runID)+"/resume", nil, nil, &out)
	return result(&out, err)
}

func (c *Client) CancelRun(ctx context.Context, tenant model.TenantID, runID string, reason string) (*dto.RunDTO, error) {
	var out dto.RunDTO
	err := c.do(ctx, tenant, http.MethodPost, "/runs/"+url.PathEscape(runID)+"/cancel", nil, httpapi.CancelRunRequest{Reason: reason}, &out)
	return result(&out, err)
}

func (c *Client) GetRun(ctx context.Context, tenant model.TenantID, runID string) (*dto.RunDTO, error) {
	var out dto.RunDTO
	err := c.do(ctx, tenant, http.MethodGet, "/runs/"+url.PathEscape(runID), nil, nil, &out)
	return result(&out, err)
}

func (c *Client) ListRuns(ctx context.Context, tenant model.TenantID, req dto.ListRunsRequest) (*dto.ListRunsResponse, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("scenario_id", req.ScenarioID)
	set("playbook_id", req.PlaybookID)
	set("status", req.Status)
	set("sort_by", req.SortBy)
	set("sort_order", req.SortOrder)
	if req.Limit != 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Offset != 0 {
		q.Set("offset", strconv.Itoa(req.Offset))
	}

	var out dto.ListRunsResponse
	err := c.do(ctx, tenant, http.MethodGet, "/runs", q, nil, &out)
	return result(&out, err)
}

func (c *Client) Trend(ctx context.Context, tenant model.TenantID, scenarioID string) (*dto.TrendDTO, error) {
	var out dto.TrendDTO
	err := c.do(ctx, tenant, http.MethodGet, "/scenarios/"+url.PathEscape(scenarioID)+"/trend", nil, nil, &out)
	return result(&out, err)
}

func (c *Client) ApproveStep(ctx context.Context, tenant model.TenantID, req dto.ApproveStepRequest) (*dto.RunStepDTO, error) {
	var out dto.RunStepDTO
	body := httpapi.DecisionRequest{Approved: req.Approved, Notes: req.Notes, ActorRole: req.ActorRole}
	err := c.do(ctx, tenant, http.MethodPost, "/steps/"+url.PathEscape(req.StepID)+"/approve", nil, body, &out)
	return result(&out, err)
}

// errorBody mirrors what the server writes for a failed request
type errorBody struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details"`
}

func (c *Client) do(ctx context.Context, tenant model.TenantID, method, path string, query url.Values, body, out interface{}) error {
	target := *c.base
	target.Path = c.base.Path + path
	target.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(httpapi.TenantHeader, tenant.String())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"status":     resp.StatusCode,
		"request_id": resp.Header.Get(httpapi.RequestIDHeader),
	}).Debug("server responded")

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError restores the server's classified error so callers can keep
// using the model.Is* helpers
func decodeError(resp *http.Response) error {
	var body errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if body.Code == "" {
		return fmt.Errorf("server returned %s: %s", resp.Status, body.Error)
	}
	return &model.DomainError{Code: body.Code, Message: body.Error, Details: body.Details}
}

func result[T any](out *T, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	return out, nil
}
