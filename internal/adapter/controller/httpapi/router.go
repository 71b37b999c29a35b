// Package httpapi exposes health, metrics and run control over HTTP.
// A long-lived serve process owns the wait timers, so other processes send
// run mutations here instead of writing the store behind its back.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/application/port/input"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
)

// TenantHeader selects the tenant of a request
const TenantHeader = "X-Tenant"

// RequestIDHeader carries the request id echoed back to callers
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Deps are the collaborators of the handler
type Deps struct {
	Runs          input.RunUseCase
	Approvals     input.ApprovalUseCase
	Gatherer      prometheus.Gatherer
	DefaultTenant model.TenantID
	Logger        logrus.FieldLogger
	Health        func() error
}

type handler struct {
	deps   Deps
	logger logrus.FieldLogger
}

// NewHandler builds the chi router
func NewHandler(deps Deps) http.Handler {
	h := &handler{deps: deps, logger: deps.Logger.WithField("component", "http")}

	r := chi.NewRouter()
	r.Use(h.logRequests)

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.listRuns)
		r.Post("/", h.startRun)
		r.Get("/{runID}", h.getRun)
		r.Post("/{runID}/pause", h.pauseRun)
		r.Post("/{runID}/resume", h.resumeRun)
		r.Post("/{runID}/cancel", h.cancelRun)
	})
	r.Get("/scenarios/{scenarioID}/trend", h.trend)
	if deps.Approvals != nil {
		r.Post("/steps/{stepID}/approve", h.approveStep)
	}

	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health != nil {
		if err := h.deps.Health(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.tenant(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	q := r.URL.Query()
	req := dto.ListRunsRequest{
		ScenarioID: q.Get("scenario_id"),
		PlaybookID: q.Get("playbook_id"),
		Status:     q.Get("status"),
		SortBy:     q.Get("sort_by"),
		SortOrder:  q.Get("sort_order"),
	}
	if req.Limit, err = intParam(q.Get("limit")); err != nil {
		h.writeError(w, model.NewValidationError("limit: %v", err))
		return
	}
	if req.Offset, err = intParam(q.Get("offset")); err != nil {
		h.writeError(w, model.NewValidationError("offset: %v", err))
		return
	}

	resp, err := h.deps.Runs.ListRuns(r.Context(), tenant, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.tenant(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	run, err := h.deps.Runs.GetRun(r.Context(), tenant, chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// StartRunRequest is the body of POST /runs
type StartRunRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// CancelRunRequest is the optional body of POST /runs/{runID}/cancel
type CancelRunRequest struct {
	Reason string `json:"reason"`
}

// DecisionRequest is the body of POST /steps/{stepID}/approve
type DecisionRequest struct {
	Approved  bool   `json:"approved"`
	Notes     string `json:"notes"`
	ActorRole string `json:"actor_role,omitempty"`
}

func (h *handler) startRun(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.tenant(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req StartRunRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.ScenarioID == "" {
		h.writeError(w, model.NewValidationError("scenario_id is required"))
		return
	}
	run, err := h.deps.Runs.StartRun(r.Context(), tenant, req.ScenarioID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (h *handler) pauseRun(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.deps.Runs.PauseRun)
}

func (h *handler) resumeRun(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.deps.Runs.ResumeRun)
}

func (h *handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	var req CancelRunRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	h.runAction(w, r, func(ctx context.Context, tenant model.TenantID, runID string) (*dto.RunDTO, error) {
		return h.deps.Runs.CancelRun(ctx, tenant, runID, req.Reason)
	})
}

func (h *handler) runAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tenant model.TenantID, runID string) (*dto.RunDTO, error)) {
	tenant, err := h.tenant(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	run, err := fn(r.Context(), tenant, chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *handler) approveStep(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.tenant(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req DecisionRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	step, err := h.deps.Approvals.ApproveStep(r.Context(), tenant, dto.ApproveStepRequest{
		StepID:    chi.URLParam(r, "stepID"),
		Approved:  req.Approved,
		Notes:     req.Notes,
		ActorRole: req.ActorRole,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (h *handler) trend(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.tenant(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	trend, err := h.deps.Runs.Trend(r.Context(), tenant, chi.URLParam(r, "scenarioID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

func (h *handler) tenant(r *http.Request) (model.TenantID, error) {
	if v := r.Header.Get(TenantHeader); v != "" {
		return model.NewTenantID(v)
	}
	if h.deps.DefaultTenant.IsZero() {
		return model.TenantID{}, model.NewValidationError("%s header is required", TenantHeader)
	}
	return h.deps.DefaultTenant, nil
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := map[string]interface{}{"error": err.Error()}
	var domainErr *model.DomainError
	if errors.As(err, &domainErr) {
		body["code"] = domainErr.Code
		body["error"] = domainErr.Message
		if len(domainErr.Details) > 0 {
			body["details"] = domainErr.Details
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("request failed")
	}
	writeJSON(w, status, body)
}

// logRequests tags each request with an id and logs its outcome
func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		rw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		h.logger.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func statusFor(err error) int {
	switch {
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsFailedPrecondition(err), errdefs.IsConflict(err):
		return http.StatusConflict
	case errdefs.IsUnavailable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// decodeBody reads an optional JSON body; an empty body leaves v untouched
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return model.NewValidationError("invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
