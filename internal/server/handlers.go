package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/xray-ai/xray/internal/auth"
	"github.com/xray-ai/xray/internal/model"
	"github.com/xray-ai/xray/internal/service/funnel"
	"github.com/xray-ai/xray/internal/service/ingest"
	"github.com/xray-ai/xray/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store               storage.Store
	ingestSvc           *ingest.Service
	funnelSvc           *funnel.Service
	jwtMgr              *auth.JWTManager
	apiKey              string
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// JWTMgr and APIKey are optional: leave both empty to disable auth.
type HandlersDeps struct {
	Store               storage.Store
	IngestSvc           *ingest.Service
	FunnelSvc           *funnel.Service
	JWTMgr              *auth.JWTManager
	APIKey              string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		store:               d.Store,
		ingestSvc:           d.IngestSvc,
		funnelSvc:           d.FunnelSvc,
		jwtMgr:              d.JWTMgr,
		apiKey:              d.APIKey,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	if !auth.VerifyAPIKey(req.APIKey, h.apiKey) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken()
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleIngest handles POST /v1/ingest: a batch of SDK events.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req model.IngestRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "events array must not be empty")
		return
	}

	processed, err := h.ingestSvc.Apply(r.Context(), req.Events)
	if err != nil {
		h.writeInternalError(w, r, "failed to ingest events", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.IngestResponse{Status: "ok", Processed: processed})
}

// HandleListRuns handles GET /v1/runs.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to list runs", err)
		return
	}

	writeJSON(w, r, http.StatusOK, runs)
}

// HandleGetRun handles GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
			return
		}
		h.writeInternalError(w, r, "failed to get run", err)
		return
	}

	writeJSON(w, r, http.StatusOK, run)
}

// HandleListRunSteps handles GET /v1/runs/{run_id}/steps.
func (h *Handlers) HandleListRunSteps(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if _, err := h.store.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
			return
		}
		h.writeInternalError(w, r, "failed to get run", err)
		return
	}

	steps, err := h.store.ListStepsByRun(r.Context(), runID)
	if err != nil {
		h.writeInternalError(w, r, "failed to list steps", err)
		return
	}

	writeJSON(w, r, http.StatusOK, steps)
}

// HandleAnalyzeRun handles GET /v1/runs/{run_id}/funnel: the reconstructed
// decision funnel. An unknown run is 404; a run with no steps is an empty
// funnel, not an error.
func (h *Handlers) HandleAnalyzeRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	result, err := h.funnelSvc.Analyze(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
			return
		}
		h.writeInternalError(w, r, "failed to analyze run", err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	store := "ok"
	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		status = "degraded"
		store = "unreachable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, model.HealthResponse{Status: status, Version: h.version, Store: store})
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, msg)
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := r.PathValue("run_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid run_id: %q", raw)
	}
	return id, nil
}
