package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xray-ai/xray/internal/auth"
	"github.com/xray-ai/xray/internal/model"
	"github.com/xray-ai/xray/internal/service/funnel"
	"github.com/xray-ai/xray/internal/service/ingest"
	"github.com/xray-ai/xray/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, jwtMgr *auth.JWTManager, apiKey string) (*Server, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	logger := testLogger()

	srv := New(Config{
		Store:               store,
		IngestSvc:           ingest.New(store, logger),
		FunnelSvc:           funnel.New(store),
		JWTMgr:              jwtMgr,
		APIKey:              apiKey,
		Logger:              logger,
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	return srv, store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) model.ResponseMeta {
	t.Helper()
	var envelope struct {
		Data json.RawMessage    `json:"data"`
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	if dest != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, dest))
	}
	return envelope.Meta
}

func ingestEvent(t *testing.T, kind model.EventKind, payload any) model.IngestEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return model.IngestEvent{Kind: kind, Payload: raw}
}

func TestIngestThenFunnel(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")
	handler := srv.Handler()

	runID := uuid.New()
	now := time.Now().UTC()

	run := model.Run{
		ID:          runID,
		Name:        "candidate_search",
		Status:      model.RunStatusCompleted,
		StartedAt:   now.Add(-time.Minute),
		CompletedAt: &now,
	}
	filterStep := model.Step{
		ID:    uuid.New(),
		RunID: runID,
		Name:  "score_filter",
		Type:  model.StepTypeFilter,
		Metadata: map[string]any{
			model.MetaTotalCount:    5000,
			model.MetaSurvivorCount: 50,
		},
		StartedAt:   now.Add(-30 * time.Second),
		CompletedAt: &now,
	}
	logicStep := model.Step{
		ID:          uuid.New(),
		RunID:       runID,
		Name:        "select_best",
		Type:        model.StepTypeLogic,
		Outputs:     map[string]any{"selected": "X"},
		StartedAt:   now.Add(-10 * time.Second),
		CompletedAt: &now,
	}

	rec := doJSON(t, handler, "POST", "/v1/ingest", model.IngestRequest{Events: []model.IngestEvent{
		ingestEvent(t, model.EventRunComplete, run),
		ingestEvent(t, model.EventStepComplete, filterStep),
		ingestEvent(t, model.EventStepComplete, logicStep),
	}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ingestResp model.IngestResponse
	decodeData(t, rec, &ingestResp)
	assert.Equal(t, "ok", ingestResp.Status)
	assert.Equal(t, 3, ingestResp.Processed)

	rec = doJSON(t, handler, "GET", "/v1/runs/"+runID.String()+"/funnel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result model.DecisionFunnel
	meta := decodeData(t, rec, &result)
	assert.NotEmpty(t, meta.RequestID)

	require.Len(t, result.Funnel, 2)
	entry := result.Funnel[0]
	require.NotNil(t, entry.InputCount)
	require.NotNil(t, entry.OutputCount)
	require.NotNil(t, entry.DropRate)
	assert.Equal(t, 5000, *entry.InputCount)
	assert.Equal(t, 50, *entry.OutputCount)
	assert.InDelta(t, 0.99, *entry.DropRate, 1e-9)
	assert.Equal(t, map[string]any{"selected": "X"}, result.FinalOutput)
}

func TestIngestRejectsBadBodies(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")
	handler := srv.Handler()

	rec := doJSON(t, handler, "POST", "/v1/ingest", model.IngestRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest("POST", "/v1/ingest", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFunnelUnknownRunIs404(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")

	rec := doJSON(t, srv.Handler(), "GET", "/v1/runs/"+uuid.NewString()+"/funnel", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var envelope model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, model.ErrCodeNotFound, envelope.Error.Code)
}

func TestFunnelEmptyRunIsValid(t *testing.T) {
	srv, store := newTestServer(t, nil, "")

	runID := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, store.RecordRunCompletion(t.Context(), model.Run{
		ID:          runID,
		Name:        "empty",
		Status:      model.RunStatusCompleted,
		StartedAt:   now,
		CompletedAt: &now,
	}))

	rec := doJSON(t, srv.Handler(), "GET", "/v1/runs/"+runID.String()+"/funnel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.DecisionFunnel
	decodeData(t, rec, &result)
	assert.Empty(t, result.Funnel)
	assert.Nil(t, result.FinalOutput)
}

func TestGetRunInvalidID(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")
	rec := doJSON(t, srv.Handler(), "GET", "/v1/runs/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRunsLimitValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")
	handler := srv.Handler()

	rec := doJSON(t, handler, "GET", "/v1/runs?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, "GET", "/v1/runs?limit=10", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListRunStepsUnknownRunIs404(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")
	rec := doJSON(t, srv.Handler(), "GET", "/v1/runs/"+uuid.NewString()+"/steps", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")
	rec := doJSON(t, srv.Handler(), "GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health model.HealthResponse
	decodeData(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestAuthRequiredWhenEnabled(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	srv, _ := newTestServer(t, jwtMgr, "secret-key")
	handler := srv.Handler()

	// Unauthenticated requests to protected routes are rejected.
	rec := doJSON(t, handler, "GET", "/v1/runs", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health stays open.
	rec = doJSON(t, handler, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Wrong API key is rejected.
	rec = doJSON(t, handler, "POST", "/auth/token", model.AuthTokenRequest{APIKey: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct API key yields a token that unlocks protected routes.
	rec = doJSON(t, handler, "POST", "/auth/token", model.AuthTokenRequest{APIKey: "secret-key"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tokenResp model.AuthTokenResponse
	decodeData(t, rec, &tokenResp)
	require.NotEmpty(t, tokenResp.Token)

	rec = doJSON(t, handler, "GET", "/v1/runs", nil, map[string]string{
		"Authorization": "Bearer " + tokenResp.Token,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, "GET", "/v1/runs", nil, map[string]string{
		"Authorization": "Bearer garbage",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDPropagatesToResponse(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")

	rec := doJSON(t, srv.Handler(), "GET", "/health", nil, map[string]string{
		"X-Request-ID": "req-abc-123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-abc-123", rec.Header().Get("X-Request-ID"))

	meta := decodeData(t, rec, nil)
	assert.Equal(t, "req-abc-123", meta.RequestID)
}
