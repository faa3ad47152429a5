package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/michalporada/framer-marketplace-scraper/internal/store"
)

func TestRunHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{
		runs: []store.RunRecord{
			{
				ID:        uuid.NewString(),
				Target:    "https://www.framer.com/sitemap.xml",
				StartedAt: time.Now().Add(-time.Hour),
				Status:    store.RunRunning,
			},
		},
	}
	handler := NewRunHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=10", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "runs")
}

func TestRunHandlerListRunsInvalidLimit(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(&mockRunRepo{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=-1", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandlerListRunsWithoutStore(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunHandlerGetRunNotFound(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{err: store.ErrNotFound}
	handler := NewRunHandler(repo, zap.NewNop())

	runID := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID, nil)
	req = withRunIDParam(req, runID)
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunHandlerGetRunRejectsMalformedID(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(&mockRunRepo{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/not-a-uuid", nil)
	req = withRunIDParam(req, "not-a-uuid")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandlerGetRunAttachesSummary(t *testing.T) {
	t.Parallel()

	runID := uuid.NewString()
	finished := time.Now().UTC()
	outcome := "success"
	repo := &mockRunRepo{
		runs: []store.RunRecord{{
			ID:         runID,
			Target:     "https://www.framer.com/sitemap.xml",
			StartedAt:  finished.Add(-10 * time.Minute),
			FinishedAt: &finished,
			Status:     store.RunFinished,
			Outcome:    &outcome,
			Summary:    []byte(`{"records_written":42}`),
		}},
	}
	handler := NewRunHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID, nil)
	req = withRunIDParam(req, runID)
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Run struct {
			ID      string `json:"id"`
			Status  string `json:"status"`
			Summary struct {
				RecordsWritten int `json:"records_written"`
			} `json:"summary"`
		} `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, runID, body.Run.ID)
	require.Equal(t, string(store.RunFinished), body.Run.Status)
	require.Equal(t, 42, body.Run.Summary.RecordsWritten, "summary must nest as JSON, not a quoted string")
}

type mockRunRepo struct {
	runs []store.RunRecord
	err  error
}

func (m *mockRunRepo) UpsertRunStart(context.Context, string, string, time.Time) error {
	return m.err
}

func (m *mockRunRepo) CompleteRun(context.Context, string, time.Time, string, []byte) error {
	return m.err
}

func (m *mockRunRepo) GetRun(context.Context, string) (store.RunRecord, error) {
	if m.err != nil {
		return store.RunRecord{}, m.err
	}
	if len(m.runs) > 0 {
		return m.runs[0], nil
	}
	return store.RunRecord{}, store.ErrNotFound
}

func (m *mockRunRepo) ListRuns(context.Context, int, int) ([]store.RunRecord, error) {
	return m.runs, m.err
}

func withRunIDParam(r *http.Request, runID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("run_id", runID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
