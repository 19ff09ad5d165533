package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-progress/internal/store"
)

func TestRunsHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{
		runs: []store.RunRecord{
			{
				ID:        uuid.New(),
				Label:     "running",
				Total:     8,
				Processed: 2,
				Succeeded: 2,
				Status:    store.RunRunning,
				StartedAt: time.Now().Add(-time.Minute),
			},
		},
	}
	handler := NewRunsHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?status=running&limit=10&offset=5", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, 25, body.Runs[0].Percent)
	require.Equal(t, "running", body.Runs[0].Status)

	require.NotNil(t, repo.lastStatus)
	require.Equal(t, store.RunRunning, *repo.lastStatus)
	require.Equal(t, 10, repo.lastLimit)
	require.Equal(t, 5, repo.lastOffset)
}

func TestRunsHandlerListRunsDefaults(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{}
	handler := NewRunsHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=100000", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, repo.lastStatus)
	require.Equal(t, maxRunLimit, repo.lastLimit)
	require.Equal(t, 0, repo.lastOffset)
	require.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}

func TestRunsHandlerListRunsBadRequest(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"negative limit":  "/v1/runs?limit=-1",
		"non-int limit":   "/v1/runs?limit=abc",
		"negative offset": "/v1/runs?offset=-3",
		"unknown status":  "/v1/runs?status=paused",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			handler := NewRunsHandler(&mockRunRepo{}, zap.NewNop())
			rec := httptest.NewRecorder()
			handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, target, nil))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRunsHandlerListRunsRepoError(t *testing.T) {
	t.Parallel()

	handler := NewRunsHandler(&mockRunRepo{err: errors.New("db down")}, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "failed to list runs")
}

func TestRunsHandlerNilRepo(t *testing.T) {
	t.Parallel()

	handler := NewRunsHandler(nil, nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetRun(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunsHandlerGetRun(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	finished := time.Now()
	uri := "file:///tmp/reports/run.json"
	repo := &mockRunRepo{
		runs: []store.RunRecord{{
			ID:         runID,
			Label:      "done",
			Total:      4,
			Processed:  4,
			Succeeded:  3,
			Failed:     1,
			Status:     store.RunDone,
			FinishedAt: &finished,
			ReportURI:  &uri,
		}},
	}
	handler := NewRunsHandler(repo, zap.NewNop())

	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil), runID.String())
	rec := httptest.NewRecorder()
	handler.GetRun(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run runDTO `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, runID.String(), body.Run.ID)
	require.Equal(t, 100, body.Run.Percent)
	require.Equal(t, 1, body.Run.Failed)
	require.NotNil(t, body.Run.ReportURI)
	require.Equal(t, uri, *body.Run.ReportURI)
}

func TestRunsHandlerGetRunNotFound(t *testing.T) {
	t.Parallel()

	handler := NewRunsHandler(&mockRunRepo{err: store.ErrNotFound}, zap.NewNop())

	runID := uuid.New()
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil), runID.String())
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunsHandlerGetRunInvalidID(t *testing.T) {
	t.Parallel()

	handler := NewRunsHandler(&mockRunRepo{}, zap.NewNop())
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/nope", nil), "nope")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid run_id")
}

func TestRunsHandlerGetRunRepoError(t *testing.T) {
	t.Parallel()

	handler := NewRunsHandler(&mockRunRepo{err: errors.New("boom")}, zap.NewNop())
	runID := uuid.New()
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil), runID.String())
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    store.RunStatus
		wantErr bool
	}{
		{in: "running", want: store.RunRunning},
		{in: "ACTIVE", want: store.RunRunning},
		{in: "done", want: store.RunDone},
		{in: "Completed", want: store.RunDone},
		{in: "paused", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseStatus(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}

type mockRunRepo struct {
	runs []store.RunRecord
	err  error

	lastStatus *store.RunStatus
	lastLimit  int
	lastOffset int
}

func (m *mockRunRepo) CreateRun(context.Context, store.RunRecord) error {
	return nil
}

func (m *mockRunRepo) RecordSnapshot(context.Context, uuid.UUID, store.Snapshot) error {
	return nil
}

func (m *mockRunRepo) CompleteRun(context.Context, uuid.UUID, string, time.Time, *string) error {
	return nil
}

func (m *mockRunRepo) GetRun(_ context.Context, runID uuid.UUID) (store.RunRecord, error) {
	if m.err != nil {
		return store.RunRecord{}, m.err
	}
	for _, run := range m.runs {
		if run.ID == runID {
			return run, nil
		}
	}
	return store.RunRecord{}, store.ErrNotFound
}

func (m *mockRunRepo) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.RunRecord, error) {
	m.lastStatus = status
	m.lastLimit = limit
	m.lastOffset = offset
	if m.err != nil {
		return nil, m.err
	}
	return m.runs, nil
}

func withRunIDParam(req *http.Request, runID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("run_id", runID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}
