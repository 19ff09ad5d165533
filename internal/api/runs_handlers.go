package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-progress/internal/store"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	runsTimeout     = 3 * time.Second
)

// RunsHandler exposes read-only batch run endpoints.
type RunsHandler struct {
	repo    store.RunRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunsHandler wires the repository and logger.
func NewRunsHandler(repo store.RunRepository, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{
		repo:    repo,
		timeout: runsTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs?status=&limit=&offset=. It returns a JSON
// object {"runs": [...]} on success, 400 for invalid filters, 503 when the repo
// is unavailable, or 500 if the repository call fails.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RunStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		statusVal, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	runs, err := h.repo.ListRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": toRunDTOs(runs),
	})
}

// GetRun handles GET /v1/runs/{run_id}. It returns {"run": {...}} on success,
// 400 for malformed IDs, 404 when the repository reports store.ErrNotFound,
// 503 if the repo is not initialized, or 500 otherwise.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run repository unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.String("run_id", runID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	runID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return runID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.RunStatus, error) {
	switch strings.ToLower(input) {
	case "running", "active":
		return store.RunRunning, nil
	case "done", "finished", "completed":
		return store.RunDone, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toRunDTOs(in []store.RunRecord) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

func toRunDTO(run store.RunRecord) runDTO {
	dto := runDTO{
		ID:         run.ID.String(),
		Label:      run.Label,
		Status:     string(run.Status),
		Total:      run.Total,
		Processed:  run.Processed,
		Succeeded:  run.Succeeded,
		Failed:     run.Failed,
		StartedAt:  run.StartedAt,
		UpdatedAt:  run.UpdatedAt,
		FinishedAt: run.FinishedAt,
		ReportURI:  run.ReportURI,
	}
	if run.Total > 0 {
		dto.Percent = int(math.Round(float64(run.Processed) / float64(run.Total) * 100))
	}
	return dto
}

type runDTO struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Percent    int        `json:"percent"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ReportURI  *string    `json:"report_uri,omitempty"`
}
