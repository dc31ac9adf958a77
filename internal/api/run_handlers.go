package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/store"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	runTimeout      = 3 * time.Second
)

// RunHandler exposes read-only run history endpoints.
type RunHandler struct {
	repo    store.RunRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the repository and logger.
func NewRunHandler(repo store.RunRepository, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		repo:    repo,
		timeout: runTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /api/runs?status=&limit=&offset=. It returns
// {"runs": [...]} newest first, 400 for invalid filters, 503 when no
// repository is configured, or 500 if the repository call fails.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := store.ParseRunStatus(strings.ToLower(raw))
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(runs)})
}

// GetRun handles GET /api/runs/{run_id}. It returns {"run": {...}}, 400 for
// malformed IDs, 404 when the repository reports store.ErrNotFound, 503 if
// no repository is configured, or 500 otherwise.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
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
		h.logger.Error("get run failed", zap.Error(err))
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

type runDTO struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Status     string         `json:"status"`
	Stats      store.RunStats `json:"stats"`
	Exported   int64          `json:"exported"`
	Error      *string        `json:"error,omitempty"`
}

func toRunDTOs(in []store.Run) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

func toRunDTO(run store.Run) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		Source:     run.Source,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Stats:      run.Stats,
		Exported:   run.Exported,
		Error:      run.ErrorMessage,
	}
}
