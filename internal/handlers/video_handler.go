package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/docvivid/backend/internal/ledger"
	"github.com/docvivid/backend/internal/middleware"
	"github.com/docvivid/backend/internal/models"
	"github.com/docvivid/backend/internal/scheduler"
)

// Scheduler is the subset of the task scheduler the video endpoints use.
type Scheduler interface {
	Submit(ctx context.Context, userID uuid.UUID, req scheduler.SubmitRequest) (*models.Task, error)
	GetTask(ctx context.Context, userID, taskID uuid.UUID) (*models.Task, error)
	ListTasks(ctx context.Context, userID uuid.UUID, status string, page, pageSize int) (*scheduler.TaskPage, error)
	Cancel(ctx context.Context, userID, taskID uuid.UUID) error
}

// SubmissionValidator checks the raw submission body before decoding.
type SubmissionValidator interface {
	ValidateSubmission(body []byte) error
}

// VideoHandler serves /api/v1/videos endpoints.
type VideoHandler struct {
	Scheduler Scheduler
	Validator SubmissionValidator
	Logger    *slog.Logger
}

// --- POST /api/v1/videos ---

type submitResponse struct {
	TaskID          string `json:"task_id"`
	Status          string `json:"status"`
	ReservedCredits int    `json:"reserved_credits"`
}

// Submit handles POST /api/v1/videos.
// Auth -> Validate Body -> Admission (slot + hold) -> Enqueue -> 202.
func (h *VideoHandler) Submit(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	if err := h.Validator.ValidateSubmission(body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	var req scheduler.SubmitRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	task, err := h.Scheduler.Submit(r.Context(), user.ID, req)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientCredit):
			http.Error(w, `{"error":"insufficient credits"}`, http.StatusPaymentRequired)
		case errors.Is(err, scheduler.ErrConcurrencyLimitExceeded):
			http.Error(w, `{"error":"too many tasks in flight for your plan"}`, http.StatusTooManyRequests)
		case errors.Is(err, scheduler.ErrNoInput), errors.Is(err, scheduler.ErrUnsupportedLanguage):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			h.Logger.Error("submit task", "user_id", user.ID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		TaskID:          task.ID.String(),
		Status:          task.Status,
		ReservedCredits: task.ReservedCredits,
	})
}

// --- GET /api/v1/videos/{id} ---

type taskResponse struct {
	*models.Task
	DisplayName string `json:"display_name"`
}

// Get handles GET /api/v1/videos/{id}.
func (h *VideoHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := extractVideoID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	task, err := h.Scheduler.GetTask(r.Context(), user.ID, taskID)
	if err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get task", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: task, DisplayName: task.DisplayName()})
}

// --- GET /api/v1/videos ---

type listResponse struct {
	Tasks    []taskResponse `json:"tasks"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// List handles GET /api/v1/videos?status=&page=&page_size=.
func (h *VideoHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	result, err := h.Scheduler.ListTasks(r.Context(), user.ID, q.Get("status"), page, pageSize)
	if err != nil {
		if errors.Is(err, scheduler.ErrInvalidStatusFilter) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.Logger.Error("list tasks", "user_id", user.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	resp := listResponse{
		Tasks:    make([]taskResponse, 0, len(result.Tasks)),
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	}
	for _, t := range result.Tasks {
		resp.Tasks = append(resp.Tasks, taskResponse{Task: t, DisplayName: t.DisplayName()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- POST /api/v1/videos/{id}/cancel ---

// Cancel handles POST /api/v1/videos/{id}/cancel.
func (h *VideoHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := extractVideoID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	if err := h.Scheduler.Cancel(r.Context(), user.ID, taskID); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrNotFound):
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
		case errors.Is(err, scheduler.ErrAlreadyTerminal):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "task already finished"})
		default:
			h.Logger.Error("cancel task", "task_id", taskID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID.String(), "status": models.TaskStatusCancelled})
}

// --- helpers ---

// extractVideoID parses the task UUID from the URL path.
// Supports paths like /api/v1/videos/{id} and /api/v1/videos/{id}/cancel.
func extractVideoID(r *http.Request) (uuid.UUID, bool) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/videos/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
