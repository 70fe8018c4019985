package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/docvivid/backend/internal/ledger"
	"github.com/docvivid/backend/internal/middleware"
	"github.com/docvivid/backend/internal/models"
	"github.com/docvivid/backend/internal/scheduler"
	"github.com/docvivid/backend/internal/validation"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubScheduler struct {
	task      *models.Task
	page      *scheduler.TaskPage
	submitErr error
	getErr    error
	listErr   error
	cancelErr error
}

func (s *stubScheduler) Submit(_ context.Context, userID uuid.UUID, _ scheduler.SubmitRequest) (*models.Task, error) {
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return s.task, nil
}

func (s *stubScheduler) GetTask(context.Context, uuid.UUID, uuid.UUID) (*models.Task, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.task, nil
}

func (s *stubScheduler) ListTasks(context.Context, uuid.UUID, string, int, int) (*scheduler.TaskPage, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.page, nil
}

func (s *stubScheduler) Cancel(context.Context, uuid.UUID, uuid.UUID) error {
	return s.cancelErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newVideoHandler(s *stubScheduler) *VideoHandler {
	v, err := validation.NewValidator()
	if err != nil {
		panic(err)
	}
	return &VideoHandler{Scheduler: s, Validator: v, Logger: testLogger()}
}

func authed(r *http.Request, userID uuid.UUID) *http.Request {
	return r.WithContext(middleware.WithUser(r.Context(), &models.User{ID: userID}))
}

// ---------------------------------------------------------------------------
// Submit
// ---------------------------------------------------------------------------

func TestSubmitVideo(t *testing.T) {
	userID := uuid.New()
	task := &models.Task{ID: uuid.New(), Status: models.TaskStatusPending, ReservedCredits: 35}
	h := newVideoHandler(&stubScheduler{task: task})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", strings.NewReader(`{"text":"hello"}`))
	rec := httptest.NewRecorder()
	h.Submit(rec, authed(req, userID))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body=%s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TaskID != task.ID.String() || resp.Status != models.TaskStatusPending || resp.ReservedCredits != 35 {
		t.Errorf("response = %+v", resp)
	}
}

func TestSubmitVideoErrors(t *testing.T) {
	userID := uuid.New()
	cases := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
	}{
		{"insufficient credit", `{"text":"hello"}`, ledger.ErrInsufficientCredit, http.StatusPaymentRequired},
		{"concurrency limit", `{"text":"hello"}`, scheduler.ErrConcurrencyLimitExceeded, http.StatusTooManyRequests},
		{"bad language", `{"text":"hello"}`, scheduler.ErrUnsupportedLanguage, http.StatusBadRequest},
		{"empty body fails schema", `{}`, nil, http.StatusUnprocessableEntity},
		{"wrong type fails schema", `{"text": 1}`, nil, http.StatusUnprocessableEntity},
		{"not json", `nope`, nil, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newVideoHandler(&stubScheduler{submitErr: tc.submitErr})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Submit(rec, authed(req, userID))
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d; body=%s", rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestSubmitVideoUnauthenticated(t *testing.T) {
	h := newVideoHandler(&stubScheduler{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", strings.NewReader(`{"text":"hello"}`))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Get / List / Cancel
// ---------------------------------------------------------------------------

func TestGetVideo(t *testing.T) {
	userID := uuid.New()
	task := &models.Task{ID: uuid.New(), UserID: userID, SourceText: "a script", Status: models.TaskStatusCompleted}
	h := newVideoHandler(&stubScheduler{task: task})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+task.ID.String(), nil)
	rec := httptest.NewRecorder()
	h.Get(rec, authed(req, userID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["display_name"] != "a script" {
		t.Errorf("display_name = %v", resp["display_name"])
	}

	// Not found (also covers someone else's task).
	h = newVideoHandler(&stubScheduler{getErr: scheduler.ErrNotFound})
	req = httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+uuid.NewString(), nil)
	rec = httptest.NewRecorder()
	h.Get(rec, authed(req, userID))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	// Malformed id.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/videos/not-a-uuid", nil)
	rec = httptest.NewRecorder()
	h.Get(rec, authed(req, userID))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListVideos(t *testing.T) {
	userID := uuid.New()
	page := &scheduler.TaskPage{
		Tasks:    []*models.Task{{ID: uuid.New(), SourceText: "one"}, {ID: uuid.New(), SourceText: "two"}},
		Total:    7,
		Page:     2,
		PageSize: 2,
	}
	h := newVideoHandler(&stubScheduler{page: page})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos?page=2&page_size=2", nil)
	rec := httptest.NewRecorder()
	h.List(rec, authed(req, userID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 7 || len(resp.Tasks) != 2 || resp.Page != 2 {
		t.Errorf("response = %+v", resp)
	}
}

func TestListVideosInvalidStatusFilter(t *testing.T) {
	userID := uuid.New()
	h := newVideoHandler(&stubScheduler{
		listErr: fmt.Errorf("%w %q", scheduler.ErrInvalidStatusFilter, "bogus"),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos?status=bogus", nil)
	rec := httptest.NewRecorder()
	h.List(rec, authed(req, userID))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCancelVideo(t *testing.T) {
	userID := uuid.New()
	taskID := uuid.New()

	h := newVideoHandler(&stubScheduler{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/"+taskID.String()+"/cancel", nil)
	rec := httptest.NewRecorder()
	h.Cancel(rec, authed(req, userID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	h = newVideoHandler(&stubScheduler{cancelErr: scheduler.ErrAlreadyTerminal})
	rec = httptest.NewRecorder()
	h.Cancel(rec, authed(httptest.NewRequest(http.MethodPost, "/api/v1/videos/"+taskID.String()+"/cancel", nil), userID))
	if rec.Code != http.StatusConflict {
		t.Errorf("terminal cancel: status = %d, want 409", rec.Code)
	}

	h = newVideoHandler(&stubScheduler{cancelErr: scheduler.ErrNotFound})
	rec = httptest.NewRecorder()
	h.Cancel(rec, authed(httptest.NewRequest(http.MethodPost, "/api/v1/videos/"+taskID.String()+"/cancel", nil), userID))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing cancel: status = %d, want 404", rec.Code)
	}
}
