package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/docvivid/backend/internal/execution"
	"github.com/docvivid/backend/internal/ledger"
	"github.com/docvivid/backend/internal/models"
	"github.com/docvivid/backend/internal/plans"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// --- TxBeginner mock ---

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// --- TaskStore mock ---

type mockTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.Task
}

func newMockTasks(tasks ...*models.Task) *mockTasks {
	m := &mockTasks{tasks: make(map[uuid.UUID]*models.Task)}
	for _, t := range tasks {
		cp := *t
		m.tasks[t.ID] = &cp
	}
	return m
}

func (m *mockTasks) CreateTx(_ context.Context, _ pgx.Tx, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockTasks) GetByID(_ context.Context, id uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (m *mockTasks) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return m.GetByID(ctx, id)
}

func (m *mockTasks) CountActiveTx(_ context.Context, _ pgx.Tx, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.UserID == userID &&
			(t.Status == models.TaskStatusPending || t.Status == models.TaskStatusProcessing) {
			n++
		}
	}
	return n, nil
}

func (m *mockTasks) Transition(_ context.Context, _ pgx.Tx, id uuid.UUID, newStatus, outputRef, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || models.IsTerminalStatus(t.Status) {
		return false, nil
	}
	t.Status = newStatus
	if newStatus == models.TaskStatusCompleted {
		t.Progress = 100
	}
	if outputRef != "" {
		t.OutputVideoRef = outputRef
	}
	if errMsg != "" {
		t.ErrorMessage = errMsg
	}
	return true, nil
}

func (m *mockTasks) UpdateProgress(_ context.Context, id uuid.UUID, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if t.Status == models.TaskStatusProcessing && progress > t.Progress {
		t.Progress = progress
	}
	return nil
}

func (m *mockTasks) ListByUserID(_ context.Context, userID uuid.UUID, status string, limit, offset int) ([]*models.Task, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.Task
	for _, t := range m.tasks {
		if t.UserID != userID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		cp := *t
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *mockTasks) ListByStatus(_ context.Context, status string) ([]*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Task
	for _, t := range m.tasks {
		if t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockTasks) ListTerminalWithHeldReservation(_ context.Context) ([]*models.Task, error) {
	return nil, nil
}

func (m *mockTasks) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id].Status
}

// --- UserLocker mock ---

type mockUsers struct{}

func (mockUsers) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.User, error) {
	return &models.User{ID: id}, nil
}

// --- PlanSource mock ---

type mockPlans struct {
	plan plans.Plan
}

func (m mockPlans) GetPlan(context.Context, uuid.UUID) (plans.Plan, error) {
	return m.plan, nil
}

// --- Pricer mock ---

type fixedPricer struct {
	cost int
}

func (p fixedPricer) EstimateCost(*models.Task) int { return p.cost }

// --- CreditLedger mock ---

type mockLedger struct {
	mu           sync.Mutex
	available    int
	reservations map[uuid.UUID]*models.Reservation
	consumed     []uuid.UUID
	released     []uuid.UUID
}

func newMockLedger(available int) *mockLedger {
	return &mockLedger{available: available, reservations: make(map[uuid.UUID]*models.Reservation)}
}

func (m *mockLedger) Reserve(_ context.Context, _ pgx.Tx, userID, taskID uuid.UUID, amount int) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount > m.available {
		return nil, ledger.ErrInsufficientCredit
	}
	m.available -= amount
	res := &models.Reservation{ID: uuid.New(), UserID: userID, TaskID: taskID, Amount: amount, Status: models.ReservationHeld}
	m.reservations[res.ID] = res
	return res, nil
}

func (m *mockLedger) SettleConsume(_ context.Context, _ pgx.Tx, reservationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok || res.Status != models.ReservationHeld {
		return nil
	}
	res.Status = models.ReservationConsumed
	m.consumed = append(m.consumed, reservationID)
	return nil
}

func (m *mockLedger) SettleRelease(_ context.Context, _ pgx.Tx, reservationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok || res.Status != models.ReservationHeld {
		return nil
	}
	res.Status = models.ReservationReleased
	m.available += res.Amount
	m.released = append(m.released, reservationID)
	return nil
}

// --- EventBus mock ---

type mockBus struct {
	mu        sync.Mutex
	cancelled []uuid.UUID
	progress  []int
}

func (m *mockBus) PublishProgress(_ context.Context, _ uuid.UUID, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, progress)
	return nil
}

func (m *mockBus) SignalCancel(_ context.Context, taskID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, taskID)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fixture struct {
	svc      *Service
	tasks    *mockTasks
	ledger   *mockLedger
	bus      *mockBus
	enqueued []execution.GenerateVideoArgs
}

func newFixture(plan plans.Plan, available, cost int, existing ...*models.Task) *fixture {
	f := &fixture{
		tasks:  newMockTasks(existing...),
		ledger: newMockLedger(available),
		bus:    &mockBus{},
	}
	insert := func(_ context.Context, _ pgx.Tx, args execution.GenerateVideoArgs) error {
		f.enqueued = append(f.enqueued, args)
		return nil
	}
	f.svc = NewService(
		mockPool{}, f.tasks, mockUsers{}, mockPlans{plan: plan},
		fixedPricer{cost: cost}, f.ledger, f.bus, insert,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return f
}

func pendingTask(userID uuid.UUID, resID uuid.UUID) *models.Task {
	return &models.Task{
		ID:              uuid.New(),
		UserID:          userID,
		InputType:       models.InputTypeText,
		SourceText:      "hello",
		Status:          models.TaskStatusPending,
		ReservedCredits: 30,
		ReservationID:   resID,
	}
}

// ---------------------------------------------------------------------------
// Submit
// ---------------------------------------------------------------------------

func TestSubmit(t *testing.T) {
	userID := uuid.New()
	f := newFixture(plans.ByTier(plans.TierBasic), 100, 35)

	task, err := f.svc.Submit(context.Background(), userID, SubmitRequest{SourceText: "a short script"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("status = %q, want pending", task.Status)
	}
	if task.InputType != models.InputTypeText {
		t.Errorf("input type = %q, want text", task.InputType)
	}
	if task.ReservedCredits != 35 {
		t.Errorf("reserved credits = %d, want 35", task.ReservedCredits)
	}
	if task.ReservationID == uuid.Nil {
		t.Error("reservation id not set")
	}
	if task.TargetLanguage != "en" || task.VoiceType != models.DefaultVoiceType {
		t.Errorf("defaults not applied: lang=%q voice=%q", task.TargetLanguage, task.VoiceType)
	}
	if len(f.enqueued) != 1 || f.enqueued[0].TaskID != task.ID {
		t.Errorf("enqueued jobs = %+v, want one for %s", f.enqueued, task.ID)
	}
}

func TestSubmitInputPriority(t *testing.T) {
	userID := uuid.New()

	cases := []struct {
		name string
		req  SubmitRequest
		want string
	}{
		{"file wins over url and text", SubmitRequest{SourceText: "t", SourceURL: "http://x", InputFileRef: "files/a.pdf"}, models.InputTypeFile},
		{"url wins over text", SubmitRequest{SourceText: "t", SourceURL: "http://x"}, models.InputTypeURL},
		{"text alone", SubmitRequest{SourceText: "t"}, models.InputTypeText},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(plans.ByTier(plans.TierBasic), 100, 30)
			task, err := f.svc.Submit(context.Background(), userID, tc.req)
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if task.InputType != tc.want {
				t.Errorf("input type = %q, want %q", task.InputType, tc.want)
			}
		})
	}

	f := newFixture(plans.ByTier(plans.TierBasic), 100, 30)
	if _, err := f.svc.Submit(context.Background(), userID, SubmitRequest{}); !errors.Is(err, ErrNoInput) {
		t.Errorf("empty submission: got %v, want ErrNoInput", err)
	}
	if _, err := f.svc.Submit(context.Background(), userID, SubmitRequest{SourceText: "t", TargetLanguage: "xx"}); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Errorf("bad language: got %v, want ErrUnsupportedLanguage", err)
	}
}

func TestSubmitInsufficientCredit(t *testing.T) {
	userID := uuid.New()
	f := newFixture(plans.ByTier(plans.TierBasic), 20, 30)

	_, err := f.svc.Submit(context.Background(), userID, SubmitRequest{SourceText: "t"})
	if !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("got %v, want ErrInsufficientCredit", err)
	}
	if len(f.enqueued) != 0 {
		t.Error("rejected submission must not enqueue a job")
	}
	if n, _ := f.tasks.CountActiveTx(context.Background(), nil, userID); n != 0 {
		t.Error("rejected submission must not create a task")
	}
}

func TestSubmitConcurrencyLimit(t *testing.T) {
	userID := uuid.New()
	plan := plans.ByTier(plans.TierFree) // limit 1

	existing := pendingTask(userID, uuid.New())
	f := newFixture(plan, 1000, 30, existing)

	_, err := f.svc.Submit(context.Background(), userID, SubmitRequest{SourceText: "t"})
	if !errors.Is(err, ErrConcurrencyLimitExceeded) {
		t.Fatalf("got %v, want ErrConcurrencyLimitExceeded", err)
	}

	// Cancelling the in-flight task frees the slot immediately.
	if err := f.svc.Cancel(context.Background(), userID, existing.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := f.svc.Submit(context.Background(), userID, SubmitRequest{SourceText: "t"}); err != nil {
		t.Errorf("submit after cancel: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Cancel
// ---------------------------------------------------------------------------

func TestCancel(t *testing.T) {
	userID := uuid.New()
	f := newFixture(plans.ByTier(plans.TierBasic), 100, 30)

	task, err := f.svc.Submit(context.Background(), userID, SubmitRequest{SourceText: "t"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := f.svc.Cancel(context.Background(), userID, task.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := f.tasks.status(task.ID); got != models.TaskStatusCancelled {
		t.Errorf("status = %q, want cancelled", got)
	}
	if len(f.ledger.released) != 1 {
		t.Errorf("released holds = %d, want 1", len(f.ledger.released))
	}
	if len(f.bus.cancelled) != 1 || f.bus.cancelled[0] != task.ID {
		t.Errorf("cancel signals = %v, want one for %s", f.bus.cancelled, task.ID)
	}

	// Second cancel hits the terminal guard.
	if err := f.svc.Cancel(context.Background(), userID, task.ID); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("second cancel: got %v, want ErrAlreadyTerminal", err)
	}

	// Someone else's task reads as not found.
	if err := f.svc.Cancel(context.Background(), uuid.New(), task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign cancel: got %v, want ErrNotFound", err)
	}
	if err := f.svc.Cancel(context.Background(), userID, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing cancel: got %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Worker callbacks
// ---------------------------------------------------------------------------

func TestStartProcessing(t *testing.T) {
	userID := uuid.New()
	f := newFixture(plans.ByTier(plans.TierBasic), 100, 30)
	task, err := f.svc.Submit(context.Background(), userID, SubmitRequest{SourceText: "t"})
	if err != nil {
		t.Fatal(err)
	}

	claimed, err := f.svc.StartProcessing(context.Background(), task.ID)
	if err != nil || !claimed {
		t.Fatalf("StartProcessing: claimed=%v err=%v", claimed, err)
	}
	if got := f.tasks.status(task.ID); got != models.TaskStatusProcessing {
		t.Errorf("status = %q, want processing", got)
	}

	// A redelivered job finds the task no longer pending and is dropped.
	claimed, err = f.svc.StartProcessing(context.Background(), task.ID)
	if err != nil || claimed {
		t.Errorf("redelivery: claimed=%v err=%v, want false,nil", claimed, err)
	}

	// Unknown task is dropped, not an error.
	claimed, err = f.svc.StartProcessing(context.Background(), uuid.New())
	if err != nil || claimed {
		t.Errorf("unknown task: claimed=%v err=%v, want false,nil", claimed, err)
	}
}

func TestMarkCompletedConsumesHold(t *testing.T) {
	userID := uuid.New()
	f := newFixture(plans.ByTier(plans.TierBasic), 100, 30)
	task, _ := f.svc.Submit(context.Background(), userID, SubmitRequest{SourceText: "t"})
	if _, err := f.svc.StartProcessing(context.Background(), task.ID); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.MarkCompleted(context.Background(), task.ID, "videos/out.mp4"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if got := f.tasks.status(task.ID); got != models.TaskStatusCompleted {
		t.Errorf("status = %q, want completed", got)
	}
	if len(f.ledger.consumed) != 1 {
		t.Errorf("consumed holds = %d, want 1", len(f.ledger.consumed))
	}

	got, err := f.svc.GetTask(context.Background(), userID, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.OutputVideoRef != "videos/out.mp4" {
		t.Errorf("output ref = %q", got.OutputVideoRef)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
}

func TestMarkFailedReleasesHold(t *testing.T) {
	userID := uuid.New()
	f := newFixture(plans.ByTier(plans.TierBasic), 100, 30)
	task, _ := f.svc.Submit(context.Background(), userID, SubmitRequest{SourceText: "t"})
	if _, err := f.svc.StartProcessing(context.Background(), task.ID); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.MarkFailed(context.Background(), task.ID, "render service: boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if got := f.tasks.status(task.ID); got != models.TaskStatusFailed {
		t.Errorf("status = %q, want failed", got)
	}
	if len(f.ledger.released) != 1 {
		t.Errorf("released holds = %d, want 1", len(f.ledger.released))
	}
	if f.ledger.available != 100 {
		t.Errorf("available after release = %d, want 100", f.ledger.available)
	}
}

func TestCompletionAfterCancelIsDropped(t *testing.T) {
	userID := uuid.New()
	f := newFixture(plans.ByTier(plans.TierBasic), 100, 30)
	task, _ := f.svc.Submit(context.Background(), userID, SubmitRequest{SourceText: "t"})
	if _, err := f.svc.StartProcessing(context.Background(), task.ID); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Cancel(context.Background(), userID, task.ID); err != nil {
		t.Fatal(err)
	}
	// The worker finishes anyway; the late completion must not flip the
	// status or double-settle the hold.
	if err := f.svc.MarkCompleted(context.Background(), task.ID, "videos/out.mp4"); err != nil {
		t.Fatalf("late MarkCompleted: %v", err)
	}
	if got := f.tasks.status(task.ID); got != models.TaskStatusCancelled {
		t.Errorf("status = %q, want cancelled", got)
	}
	if len(f.ledger.consumed) != 0 {
		t.Errorf("consumed holds = %d, want 0", len(f.ledger.consumed))
	}
	if len(f.ledger.released) != 1 {
		t.Errorf("released holds = %d, want 1", len(f.ledger.released))
	}
}

func TestOnProgressPublishes(t *testing.T) {
	userID := uuid.New()
	f := newFixture(plans.ByTier(plans.TierBasic), 100, 30)
	task, _ := f.svc.Submit(context.Background(), userID, SubmitRequest{SourceText: "t"})
	if _, err := f.svc.StartProcessing(context.Background(), task.ID); err != nil {
		t.Fatal(err)
	}

	for _, p := range []int{10, 40, 25, 70} {
		if err := f.svc.OnProgress(context.Background(), task.ID, p); err != nil {
			t.Fatalf("OnProgress(%d): %v", p, err)
		}
	}
	got, _ := f.svc.GetTask(context.Background(), userID, task.ID)
	if got.Progress != 70 {
		t.Errorf("progress = %d, want 70 (monotonic)", got.Progress)
	}
	if len(f.bus.progress) != 4 {
		t.Errorf("published events = %d, want 4", len(f.bus.progress))
	}
}

// ---------------------------------------------------------------------------
// Listing
// ---------------------------------------------------------------------------

func TestListTasksPagination(t *testing.T) {
	userID := uuid.New()
	f := newFixture(plans.ByTier(plans.TierPro), 100000, 30)
	for i := 0; i < 4; i++ {
		if _, err := f.svc.Submit(context.Background(), userID, SubmitRequest{SourceText: "t"}); err != nil {
			t.Fatal(err)
		}
		// Keep slots free for the next submission.
		tasks, _ := f.tasks.ListByStatus(context.Background(), models.TaskStatusPending)
		for _, task := range tasks {
			if _, err := f.svc.StartProcessing(context.Background(), task.ID); err != nil {
				t.Fatal(err)
			}
			if err := f.svc.MarkFailed(context.Background(), task.ID, "x"); err != nil {
				t.Fatal(err)
			}
		}
	}

	page, err := f.svc.ListTasks(context.Background(), userID, "", 1, 3)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if page.Total != 4 || len(page.Tasks) != 3 {
		t.Errorf("page 1: total=%d len=%d, want 4/3", page.Total, len(page.Tasks))
	}
	page, err = f.svc.ListTasks(context.Background(), userID, "", 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Tasks) != 1 {
		t.Errorf("page 2: len=%d, want 1", len(page.Tasks))
	}

	// Out-of-range bounds are clamped, not rejected.
	page, err = f.svc.ListTasks(context.Background(), userID, "", -5, 100000)
	if err != nil {
		t.Fatal(err)
	}
	if page.Page != 1 || page.PageSize != maxPageSize {
		t.Errorf("clamped page=%d size=%d", page.Page, page.PageSize)
	}

	// Status filter validation.
	if _, err := f.svc.ListTasks(context.Background(), userID, "bogus", 1, 10); !errors.Is(err, ErrInvalidStatusFilter) {
		t.Errorf("bogus status filter err = %v, want ErrInvalidStatusFilter", err)
	}
	page, err = f.svc.ListTasks(context.Background(), userID, models.TaskStatusFailed, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 4 {
		t.Errorf("failed filter total = %d, want 4", page.Total)
	}
}

// ---------------------------------------------------------------------------
// Recovery
// ---------------------------------------------------------------------------

func TestRecoverInFlight(t *testing.T) {
	userID := uuid.New()
	f := newFixture(plans.ByTier(plans.TierPro), 1000, 30)

	stuck, err := f.svc.Submit(context.Background(), userID, SubmitRequest{SourceText: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartProcessing(context.Background(), stuck.ID); err != nil {
		t.Fatal(err)
	}
	pending, err := f.svc.Submit(context.Background(), userID, SubmitRequest{SourceText: "t"})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.svc.RecoverInFlight(context.Background()); err != nil {
		t.Fatalf("RecoverInFlight: %v", err)
	}

	// The stuck processing task fails and its hold is released.
	if got := f.tasks.status(stuck.ID); got != models.TaskStatusFailed {
		t.Errorf("stuck task status = %q, want failed", got)
	}
	if len(f.ledger.released) != 1 {
		t.Errorf("released holds = %d, want 1", len(f.ledger.released))
	}

	// Pending tasks are untouched: their queue jobs are durable.
	if got := f.tasks.status(pending.ID); got != models.TaskStatusPending {
		t.Errorf("pending task status = %q, want pending", got)
	}
}
