// Package scheduler admits, tracks, and settles video generation tasks. All
// admission decisions (concurrency slots, credit holds) happen in a single
// transaction with the owner's user row locked, so two concurrent submissions
// from one user cannot both pass the same check.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/docvivid/backend/internal/execution"
	"github.com/docvivid/backend/internal/models"
	"github.com/docvivid/backend/internal/plans"
	"github.com/docvivid/backend/internal/pricing"
)

// ErrConcurrencyLimitExceeded is returned when the user already has as many
// pending or processing tasks as their plan allows.
var ErrConcurrencyLimitExceeded = errors.New("concurrency limit exceeded")

// ErrNotFound is returned for a missing task, or a task owned by someone
// else: the API does not distinguish the two.
var ErrNotFound = errors.New("task not found")

// ErrAlreadyTerminal is returned when cancelling a task that has already
// completed, failed, or been cancelled.
var ErrAlreadyTerminal = errors.New("task already in a terminal state")

// ErrNoInput is returned when a submission carries no text, URL, or file.
var ErrNoInput = errors.New("no input provided")

// ErrUnsupportedLanguage is returned for a target language outside the
// supported set.
var ErrUnsupportedLanguage = errors.New("unsupported target language")

// ErrInvalidStatusFilter signals an unknown status value in a list filter.
var ErrInvalidStatusFilter = errors.New("invalid status filter")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// TaskStore is the task repository interface used by the scheduler.
type TaskStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	CountActiveTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error)
	Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus, outputRef, errMsg string) (bool, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error
	ListByUserID(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]*models.Task, int, error)
	ListByStatus(ctx context.Context, status string) ([]*models.Task, error)
	ListTerminalWithHeldReservation(ctx context.Context) ([]*models.Task, error)
}

// UserLocker locks the owner row, the serialization point for admission.
type UserLocker interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
}

// PlanSource resolves a user's effective plan at submission time.
type PlanSource interface {
	GetPlan(ctx context.Context, userID uuid.UUID) (plans.Plan, error)
}

// CreditLedger is the slice of the ledger service the scheduler drives.
type CreditLedger interface {
	Reserve(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount int) (*models.Reservation, error)
	SettleConsume(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID) error
	SettleRelease(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID) error
}

// EventBus publishes progress updates and cancel signals to workers and
// listeners. Both are best-effort: the database rows are the source of truth.
type EventBus interface {
	PublishProgress(ctx context.Context, taskID uuid.UUID, progress int) error
	SignalCancel(ctx context.Context, taskID uuid.UUID) error
}

// TxBeginner starts a transaction, typically *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// InsertGenerateVideoTxFunc enqueues a GenerateVideo job within the given
// transaction. Provided by main using river.Client.InsertTx.
type InsertGenerateVideoTxFunc func(ctx context.Context, tx pgx.Tx, args execution.GenerateVideoArgs) error

// Service is the task scheduler.
type Service struct {
	db                  TxBeginner
	tasks               TaskStore
	users               UserLocker
	plans               PlanSource
	pricer              pricing.Pricer
	ledger              CreditLedger
	bus                 EventBus
	insertGenerateVideo InsertGenerateVideoTxFunc
	logger              *slog.Logger
}

func NewService(
	db TxBeginner,
	tasks TaskStore,
	users UserLocker,
	planSource PlanSource,
	pricer pricing.Pricer,
	creditLedger CreditLedger,
	bus EventBus,
	insertGenerateVideo InsertGenerateVideoTxFunc,
	logger *slog.Logger,
) *Service {
	return &Service{
		db:                  db,
		tasks:               tasks,
		users:               users,
		plans:               planSource,
		pricer:              pricer,
		ledger:              creditLedger,
		bus:                 bus,
		insertGenerateVideo: insertGenerateVideo,
		logger:              logger,
	}
}

var _ execution.TaskService = (*Service)(nil)

// SubmitRequest carries the raw submission fields. When more than one input
// is present, file wins over URL, URL wins over text.
type SubmitRequest struct {
	SourceText     string `json:"text"`
	SourceURL      string `json:"url"`
	InputFileRef   string `json:"file_ref"`
	TargetLanguage string `json:"target_language"`
	VoiceType      string `json:"voice_type"`
}

// Submit admits a new task: resolves input and plan, checks the concurrency
// slot, places the credit hold, persists the pending task, and enqueues the
// generation job, all in one transaction.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, req SubmitRequest) (*models.Task, error) {
	task, err := buildTask(userID, req)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin submit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.users.GetByIDForUpdate(ctx, tx, userID); err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}

	plan, err := s.plans.GetPlan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan: %w", err)
	}
	active, err := s.tasks.CountActiveTx(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("count active tasks: %w", err)
	}
	if active >= plan.ConcurrencyLimit {
		return nil, ErrConcurrencyLimitExceeded
	}

	cost := s.pricer.EstimateCost(task)
	res, err := s.ledger.Reserve(ctx, tx, userID, task.ID, cost)
	if err != nil {
		return nil, err
	}
	task.ReservedCredits = cost
	task.ReservationID = res.ID

	if err := s.tasks.CreateTx(ctx, tx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := s.insertGenerateVideo(ctx, tx, execution.GenerateVideoArgs{TaskID: task.ID}); err != nil {
		return nil, fmt.Errorf("enqueue generation job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit submit tx: %w", err)
	}

	s.logger.Info("task admitted",
		"task_id", task.ID, "user_id", userID,
		"input_type", task.InputType, "reserved_credits", cost)
	return task, nil
}

func buildTask(userID uuid.UUID, req SubmitRequest) (*models.Task, error) {
	task := &models.Task{
		ID:             uuid.New(),
		UserID:         userID,
		TargetLanguage: strings.TrimSpace(req.TargetLanguage),
		VoiceType:      strings.TrimSpace(req.VoiceType),
		Status:         models.TaskStatusPending,
	}
	switch {
	case strings.TrimSpace(req.InputFileRef) != "":
		task.InputType = models.InputTypeFile
		task.InputFileRef = strings.TrimSpace(req.InputFileRef)
	case strings.TrimSpace(req.SourceURL) != "":
		task.InputType = models.InputTypeURL
		task.SourceURL = strings.TrimSpace(req.SourceURL)
	case strings.TrimSpace(req.SourceText) != "":
		task.InputType = models.InputTypeText
		task.SourceText = req.SourceText
	default:
		return nil, ErrNoInput
	}
	if task.TargetLanguage == "" {
		task.TargetLanguage = "en"
	}
	if _, ok := models.SupportedLanguages[task.TargetLanguage]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, task.TargetLanguage)
	}
	if task.VoiceType == "" {
		task.VoiceType = models.DefaultVoiceType
	}
	return task, nil
}

// LoadTask returns a task by ID without an ownership check; it is the
// worker-side fetch.
func (s *Service) LoadTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

// GetTask returns a task owned by userID.
func (s *Service) GetTask(ctx context.Context, userID, taskID uuid.UUID) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if task.UserID != userID {
		return nil, ErrNotFound
	}
	return task, nil
}

// TaskPage is one page of a user's task list.
type TaskPage struct {
	Tasks    []*models.Task `json:"tasks"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// ListTasks returns the user's tasks, newest first, optionally filtered by
// status. Page numbers start at 1; page size is clamped to 1..100.
func (s *Service) ListTasks(ctx context.Context, userID uuid.UUID, status string, page, pageSize int) (*TaskPage, error) {
	if status != "" && !validStatusFilter(status) {
		return nil, fmt.Errorf("%w %q", ErrInvalidStatusFilter, status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	tasks, total, err := s.tasks.ListByUserID(ctx, userID, status, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	return &TaskPage{Tasks: tasks, Total: total, Page: page, PageSize: pageSize}, nil
}

func validStatusFilter(status string) bool {
	switch status {
	case models.TaskStatusPending, models.TaskStatusProcessing,
		models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled:
		return true
	}
	return false
}

// Cancel moves a pending or processing task to cancelled and releases its
// hold, freeing both the credits and the concurrency slot immediately. The
// running worker is told via the cancel signal; it does not hold the slot.
func (s *Service) Cancel(ctx context.Context, userID, taskID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if task.UserID != userID {
		return ErrNotFound
	}
	if models.IsTerminalStatus(task.Status) {
		return ErrAlreadyTerminal
	}

	if _, err := s.tasks.Transition(ctx, tx, taskID, models.TaskStatusCancelled, "", "cancelled by user"); err != nil {
		return fmt.Errorf("transition to cancelled: %w", err)
	}
	if err := s.ledger.SettleRelease(ctx, tx, task.ReservationID); err != nil {
		return fmt.Errorf("release hold: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cancel tx: %w", err)
	}

	if err := s.bus.SignalCancel(ctx, taskID); err != nil {
		s.logger.Warn("cancel signal not delivered", "task_id", taskID, "error", err)
	}
	s.logger.Info("task cancelled", "task_id", taskID, "user_id", userID)
	return nil
}

// StartProcessing claims a pending task for execution. It returns false when
// the task is no longer pending, which makes the queue's at-least-once
// delivery and post-cancel deliveries safe to drop.
func (s *Service) StartProcessing(ctx context.Context, taskID uuid.UUID) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if task.Status != models.TaskStatusPending {
		return false, nil
	}
	if _, err := s.tasks.Transition(ctx, tx, taskID, models.TaskStatusProcessing, "", ""); err != nil {
		return false, fmt.Errorf("transition to processing: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit claim tx: %w", err)
	}
	return true, nil
}

// OnProgress records a progress update. Regressions are dropped at the
// database (progress only ever moves forward), and updates never change
// status, so a late callback cannot resurrect a terminal task.
func (s *Service) OnProgress(ctx context.Context, taskID uuid.UUID, progress int) error {
	if err := s.tasks.UpdateProgress(ctx, taskID, progress); err != nil {
		return err
	}
	if err := s.bus.PublishProgress(ctx, taskID, progress); err != nil {
		s.logger.Warn("progress publish failed", "task_id", taskID, "error", err)
	}
	return nil
}

// MarkCompleted transitions the task to completed and consumes its hold. If
// the task reached a terminal state first (for example a concurrent cancel),
// the completion is dropped and the hold stays as that settlement left it.
func (s *Service) MarkCompleted(ctx context.Context, taskID uuid.UUID, outputRef string) error {
	return s.settle(ctx, taskID, models.TaskStatusCompleted, outputRef, "")
}

// MarkFailed transitions the task to failed and releases its hold.
func (s *Service) MarkFailed(ctx context.Context, taskID uuid.UUID, reason string) error {
	return s.settle(ctx, taskID, models.TaskStatusFailed, "", reason)
}

func (s *Service) settle(ctx context.Context, taskID uuid.UUID, status, outputRef, errMsg string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin settle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	transitioned, err := s.tasks.Transition(ctx, tx, taskID, status, outputRef, errMsg)
	if err != nil {
		return fmt.Errorf("transition to %s: %w", status, err)
	}
	if transitioned {
		if status == models.TaskStatusCompleted {
			err = s.ledger.SettleConsume(ctx, tx, task.ReservationID)
		} else {
			err = s.ledger.SettleRelease(ctx, tx, task.ReservationID)
		}
		if err != nil {
			return fmt.Errorf("settle reservation: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit settle tx: %w", err)
	}
	if transitioned {
		s.logger.Info("task settled", "task_id", taskID, "status", status)
	}
	return nil
}

// RecoverInFlight repairs state after a restart: tasks stuck in processing
// are failed and their holds released, and terminal tasks whose reservation
// is still held get their settlement retried. Run before the job queue
// starts working.
func (s *Service) RecoverInFlight(ctx context.Context) error {
	stale, err := s.tasks.ListByStatus(ctx, models.TaskStatusProcessing)
	if err != nil {
		return fmt.Errorf("list processing tasks: %w", err)
	}
	for _, task := range stale {
		if err := s.MarkFailed(ctx, task.ID, "interrupted by service restart"); err != nil {
			return fmt.Errorf("recover task %s: %w", task.ID, err)
		}
		s.logger.Warn("stale processing task failed on recovery", "task_id", task.ID)
	}

	unsettled, err := s.tasks.ListTerminalWithHeldReservation(ctx)
	if err != nil {
		return fmt.Errorf("list unsettled tasks: %w", err)
	}
	for _, task := range unsettled {
		if err := s.retrySettlement(ctx, task); err != nil {
			return fmt.Errorf("retry settlement for task %s: %w", task.ID, err)
		}
		s.logger.Warn("retried settlement for terminal task",
			"task_id", task.ID, "status", task.Status)
	}
	if len(stale) > 0 || len(unsettled) > 0 {
		s.logger.Info("startup recovery finished",
			"stale_processing", len(stale), "retried_settlements", len(unsettled))
	}
	return nil
}

func (s *Service) retrySettlement(ctx context.Context, task *models.Task) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if task.Status == models.TaskStatusCompleted {
		err = s.ledger.SettleConsume(ctx, tx, task.ReservationID)
	} else {
		err = s.ledger.SettleRelease(ctx, tx, task.ReservationID)
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}
