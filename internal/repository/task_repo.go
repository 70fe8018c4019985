package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docvivid/backend/internal/models"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, user_id, input_type, source_text, source_url, input_file_ref,
	target_language, voice_type, status, progress, output_video_ref, error_message,
	reserved_credits, reservation_id, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.UserID, &t.InputType, &t.SourceText, &t.SourceURL, &t.InputFileRef,
		&t.TargetLanguage, &t.VoiceType, &t.Status, &t.Progress, &t.OutputVideoRef, &t.ErrorMessage,
		&t.ReservedCredits, &t.ReservationID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTx inserts the task inside the admission transaction.
func (r *TaskRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	return tx.QueryRow(ctx, `
		INSERT INTO tasks (id, user_id, input_type, source_text, source_url, input_file_ref,
			target_language, voice_type, status, progress, reserved_credits, reservation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.InputType, t.SourceText, t.SourceURL, t.InputFileRef,
		t.TargetLanguage, t.VoiceType, t.Status, t.Progress, t.ReservedCredits, t.ReservationID).
		Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// GetByIDForUpdate locks the task row so concurrent transitions serialize.
func (r *TaskRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
}

// CountActiveTx counts the owner's tasks in pending or processing, inside the
// admission transaction (the user row is already locked, so two concurrent
// submissions cannot both pass the limit check).
func (r *TaskRepo) CountActiveTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT count(*) FROM tasks
		WHERE user_id = $1 AND status IN ('pending', 'processing')
	`, userID).Scan(&n)
	return n, err
}

// Transition moves the task to newStatus and records output/error. It is a
// no-op returning false when the task is already terminal, which makes
// duplicate completion callbacks from the worker pool safe.
func (r *TaskRepo) Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStatus, outputRef, errMsg string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks
		SET status = $2, output_video_ref = $3, error_message = $4,
		    progress = CASE WHEN $2 = 'completed' THEN 100 ELSE progress END,
		    updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`, id, newStatus, outputRef, errMsg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateProgress raises progress while the task is processing. Progress is
// monotonic: a late or reordered callback can never lower it, and it never
// touches status.
func (r *TaskRepo) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET progress = GREATEST(progress, $2), updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, progress)
	return err
}

// ListByUserID returns a page of the owner's tasks, optionally filtered by
// status, newest first, plus the unpaged total for the pagination envelope.
func (r *TaskRepo) ListByUserID(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]*models.Task, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM tasks WHERE user_id = $1 AND ($2 = '' OR status = $2)
	`, userID, status).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, userID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, t)
	}
	return list, total, rows.Err()
}

// ListByStatus returns all tasks in the given status. Used by startup
// recovery to find work orphaned by a crash.
func (r *TaskRepo) ListByStatus(ctx context.Context, status string) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = $1`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// ListTerminalWithHeldReservation finds tasks that reached a terminal state
// but whose reservation was never settled (crash between transition and
// settlement). Recovery retries settlement for these.
func (r *TaskRepo) ListTerminalWithHeldReservation(ctx context.Context) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumnsPrefixed("t")+` FROM tasks t
		JOIN credit_reservations cr ON cr.id = t.reservation_id
		WHERE t.status IN ('completed', 'failed', 'cancelled') AND cr.status = 'held'
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func taskColumnsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.user_id, ` + alias + `.input_type, ` + alias + `.source_text, ` +
		alias + `.source_url, ` + alias + `.input_file_ref, ` + alias + `.target_language, ` +
		alias + `.voice_type, ` + alias + `.status, ` + alias + `.progress, ` + alias + `.output_video_ref, ` +
		alias + `.error_message, ` + alias + `.reserved_credits, ` + alias + `.reservation_id, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}
