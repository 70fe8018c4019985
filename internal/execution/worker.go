package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/docvivid/backend/internal/models"
)

// GenerateVideoArgs is the durable job payload. Only the task ID crosses the
// queue; everything else is read fresh from the task row at work time.
type GenerateVideoArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (GenerateVideoArgs) Kind() string { return "generate_video" }

// TaskService is the contract the worker needs to claim a task and report
// its outcome.
type TaskService interface {
	LoadTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	StartProcessing(ctx context.Context, taskID uuid.UUID) (bool, error)
	OnProgress(ctx context.Context, taskID uuid.UUID, progress int) error
	MarkCompleted(ctx context.Context, taskID uuid.UUID, outputRef string) error
	MarkFailed(ctx context.Context, taskID uuid.UUID, reason string) error
}

// Pipeline renders a task into a video. report is called with 0-100
// progress; implementations should return ctx.Err() promptly on cancellation.
type Pipeline interface {
	Process(ctx context.Context, task *models.Task, report func(progress int)) (outputRef string, err error)
}

// CancelWatcher answers whether a cancel signal has been raised for a task.
type CancelWatcher interface {
	IsCancelled(ctx context.Context, taskID uuid.UUID) (bool, error)
}

const cancelPollInterval = 2 * time.Second

// GenerateVideoWorker drives one task through the pipeline.
type GenerateVideoWorker struct {
	river.WorkerDefaults[GenerateVideoArgs]
	tasks    TaskService
	pipeline Pipeline
	cancels  CancelWatcher
	logger   *slog.Logger
}

func NewGenerateVideoWorker(tasks TaskService, pipeline Pipeline, cancels CancelWatcher, logger *slog.Logger) *GenerateVideoWorker {
	return &GenerateVideoWorker{tasks: tasks, pipeline: pipeline, cancels: cancels, logger: logger}
}

func (w *GenerateVideoWorker) Work(ctx context.Context, job *river.Job[GenerateVideoArgs]) (err error) {
	taskID := job.Args.TaskID

	claimed, err := w.tasks.StartProcessing(ctx, taskID)
	if err != nil {
		return fmt.Errorf("claim task %s: %w", taskID, err)
	}
	if !claimed {
		// Cancelled, already recovered, or a duplicate delivery. Drop it.
		w.logger.Info("skipping task no longer pending", "task_id", taskID)
		return nil
	}

	task, err := w.tasks.LoadTask(ctx, taskID)
	if err != nil {
		return w.failTask(ctx, taskID, fmt.Sprintf("load task: %v", err))
	}

	// A pipeline panic must settle the task, not kill the worker pool.
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("pipeline panic", "task_id", taskID, "panic", r)
			err = w.failTask(ctx, taskID, fmt.Sprintf("pipeline panic: %v", r))
		}
	}()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go w.watchCancel(runCtx, taskID, stop)

	outputRef, err := w.pipeline.Process(runCtx, task, func(progress int) {
		if perr := w.tasks.OnProgress(runCtx, taskID, progress); perr != nil {
			w.logger.Warn("progress update failed", "task_id", taskID, "error", perr)
		}
	})
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			// Stopped by the cancel signal; the cancel path already
			// settled the task.
			w.logger.Info("task execution stopped by cancel", "task_id", taskID)
			return nil
		}
		if ctx.Err() != nil {
			// Shutdown: leave the task for startup recovery and let the
			// queue record the interruption.
			return ctx.Err()
		}
		return w.failTask(ctx, taskID, err.Error())
	}

	if err := w.tasks.MarkCompleted(ctx, taskID, outputRef); err != nil {
		return fmt.Errorf("mark task %s completed: %w", taskID, err)
	}
	return nil
}

// watchCancel polls the cancel flag and stops the pipeline when it is set.
func (w *GenerateVideoWorker) watchCancel(ctx context.Context, taskID uuid.UUID, stop context.CancelFunc) {
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelled, err := w.cancels.IsCancelled(ctx, taskID)
			if err != nil {
				w.logger.Warn("cancel check failed", "task_id", taskID, "error", err)
				continue
			}
			if cancelled {
				stop()
				return
			}
		}
	}
}

// failTask records the failure on the task. Returning nil keeps the queue
// from retrying a job whose business outcome is already settled; only a
// failure to record the failure is retried.
func (w *GenerateVideoWorker) failTask(ctx context.Context, taskID uuid.UUID, reason string) error {
	if err := w.tasks.MarkFailed(ctx, taskID, reason); err != nil {
		return fmt.Errorf("task failed (%s) and marking it failed also failed: %w", reason, err)
	}
	return nil
}
