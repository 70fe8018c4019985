// Package progress is the Redis-backed side channel for task events: a
// cancel flag workers poll, and a pub/sub stream of progress updates. Redis
// here is advisory only; the task rows in Postgres remain the source of
// truth, so a missed event is never a correctness problem.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cancel flags expire on their own so abandoned tasks do not leak keys.
const cancelFlagTTL = 24 * time.Hour

const progressChannel = "task_progress"

// Bus publishes and observes task events through one Redis client.
type Bus struct {
	rdb *redis.Client
}

func NewBus(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

func cancelKey(taskID uuid.UUID) string {
	return fmt.Sprintf("task:%s:cancel", taskID)
}

// SignalCancel raises the cancel flag for a task.
func (b *Bus) SignalCancel(ctx context.Context, taskID uuid.UUID) error {
	return b.rdb.Set(ctx, cancelKey(taskID), "1", cancelFlagTTL).Err()
}

// IsCancelled reports whether the cancel flag is set for a task.
func (b *Bus) IsCancelled(ctx context.Context, taskID uuid.UUID) (bool, error) {
	n, err := b.rdb.Exists(ctx, cancelKey(taskID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Event is one progress update on the pub/sub channel.
type Event struct {
	TaskID   uuid.UUID `json:"task_id"`
	Progress int       `json:"progress"`
}

// PublishProgress broadcasts a progress update to any listeners.
func (b *Bus) PublishProgress(ctx context.Context, taskID uuid.UUID, progress int) error {
	payload, err := json.Marshal(Event{TaskID: taskID, Progress: progress})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, progressChannel, payload).Err()
}

// Subscribe returns a channel of progress events. The channel closes when
// ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := b.rdb.Subscribe(ctx, progressChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
