package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cotrans/gateway/blobstore"
)

// ExecuteBegin persists state=running and last_attempted_at=now, then
// publishes Status("pending") before the NewTask frame is even sent, so a
// subscriber joining at this instant sees the transition immediately.
func (s *Scheduler) ExecuteBegin(ctx context.Context, task *Task, ch *Channel) error {
	if err := s.Store.SetTaskRunning(ctx, task.ID); err != nil {
		return fmt.Errorf("set task running: %w", err)
	}
	now := time.Now()
	task.State = StateRunning
	task.LastAttemptedAt = &now
	ch.Write(Status{Phase: "pending"})
	return nil
}

// ExecuteStatus publishes a worker-reported phase label.
func (s *Scheduler) ExecuteStatus(ch *Channel, phase string) {
	ch.Write(Status{Phase: phase})
}

// ExecuteFinish handles a worker's FinishTask frame: store the mask, mark
// the row Done, publish the terminal Result, and retire the task from the
// Registry. started is the time ExecuteBegin was called, for the duration
// histogram.
func (s *Scheduler) ExecuteFinish(ctx context.Context, task *Task, ch *Channel, maskBytes []byte, started time.Time) error {
	key := blobstore.MaskKey(task.ID)
	if err := s.Blob.Put(ctx, key, maskBytes); err != nil {
		return fmt.Errorf("put mask: %w", err)
	}
	if err := s.Store.SetTaskDone(ctx, task.ID, key); err != nil {
		return fmt.Errorf("set task done: %w", err)
	}
	task.State = StateDone
	task.Result = &Result{TranslationMask: key}
	ch.Write(ProgressResult{MaskKey: key})
	s.removeFromRegistry(task)
	if s.Metrics != nil {
		s.Metrics.TasksFinished.Inc()
		s.Metrics.TaskDuration.Observe(time.Since(started).Seconds())
	}
	return nil
}

// ExecuteFail increments failed_count, persists state=error, then either
// re-queues the task at the front (retry) or retires it permanently.
//
// If the DB update itself fails, the task is NOT re-queued, since we'd
// otherwise lose track of failed_count, and the terminal Error{retry=false}
// is broadcast regardless of how many attempts remain.
func (s *Scheduler) ExecuteFail(ctx context.Context, task *Task, ch *Channel) {
	task.FailedCount++
	task.State = StateError
	dbErr := s.Store.SetTaskFailed(ctx, task.ID, task.FailedCount)

	if dbErr == nil && !task.Exhausted(s.MaxAttempts) {
		ch.Write(ProgressError{RetryWillHappen: true})
		s.Queue.PushFront(task, ch)
		return
	}

	if s.Metrics != nil {
		s.Metrics.TasksErrored.Inc()
	}
	ch.Write(ProgressError{RetryWillHappen: false})
	s.removeFromRegistry(task)
}
