package scheduler

import (
	"context"

	"github.com/cotrans/gateway/store"
)

// Recover runs once at startup before any worker connection is accepted,
// replaying DB rows at the current worker revision back into the Queue and
// Registry. It holds the Queue's dispatch lock throughout (via dispatchMu,
// the same lock UpsertAndDispatch uses) so no concurrent submitter can
// interleave a partially-recovered state.
func (s *Scheduler) Recover(ctx context.Context) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	rows, err := s.Store.ListTasksForRecovery(ctx, s.WorkerRevision)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if row.State == store.TaskDone || row.State == store.TaskError {
			continue
		}
		if row.FailedCount >= s.MaxAttempts {
			continue
		}

		param, err := NewParam(row.TargetLanguage, row.Detector, row.Direction, row.Translator, row.Size)
		if err != nil {
			if s.Log != nil {
				s.Log.WithError(err).WithField("task_id", row.ID).Warn("recovery: invalid param tuple, skipping")
			}
			continue
		}

		sourceBytes, err := s.Source.Load(ctx, row.SourceImageID)
		if err != nil {
			if s.Log != nil {
				s.Log.WithError(err).WithField("task_id", row.ID).Warn("recovery: failed to load source image, marking error")
			}
			_ = s.Store.SetTaskFailed(ctx, row.ID, row.FailedCount)
			continue
		}

		task := rowToTask(row, param)
		task.SourceImageBytes = sourceBytes

		ch := NewChannel(Pending{Position: s.Queue.Len()})
		s.Registry.Insert(task.ID, ch)
		s.keys.insert(task.DedupKey().StoreKey(), task.ID)
		s.Queue.PushBack(task, ch)
	}

	return nil
}
