package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cotrans/gateway/blobstore"
	"github.com/cotrans/gateway/metrics"
	"github.com/cotrans/gateway/store"
)

// SourceLoader fetches raw source image bytes for a source_image_id. The
// actual ingestion pipelines (upload/Twitter/Pixiv) live outside the
// scheduler; this is the narrow contract it needs from them.
type SourceLoader interface {
	Load(ctx context.Context, sourceImageID string) ([]byte, error)
}

// Scheduler bundles the Queue, Registry, and external collaborators needed
// to implement dedup/upsert, worker sessions, and recovery. One Scheduler
// per gateway process; the gateway runs as a single instance.
type Scheduler struct {
	Queue    *Queue
	Registry *Registry

	Store     store.Store
	Blob      blobstore.Store
	Source    SourceLoader
	Metrics   *metrics.Registry
	Log       *logrus.Logger

	WorkerRevision int
	MaxAttempts    int

	keys *keyIndex

	// dispatchMu serializes UpsertAndDispatch's Registry lookup against the
	// DB upsert. The Queue type's own mutex only protects the deque, so the
	// wider dedup critical section gets its own lock here, taken around both
	// the Registry check and the DB upsert.
	dispatchMu sync.Mutex
}

// New constructs a Scheduler. Callers still need to run Recovery (if
// applicable) before accepting worker connections.
func New(st store.Store, blob blobstore.Store, source SourceLoader, m *metrics.Registry, log *logrus.Logger, workerRevision, maxAttempts int) *Scheduler {
	q := NewQueue()
	reg := NewRegistry()
	q.OnLenChange = func(n int) {
		if m != nil {
			m.QueueLength.Set(float64(n))
		}
	}
	return &Scheduler{
		Queue:          q,
		Registry:       reg,
		Store:          st,
		Blob:           blob,
		Source:         source,
		Metrics:        m,
		Log:            log,
		WorkerRevision: workerRevision,
		MaxAttempts:    maxAttempts,
		keys:           newKeyIndex(),
	}
}

// Snapshot is the (task_id, current progress) pair returned by
// UpsertAndDispatch.
type Snapshot struct {
	TaskID string
	Value  ProgressMessage
}

// UpsertAndDispatch deduplicates a submission against live and persisted
// state and either returns the existing task's progress or enqueues a new
// one.
func (s *Scheduler) UpsertAndDispatch(ctx context.Context, sourceImageID string, param Param, retry bool) (Snapshot, error) {
	key := store.TaskKey{
		SourceImageID:  sourceImageID,
		TargetLanguage: string(param.TargetLanguage),
		Detector:       string(param.Detector),
		Direction:      string(param.Direction),
		Translator:     string(param.Translator),
		Size:           string(param.Size),
		WorkerRevision: s.WorkerRevision,
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	// Step 1: a live Registry entry means someone is already tracking this
	// exact task; short-circuit without any DB work.
	if existingID, ok := s.keys.lookup(key); ok {
		if ch, ok := s.Registry.Lookup(existingID); ok {
			val, _, _ := ch.Snapshot()
			return Snapshot{TaskID: existingID, Value: val}, nil
		}
	}

	// Step 2: DB upsert on the composite unique index.
	row, created, err := s.Store.UpsertTask(ctx, key, sourceImageID, retry)
	if err != nil {
		return Snapshot{}, fmt.Errorf("upsert task: %w", err)
	}

	// Step 3: cached terminal result, no retry requested -> return without
	// enqueueing.
	if !retry && row.State == store.TaskDone {
		return Snapshot{
			TaskID: row.ID,
			Value:  ProgressResult{MaskKey: *row.TranslationMask},
		}, nil
	}

	// An Error row that already hit the retry ceiling is not enqueued again
	// unless a retry is requested.
	if !retry && row.State == store.TaskError && row.FailedCount >= s.MaxAttempts {
		return Snapshot{TaskID: row.ID, Value: ProgressError{RetryWillHappen: false}}, nil
	}

	// Step 4: build the Task, load source bytes, enqueue.
	task := rowToTask(row, param)
	if !created {
		// Existing row being retried/reused. The DB upsert resets state and
		// clears the result for retry=true but keeps failed_count, so in both
		// branches the task resumes with the stored count. For retry=false
		// non-Done rows (still Pending/Running/Error-not-yet-exhausted) we
		// resume as-is.
		task.FailedCount = row.FailedCount
	}

	sourceBytes, err := s.Source.Load(ctx, sourceImageID)
	if err != nil {
		_ = s.Store.SetTaskFailed(ctx, row.ID, task.FailedCount)
		return Snapshot{}, fmt.Errorf("load source image: %w", err)
	}
	task.SourceImageBytes = sourceBytes

	initial := Pending{Position: s.Queue.Len()}
	ch := NewChannel(initial)
	s.Registry.Insert(task.ID, ch)
	s.keys.insert(key, task.ID)
	s.Queue.PushBack(task, ch)
	if s.Metrics != nil {
		s.Metrics.TasksDispatched.Inc()
	}

	return Snapshot{TaskID: task.ID, Value: initial}, nil
}

// Requeue moves a still-queued task to the front of the Queue, ahead of its
// FIFO position, and renumbers the remaining Pending positions so followers
// see the shift. Reports whether taskID was found waiting in the Queue; a
// task already popped by a Worker Session (running) or not tracked at all
// is left untouched.
func (s *Scheduler) Requeue(taskID string) bool {
	if !s.Queue.MoveToFront(taskID) {
		return false
	}
	s.Queue.Renumber()
	return true
}

// removeFromRegistry tears down both the Registry entry and the key index
// entry for a task that reached a terminal outcome. Always use this instead
// of calling s.Registry.Remove directly so the two stay consistent.
func (s *Scheduler) removeFromRegistry(task *Task) {
	s.Registry.Remove(task.ID)
	s.keys.remove(task.DedupKey().StoreKey())
}

func rowToTask(row *store.TaskRow, param Param) *Task {
	t := &Task{
		ID:              row.ID,
		SourceImageID:   row.SourceImageID,
		Param:           param,
		WorkerRevision:  row.WorkerRevision,
		State:           State(row.State),
		LastAttemptedAt: row.LastAttemptedAt,
		FailedCount:     row.FailedCount,
	}
	if row.TranslationMask != nil {
		t.Result = &Result{TranslationMask: *row.TranslationMask}
	}
	return t
}
