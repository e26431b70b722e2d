package scheduler

import (
	"time"

	"github.com/cotrans/gateway/store"
)

// State is the task's execution state.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateError   State = "error"
)

// Result is a task's terminal success payload.
type Result struct {
	TranslationMask string `json:"translation_mask"`
}

// Task is the identity + mutable execution state of one translation job.
// Fields beyond construction are only ever mutated by the Worker Session that
// currently owns the task; the scheduler serializes that ownership so no
// additional locking is needed within Task itself.
type Task struct {
	ID                string
	SourceImageID     string
	Param             Param
	WorkerRevision    int
	SourceImageBytes  []byte

	State           State
	LastAttemptedAt *time.Time
	FailedCount     int
	Result          *Result
}

// DedupKey is the composite dedup identity: (source_image_id, param tuple,
// worker_revision).
type DedupKey struct {
	SourceImageID  string
	TargetLanguage Language
	Detector       Detector
	Direction      Direction
	Translator     Translator
	Size           Size
	WorkerRevision int
}

func (t *Task) DedupKey() DedupKey {
	return DedupKey{
		SourceImageID:  t.SourceImageID,
		TargetLanguage: t.Param.TargetLanguage,
		Detector:       t.Param.Detector,
		Direction:      t.Param.Direction,
		Translator:     t.Param.Translator,
		Size:           t.Param.Size,
		WorkerRevision: t.WorkerRevision,
	}
}

// StoreKey converts to the plain-string key the store package (and the key
// index) deal in.
func (k DedupKey) StoreKey() store.TaskKey {
	return store.TaskKey{
		SourceImageID:  k.SourceImageID,
		TargetLanguage: string(k.TargetLanguage),
		Detector:       string(k.Detector),
		Direction:      string(k.Direction),
		Translator:     string(k.Translator),
		Size:           string(k.Size),
		WorkerRevision: k.WorkerRevision,
	}
}

// Exhausted reports whether the task has hit the retry ceiling given the
// configured max attempts, and must not be enqueued again.
func (t *Task) Exhausted(maxAttempts int) bool {
	return t.FailedCount >= maxAttempts
}
