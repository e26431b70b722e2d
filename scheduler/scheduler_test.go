package scheduler

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cotrans/gateway/metrics"
)

func newTestScheduler(t *testing.T) (*Scheduler, *fakeStore, *fakeBlob) {
	t.Helper()
	st := newFakeStore()
	blob := newFakeBlob()
	reg := metrics.New(prometheus.NewRegistry())
	sched := New(st, blob, &fakeSource{data: []byte("source-bytes")}, reg, nil, 1, 3)
	return sched, st, blob
}

func mustParam(t *testing.T) Param {
	t.Helper()
	p, err := NewParam("JPN", "default", "default", "none", "M")
	if err != nil {
		t.Fatalf("NewParam: %v", err)
	}
	return p
}

func TestUpsertAndDispatchCreatesNewTask(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()

	snap, err := sched.UpsertAndDispatch(ctx, "src-1", mustParam(t), false)
	if err != nil {
		t.Fatalf("UpsertAndDispatch: %v", err)
	}
	if snap.TaskID == "" {
		t.Fatal("expected a non-empty task id")
	}
	if _, ok := snap.Value.(Pending); !ok {
		t.Errorf("expected Pending value for a freshly dispatched task, got %#v", snap.Value)
	}
	if sched.Queue.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", sched.Queue.Len())
	}
	if sched.Registry.Len() != 1 {
		t.Fatalf("registry length = %d, want 1", sched.Registry.Len())
	}
}

func TestUpsertAndDispatchDedupsAgainstLiveRegistry(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()
	param := mustParam(t)

	first, err := sched.UpsertAndDispatch(ctx, "src-1", param, false)
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	second, err := sched.UpsertAndDispatch(ctx, "src-1", param, false)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}

	if first.TaskID != second.TaskID {
		t.Fatalf("expected dedup to return the same task id, got %s and %s", first.TaskID, second.TaskID)
	}
	// The short-circuit path must not enqueue a second entry.
	if sched.Queue.Len() != 1 {
		t.Fatalf("queue length after dedup = %d, want 1", sched.Queue.Len())
	}
}

func TestUpsertAndDispatchDifferentParamsDoNotDedup(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()

	jpnParam := mustParam(t)
	engParam, err := NewParam("ENG", "default", "default", "none", "M")
	if err != nil {
		t.Fatalf("NewParam: %v", err)
	}

	first, err := sched.UpsertAndDispatch(ctx, "src-1", jpnParam, false)
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	second, err := sched.UpsertAndDispatch(ctx, "src-1", engParam, false)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if first.TaskID == second.TaskID {
		t.Fatal("expected distinct param tuples to produce distinct tasks")
	}
	if sched.Queue.Len() != 2 {
		t.Fatalf("queue length = %d, want 2", sched.Queue.Len())
	}
}

func TestUpsertAndDispatchReturnsCachedDoneResultWithoutRetry(t *testing.T) {
	sched, st, _ := newTestScheduler(t)
	ctx := context.Background()
	param := mustParam(t)

	snap, err := sched.UpsertAndDispatch(ctx, "src-1", param, false)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	// Simulate a worker popping and completing the task and the registry
	// entry being retired, as ExecuteFinish would do.
	sched.Queue.PopFront()
	if err := st.SetTaskDone(ctx, snap.TaskID, "mask/x.png"); err != nil {
		t.Fatalf("SetTaskDone: %v", err)
	}
	sched.Registry.Remove(snap.TaskID)

	again, err := sched.UpsertAndDispatch(ctx, "src-1", param, false)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if again.TaskID != snap.TaskID {
		t.Fatalf("expected the same task id back, got %s", again.TaskID)
	}
	result, ok := again.Value.(ProgressResult)
	if !ok {
		t.Fatalf("expected a ProgressResult for a cached done task, got %#v", again.Value)
	}
	if result.MaskKey != "mask/x.png" {
		t.Errorf("mask key = %q, want mask/x.png", result.MaskKey)
	}
	// A cached hit must not re-enqueue.
	if sched.Queue.Len() != 0 {
		t.Errorf("queue length = %d, want 0 for a cached done result", sched.Queue.Len())
	}
}

func TestExecuteFailRetriesUntilExhausted(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()

	snap, err := sched.UpsertAndDispatch(ctx, "src-1", mustParam(t), false)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	task, ch, ok := sched.Queue.PopFront()
	if !ok || task.ID != snap.TaskID {
		t.Fatalf("expected to pop the just-dispatched task")
	}

	// MaxAttempts is 3 in newTestScheduler; the first two failures should
	// retry (re-queue at the front), the third should be terminal.
	sched.ExecuteFail(ctx, task, ch)
	val, closed, _ := ch.Snapshot()
	if closed {
		t.Fatal("channel should remain open after a retryable failure")
	}
	if e, ok := val.(ProgressError); !ok || !e.RetryWillHappen {
		t.Errorf("expected RetryWillHappen=true after attempt 1, got %#v", val)
	}
	if sched.Queue.Len() != 1 {
		t.Fatalf("failed task should be re-queued, queue length = %d", sched.Queue.Len())
	}

	task, ch, _ = sched.Queue.PopFront()
	sched.ExecuteFail(ctx, task, ch)
	if sched.Queue.Len() != 1 {
		t.Fatalf("second failure should still retry, queue length = %d", sched.Queue.Len())
	}

	task, ch, _ = sched.Queue.PopFront()
	sched.ExecuteFail(ctx, task, ch)
	val, closed, _ = ch.Snapshot()
	if !closed {
		t.Fatal("channel should be closed once attempts are exhausted")
	}
	if e, ok := val.(ProgressError); !ok || e.RetryWillHappen {
		t.Errorf("expected a terminal error after exhausting attempts, got %#v", val)
	}
	if sched.Queue.Len() != 0 {
		t.Errorf("exhausted task must not be re-queued, queue length = %d", sched.Queue.Len())
	}
	if sched.Registry.Len() != 0 {
		t.Errorf("exhausted task must be retired from the registry, len = %d", sched.Registry.Len())
	}

	if got := testutil.ToFloat64(sched.Metrics.TasksErrored); got != 1 {
		t.Errorf("TasksErrored = %v, want 1 (only the terminal failure should count)", got)
	}
}

func TestExecuteFinishRetiresTaskAndRecordsMetrics(t *testing.T) {
	sched, st, blob := newTestScheduler(t)
	ctx := context.Background()

	snap, err := sched.UpsertAndDispatch(ctx, "src-1", mustParam(t), false)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	task, ch, _ := sched.Queue.PopFront()
	if err := sched.ExecuteBegin(ctx, task, ch); err != nil {
		t.Fatalf("ExecuteBegin: %v", err)
	}

	if err := sched.ExecuteFinish(ctx, task, ch, []byte("mask-bytes"), *task.LastAttemptedAt); err != nil {
		t.Fatalf("ExecuteFinish: %v", err)
	}

	val, closed, _ := ch.Snapshot()
	if !closed {
		t.Fatal("channel should be closed after finish")
	}
	if _, ok := val.(ProgressResult); !ok {
		t.Errorf("expected a ProgressResult, got %#v", val)
	}
	if sched.Registry.Len() != 0 {
		t.Errorf("registry length = %d, want 0 after finish", sched.Registry.Len())
	}

	row, err := st.GetTask(ctx, snap.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if row.State != "done" {
		t.Errorf("row state = %q, want done", row.State)
	}
	if row.TranslationMask == nil {
		t.Fatal("expected a translation mask key to be persisted")
	}
	if _, err := blob.Get(ctx, *row.TranslationMask); err != nil {
		t.Errorf("mask bytes not found in blob store at %q: %v", *row.TranslationMask, err)
	}
	if got := testutil.ToFloat64(sched.Metrics.TasksFinished); got != 1 {
		t.Errorf("TasksFinished = %v, want 1", got)
	}
}
