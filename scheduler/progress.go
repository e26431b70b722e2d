package scheduler

import "sync"

// ProgressMessage is the closed variant broadcast over a task's Progress
// Channel. Implementations: Pending, Status, ProgressResult, ProgressError.
type ProgressMessage interface {
	isProgressMessage()
}

// Pending reports a 0-based (pre-dispatch) or 1-based (post-renumber) queue
// position; see SPEC_FULL.md's Open Question Resolutions for which base
// applies where.
type Pending struct {
	Position int
}

// Status is an opaque worker-reported phase label.
type Status struct {
	Phase string
}

// ProgressResult is the terminal success message. Named to avoid colliding
// with Task.Result.
type ProgressResult struct {
	MaskKey string
}

// ProgressError is the terminal (or, with RetryWillHappen true, non-terminal)
// failure message.
type ProgressError struct {
	RetryWillHappen bool
}

func (Pending) isProgressMessage()        {}
func (Status) isProgressMessage()         {}
func (ProgressResult) isProgressMessage() {}
func (ProgressError) isProgressMessage()  {}

// IsTerminal reports whether a message ends the channel's writable lifetime:
// a successful Result, or a failure with no further retry.
func IsTerminal(m ProgressMessage) bool {
	switch v := m.(type) {
	case ProgressResult:
		return true
	case ProgressError:
		return !v.RetryWillHappen
	default:
		return false
	}
}

// Channel is a single-writer, multi-reader latest-value broadcast slot for
// one task's progress. The writer overwrites without waiting; readers take a
// synchronous snapshot and can await the next change. Once a terminal message
// is written, no further writes are accepted — this is the channel's only
// invariant enforced at the type level.
type Channel struct {
	mu       sync.Mutex
	value    ProgressMessage
	closed   bool
	changed  chan struct{}
}

// NewChannel creates a channel seeded with an initial (non-terminal) value.
func NewChannel(initial ProgressMessage) *Channel {
	return &Channel{
		value:   initial,
		changed: make(chan struct{}),
	}
}

// Write publishes a new value. No-op if the channel already reached a
// terminal state — terminal messages are never overwritten.
func (c *Channel) Write(msg ProgressMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.value = msg
	if IsTerminal(msg) {
		c.closed = true
	}
	close(c.changed)
	c.changed = make(chan struct{})
}

// Close marks the channel closed without writing a terminal message — used
// when a channel is torn down with no writer left (e.g. the owning task is
// dropped from the Registry without ever reaching Done/Error). Readers
// waiting on the changed channel from Snapshot observe the close.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.changed)
}

// Snapshot returns the current value, whether the channel is closed, and a
// channel that is closed the next time Write or Close fires. Once closed is
// true no further write will ever happen, so changed carries no further
// signal: after a terminal Write it never fires, and after Close it is
// already closed — callers must check closed before selecting on it.
func (c *Channel) Snapshot() (value ProgressMessage, closed bool, changed <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.closed, c.changed
}
