// Package store defines the persistence abstraction for the gateway: the
// scheduler's task table, plus a small retained admin surface (users,
// sessions, config) for operator diagnostics.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---- task rows ----

// TaskState mirrors scheduler.State as a DB-facing string so this package
// does not need to import scheduler (which itself depends on store.Store).
type TaskState string

const (
	TaskPending TaskState = "pending"
	TaskRunning TaskState = "running"
	TaskDone    TaskState = "done"
	TaskError   TaskState = "error"
)

// TaskRow is the on-disk shape of the single `task` table.
type TaskRow struct {
	ID              string
	SourceImageID   string
	TargetLanguage  string
	Detector        string
	Direction       string
	Translator      string
	Size            string
	WorkerRevision  int
	State           TaskState
	LastAttemptedAt *time.Time
	FailedCount     int
	TranslationMask *string
}

// TaskKey is the composite dedup identity backing the unique index.
type TaskKey struct {
	SourceImageID  string
	TargetLanguage string
	Detector       string
	Direction      string
	Translator     string
	Size           string
	WorkerRevision int
}

// ---- admin domain types (retained for the operator surface; see
// DESIGN.md for what was dropped) ----

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type UserUpdate struct {
	Username     *string
	PasswordHash *string
	Role         *string
}

type Session struct {
	ID           uuid.UUID `json:"id"`
	UserID       int64     `json:"user_id"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the persistence abstraction. All methods are context-aware.
type Store interface {
	// ---- task rows ----

	// UpsertTask resolves a dedup-key conflict: if retry is true the existing
	// row is reset to Pending with its result cleared; otherwise the existing
	// row is returned untouched. On no conflict a fresh Pending row is
	// inserted. created reports whether this call inserted the row.
	UpsertTask(ctx context.Context, key TaskKey, sourceImageID string, retry bool) (row *TaskRow, created bool, err error)
	GetTask(ctx context.Context, id string) (*TaskRow, error)
	SetTaskRunning(ctx context.Context, id string) error
	SetTaskDone(ctx context.Context, id string, maskKey string) error
	SetTaskFailed(ctx context.Context, id string, failedCount int) error
	ListTasksForRecovery(ctx context.Context, workerRevision int) ([]*TaskRow, error)

	// ---- users ----
	CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUser(ctx context.Context, id int64, fields UserUpdate) (*User, error)
	DeleteUser(ctx context.Context, id int64) error

	// ---- sessions ----
	CreateSession(ctx context.Context, userID int64, refreshToken string, expiresAt time.Time) (*Session, error)
	GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	DeleteExpiredSessions(ctx context.Context) error

	// ---- config ----
	GetConfig(ctx context.Context) (map[string]any, error)
	SetConfig(ctx context.Context, data map[string]any) error

	// ---- lifecycle ----
	Close() error
}
