package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cotrans/gateway/store"
)

// fakeStore is a minimal in-memory store.Store good enough to drive
// UpsertAndDispatch/ExecuteFail/ExecuteFinish without a real database.
type fakeStore struct {
	mu        sync.Mutex
	byKey     map[string]string // dedup key string -> id
	rows      map[string]*store.TaskRow
	nextID    int
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byKey: make(map[string]string),
		rows:  make(map[string]*store.TaskRow),
	}
}

func (s *fakeStore) UpsertTask(ctx context.Context, key store.TaskKey, sourceImageID string, retry bool) (*store.TaskRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return nil, false, s.upsertErr
	}
	ks := keyString(key)
	if id, ok := s.byKey[ks]; ok {
		row := s.rows[id]
		if retry {
			row.State = store.TaskPending
			row.FailedCount = 0
			row.TranslationMask = nil
		}
		return row, false, nil
	}
	s.nextID++
	id := fmt.Sprintf("task-%d", s.nextID)
	row := &store.TaskRow{
		ID:             id,
		SourceImageID:  sourceImageID,
		TargetLanguage: key.TargetLanguage,
		Detector:       key.Detector,
		Direction:      key.Direction,
		Translator:     key.Translator,
		Size:           key.Size,
		WorkerRevision: key.WorkerRevision,
		State:          store.TaskPending,
	}
	s.byKey[ks] = id
	s.rows[id] = row
	return row, true, nil
}

func (s *fakeStore) GetTask(ctx context.Context, id string) (*store.TaskRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id], nil
}

func (s *fakeStore) SetTaskRunning(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.State = store.TaskRunning
	}
	return nil
}

func (s *fakeStore) SetTaskDone(ctx context.Context, id string, maskKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.State = store.TaskDone
		row.TranslationMask = &maskKey
	}
	return nil
}

func (s *fakeStore) SetTaskFailed(ctx context.Context, id string, failedCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.State = store.TaskError
		row.FailedCount = failedCount
	}
	return nil
}

func (s *fakeStore) ListTasksForRecovery(ctx context.Context, workerRevision int) ([]*store.TaskRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.TaskRow
	for _, row := range s.rows {
		if row.WorkerRevision == workerRevision {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateUser(ctx context.Context, username, passwordHash, role string) (*store.User, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *fakeStore) GetUser(ctx context.Context, id int64) (*store.User, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *fakeStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *fakeStore) ListUsers(ctx context.Context) ([]*store.User, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *fakeStore) UpdateUser(ctx context.Context, id int64, fields store.UserUpdate) (*store.User, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *fakeStore) DeleteUser(ctx context.Context, id int64) error { return fmt.Errorf("not implemented") }
func (s *fakeStore) CreateSession(ctx context.Context, userID int64, refreshToken string, expiresAt time.Time) (*store.Session, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *fakeStore) GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*store.Session, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *fakeStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	return fmt.Errorf("not implemented")
}
func (s *fakeStore) DeleteExpiredSessions(ctx context.Context) error { return nil }
func (s *fakeStore) GetConfig(ctx context.Context) (map[string]any, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *fakeStore) SetConfig(ctx context.Context, data map[string]any) error {
	return fmt.Errorf("not implemented")
}
func (s *fakeStore) Close() error { return nil }

// fakeBlob is a minimal in-memory blobstore.Store.
type fakeBlob struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{data: make(map[string][]byte)}
}

func (b *fakeBlob) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return nil, fmt.Errorf("fakeBlob: no such key %q", key)
	}
	return v, nil
}

func (b *fakeBlob) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = data
	return nil
}

func (b *fakeBlob) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *fakeBlob) PublicURL(key string) string {
	return "https://example.test/" + key
}

// fakeSource always returns the same fixed payload regardless of id.
type fakeSource struct {
	data []byte
	err  error
}

func (f *fakeSource) Load(ctx context.Context, sourceImageID string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}
