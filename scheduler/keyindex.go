package scheduler

import (
	"fmt"
	"sync"

	"github.com/cotrans/gateway/store"
)

// keyIndex is a secondary index from a task's dedup key to its task_id,
// kept alongside the Registry so the Deduplicator/Upserter can answer
// "does a live channel exist for this (source_image_id, params)?" without
// scanning. Inserts happen inside UpsertAndDispatch's and Recover's
// dispatchMu critical section; removals happen from removeFromRegistry,
// which runs outside it, so the index guards its map with its own mutex.
type keyIndex struct {
	mu sync.Mutex
	m  map[string]string // dedupKeyString -> task_id
}

func newKeyIndex() *keyIndex {
	return &keyIndex{m: make(map[string]string)}
}

func keyString(k store.TaskKey) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%d",
		k.SourceImageID, k.TargetLanguage, k.Detector, k.Direction, k.Translator, k.Size, k.WorkerRevision)
}

func (ki *keyIndex) insert(k store.TaskKey, taskID string) {
	ki.mu.Lock()
	ki.m[keyString(k)] = taskID
	ki.mu.Unlock()
}

func (ki *keyIndex) remove(k store.TaskKey) {
	ki.mu.Lock()
	delete(ki.m, keyString(k))
	ki.mu.Unlock()
}

func (ki *keyIndex) lookup(k store.TaskKey) (string, bool) {
	ki.mu.Lock()
	defer ki.mu.Unlock()
	id, ok := ki.m[keyString(k)]
	return id, ok
}
