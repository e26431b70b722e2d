package scheduler

import (
	"testing"

	"github.com/cotrans/gateway/store"
)

func sampleKey(workerRevision int) store.TaskKey {
	return store.TaskKey{
		SourceImageID:  "abc123",
		TargetLanguage: "JPN",
		Detector:       "default",
		Direction:      "auto",
		Translator:     "none",
		Size:           "M",
		WorkerRevision: workerRevision,
	}
}

func TestKeyIndexInsertLookupRemove(t *testing.T) {
	ki := newKeyIndex()
	key := sampleKey(1)

	ki.insert(key, "task-1")
	got, ok := ki.lookup(key)
	if !ok || got != "task-1" {
		t.Fatalf("lookup = %q, %v; want task-1, true", got, ok)
	}

	ki.remove(key)
	if _, ok := ki.lookup(key); ok {
		t.Fatal("expected key to be gone after remove")
	}
}

func TestKeyIndexDistinguishesWorkerRevision(t *testing.T) {
	ki := newKeyIndex()
	keyV1 := sampleKey(1)
	keyV2 := sampleKey(2)

	ki.insert(keyV1, "task-v1")
	ki.insert(keyV2, "task-v2")

	got1, _ := ki.lookup(keyV1)
	got2, _ := ki.lookup(keyV2)
	if got1 != "task-v1" || got2 != "task-v2" {
		t.Fatalf("keys with different worker revisions collided: %q, %q", got1, got2)
	}
}

func TestKeyIndexDistinguishesEveryField(t *testing.T) {
	base := sampleKey(1)
	variants := []store.TaskKey{base}
	mutate := func(f func(*store.TaskKey)) {
		k := base
		f(&k)
		variants = append(variants, k)
	}
	mutate(func(k *store.TaskKey) { k.SourceImageID = "different" })
	mutate(func(k *store.TaskKey) { k.TargetLanguage = "ENG" })
	mutate(func(k *store.TaskKey) { k.Detector = "ctd" })
	mutate(func(k *store.TaskKey) { k.Direction = "h" })
	mutate(func(k *store.TaskKey) { k.Translator = "google" })
	mutate(func(k *store.TaskKey) { k.Size = "L" })

	seen := make(map[string]bool)
	for _, v := range variants {
		s := keyString(v)
		if seen[s] {
			t.Fatalf("keyString collision for variant %+v", v)
		}
		seen[s] = true
	}
}
