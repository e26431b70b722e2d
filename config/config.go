// Package config manages the global gateway configuration.
// Defaults are loaded from an embedded YAML file; the live config is stored
// in a single DB row and read/written via the ConfigStore interface.
package config

import (
	"context"
	_ "embed"
	"encoding/json"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed config.default.yaml
var defaultYAML []byte

// Data holds the serialisable global configuration.
type Data struct {
	// CurrentWorkerRevision tags the worker wire protocol generation.
	// Recovery only resurrects rows at this revision.
	CurrentWorkerRevision int `json:"current_worker_revision" yaml:"current_worker_revision"`

	// MaxFailedAttempts is the retry ceiling; a task is retired once its
	// failure count reaches this value.
	MaxFailedAttempts int `json:"max_failed_attempts" yaml:"max_failed_attempts"`

	// WorkerInactivityTimeout bounds how long the gateway waits for a
	// message from a worker mid-execution before treating it as a
	// transport failure.
	WorkerInactivityTimeout string `json:"worker_inactivity_timeout" yaml:"worker_inactivity_timeout"`

	LogLevel string `json:"log_level" yaml:"log_level"`

	// BlobStore settings for the R2-compatible object store.
	BlobEndpoint      string `json:"blob_endpoint" yaml:"blob_endpoint"`
	BlobRegion        string `json:"blob_region" yaml:"blob_region"`
	BlobBucket        string `json:"blob_bucket" yaml:"blob_bucket"`
	BlobPublicBaseURL string `json:"blob_public_base_url" yaml:"blob_public_base_url"`
}

// ConfigStore is the persistence interface for the live config row.
// Implemented by store/postgres.DB; defined here to avoid circular imports.
type ConfigStore interface {
	GetConfig(ctx context.Context) (map[string]any, error)
	SetConfig(ctx context.Context, data map[string]any) error
}

// Global is a thread-safe, DB-backed wrapper around Data.
type Global struct {
	mu   sync.RWMutex
	data Data
	st   ConfigStore
}

// Load initialises Global from the DB.
// If the DB row is empty/missing, the embedded default YAML is seeded.
func Load(ctx context.Context, st ConfigStore) (*Global, error) {
	g := &Global{st: st, data: defaults()}

	raw, err := st.GetConfig(ctx)
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		// Seed defaults into the DB.
		if err := g.persistDefaults(ctx); err != nil {
			return nil, err
		}
		return g, nil
	}

	// Re-serialise the map → JSON → Data so we benefit from json tags.
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &g.data); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Global) persistDefaults(ctx context.Context) error {
	b, err := json.Marshal(g.data)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	return g.st.SetConfig(ctx, m)
}

// defaults returns the built-in configuration by parsing the embedded YAML.
func defaults() Data {
	var d Data
	_ = yaml.Unmarshal(defaultYAML, &d)
	return d
}

// Get returns a thread-safe copy of the current configuration.
func (g *Global) Get() Data {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data
}

// Set replaces the configuration and persists it to the DB.
func (g *Global) Set(ctx context.Context, d Data) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if err := g.st.SetConfig(ctx, m); err != nil {
		return err
	}
	g.mu.Lock()
	g.data = d
	g.mu.Unlock()
	return nil
}
