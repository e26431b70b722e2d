// Package ingest supplies source image bytes to the scheduler. Ingestion
// itself (upload parsing, Twitter/Pixiv scraping) is out of scope for the
// translation pipeline proper, but the three task-creation routes that
// accept a source image still need somewhere durable to stage bytes keyed by
// source_image_id so scheduler.SourceLoader.Load can retrieve them again,
// including after a restart during recovery, so this stages through the
// same blob store rather than an in-memory map.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/cotrans/gateway/blobstore"
)

// Loader implements scheduler.SourceLoader against the blob store's
// source/ prefix.
type Loader struct {
	Blob blobstore.Store
}

func NewLoader(blob blobstore.Store) *Loader {
	return &Loader{Blob: blob}
}

func (l *Loader) Load(ctx context.Context, sourceImageID string) ([]byte, error) {
	return l.Blob.Get(ctx, sourceKey(sourceImageID))
}

func sourceKey(sourceImageID string) string {
	return "source/" + sourceImageID
}

// StoreUpload stages raw uploaded bytes, deriving source_image_id from the
// content hash so identical uploads dedup onto the same id (and therefore,
// downstream, the same task via the composite dedup key).
func StoreUpload(ctx context.Context, blob blobstore.Store, data []byte) (sourceImageID string, err error) {
	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])
	if err := blob.Put(ctx, sourceKey(id), data); err != nil {
		return "", fmt.Errorf("ingest: stage upload: %w", err)
	}
	return id, nil
}

// maxRemoteFetch bounds how much of a remote image body is read before
// giving up, so a misbehaving upstream can't exhaust memory.
const maxRemoteFetch = 32 << 20

// FetchRemote downloads imageURL (the resolved direct image link for a
// Twitter or Pixiv post) and stages it the same way as an upload.
func FetchRemote(ctx context.Context, blob blobstore.Store, imageURL string) (sourceImageID string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("ingest: build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ingest: fetch %s: %w", imageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ingest: fetch %s: status %d", imageURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteFetch+1))
	if err != nil {
		return "", fmt.Errorf("ingest: read body: %w", err)
	}
	if len(data) > maxRemoteFetch {
		return "", fmt.Errorf("ingest: fetch %s: body exceeds %d bytes", imageURL, maxRemoteFetch)
	}
	return StoreUpload(ctx, blob, data)
}
