// Package watermark persists per-source ingestion cursors.
//
// Each source gets one JSON file. Commit replaces the file wholesale via
// write-to-temp-then-rename, so a crash mid-write leaves the prior watermark
// intact and the worst case on restart is re-processing, never skipping.
package watermark

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/recalld/recalld/internal/model"
)

// maxHashWindow bounds the recent processed-hash set kept per source.
const maxHashWindow = 512

// Store is a durable per-source cursor store.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore opens a watermark store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create watermark dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Get returns the watermark for a source, or a zero watermark if the source
// has never been seen.
func (s *Store) Get(sourceID string) (model.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := model.Watermark{SourceID: sourceID}
	b, err := os.ReadFile(s.path(sourceID))
	if os.IsNotExist(err) {
		return w, nil
	}
	if err != nil {
		return w, fmt.Errorf("read watermark: %w", err)
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return w, fmt.Errorf("decode watermark: %w", err)
	}
	w.SourceID = sourceID
	return w, nil
}

// Commit atomically advances the watermark. The cursor must be non-decreasing;
// callers invoke Commit strictly after the batch's records have been durably
// written.
func (s *Store) Commit(sourceID string, cursor int64, processed []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := model.Watermark{SourceID: sourceID}
	if b, err := os.ReadFile(s.path(sourceID)); err == nil {
		if err := json.Unmarshal(b, &cur); err != nil {
			return fmt.Errorf("decode watermark: %w", err)
		}
	}

	if cursor < cur.Cursor {
		return fmt.Errorf("watermark for %s would move backwards: %d < %d", sourceID, cursor, cur.Cursor)
	}

	next := model.Watermark{
		SourceID:        sourceID,
		Cursor:          cursor,
		ProcessedHashes: append(cur.ProcessedHashes, processed...),
	}
	if n := len(next.ProcessedHashes); n > maxHashWindow {
		next.ProcessedHashes = next.ProcessedHashes[n-maxHashWindow:]
	}

	return s.replace(sourceID, next)
}

// replace writes the watermark to a temp file and renames it into place.
func (s *Store) replace(sourceID string, w model.Watermark) error {
	b, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("encode watermark: %w", err)
	}

	final := s.path(sourceID)
	tmp, err := os.CreateTemp(s.dir, ".wm-*")
	if err != nil {
		return &model.DurabilityError{Op: "watermark temp", Err: err}
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &model.DurabilityError{Op: "watermark write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &model.DurabilityError{Op: "watermark sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &model.DurabilityError{Op: "watermark close", Err: err}
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return &model.DurabilityError{Op: "watermark rename", Err: err}
	}
	return nil
}

// path maps a source ID (often a filesystem path) to a stable file name.
func (s *Store) path(sourceID string) string {
	base := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, filepath.Base(sourceID))
	sum := sha256.Sum256([]byte(sourceID))
	return filepath.Join(s.dir, base+"-"+hex.EncodeToString(sum[:4])+".json")
}
