package vector

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/recalld/recalld/internal/model"
)

// stubEmbedder returns canned vectors per text so similarity ordering is
// fully controlled by the test.
type stubEmbedder struct {
	vecs map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := s.vecs[text]
	if !ok {
		return nil, fmt.Errorf("no stub vector for %q", text)
	}
	return v, nil
}

func (s *stubEmbedder) Dims() int { return 2 }

type sliceSource []model.MemoryRecord

func (s sliceSource) Scan(_ context.Context, ns string, fn func(model.MemoryRecord) bool) error {
	for _, rec := range s {
		if ns != "" && rec.NS != ns {
			continue
		}
		if !fn(rec) {
			return nil
		}
	}
	return nil
}

func newTestIndex(t *testing.T, emb Embedder) *Index {
	t.Helper()
	ix, err := NewIndex(filepath.Join(t.TempDir(), "vectors"), emb, zap.NewNop())
	if err != nil {
		t.Fatalf("create index: %v", err)
	}
	return ix
}

func TestUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{vecs: map[string][]float32{
		"jwt expiry handling": {1, 0},
		"docker compose tips": {0, 1},
		"jwt":                 {1, 0},
	}}
	ix := newTestIndex(t, emb)

	ix.Upsert(ctx, model.MemoryRecord{
		ID: "a", NS: "personal", Kind: "learning", Text: "jwt expiry handling",
		Tags: []string{"auth"}, CreatedAt: time.Now().UTC(),
	})
	ix.Upsert(ctx, model.MemoryRecord{
		ID: "b", NS: "personal", Kind: "summary", Text: "docker compose tips",
		CreatedAt: time.Now().UTC(),
	})

	results, err := ix.Search(ctx, "personal", "jwt", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].RecordID != "a" {
		t.Errorf("expected record a first, got %s", results[0].RecordID)
	}
	if results[0].Tier != model.TierVector {
		t.Errorf("expected vector tier, got %q", results[0].Tier)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("expected descending scores: %v, %v", results[0].Score, results[1].Score)
	}
	if len(results[0].Tags) != 1 || results[0].Tags[0] != "auth" {
		t.Errorf("tags not round-tripped: %v", results[0].Tags)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{vecs: map[string][]float32{
		"shared text": {1, 0},
		"query":       {1, 0},
	}}
	ix := newTestIndex(t, emb)

	ix.Upsert(ctx, model.MemoryRecord{ID: "p1", NS: "personal", Kind: "summary", Text: "shared text", CreatedAt: time.Now()})
	ix.Upsert(ctx, model.MemoryRecord{ID: "t1", NS: "team", Kind: "summary", Text: "shared text", CreatedAt: time.Now()})

	results, err := ix.Search(ctx, "team", "query", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].RecordID != "t1" {
		t.Errorf("expected only team record, got %+v", results)
	}
}

func TestEqualScoreOrdersByRecency(t *testing.T) {
	ctx := context.Background()
	// Both documents share a vector, so both score identically against any
	// query; ordering must fall back to created_at descending.
	emb := &stubEmbedder{vecs: map[string][]float32{
		"older insight": {0.6, 0.8},
		"newer insight": {0.6, 0.8},
		"query":         {1, 0},
	}}
	ix := newTestIndex(t, emb)

	ix.Upsert(ctx, model.MemoryRecord{
		ID: "old", NS: "personal", Kind: "summary", Text: "older insight",
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	})
	ix.Upsert(ctx, model.MemoryRecord{
		ID: "new", NS: "personal", Kind: "summary", Text: "newer insight",
		CreatedAt: time.Date(2026, 8, 1, 10, 5, 0, 0, time.UTC),
	})

	results, err := ix.Search(ctx, "personal", "query", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2, got %d", len(results))
	}
	if results[0].RecordID != "new" {
		t.Errorf("expected most recent first on tie, got %s", results[0].RecordID)
	}
}

func TestSearchEmptyNamespace(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{vecs: map[string][]float32{"query": {1, 0}}}
	ix := newTestIndex(t, emb)

	results, err := ix.Search(ctx, "personal", "query", 5)
	if err != nil {
		t.Fatalf("search on empty namespace: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestRebuildFromRecordStore(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{vecs: map[string][]float32{
		"first":  {1, 0},
		"second": {0, 1},
	}}
	ix := newTestIndex(t, emb)

	records := sliceSource{
		{ID: "r1", NS: "personal", Kind: "summary", Text: "first", CreatedAt: time.Now()},
		{ID: "r2", NS: "personal", Kind: "summary", Text: "second", CreatedAt: time.Now()},
	}

	// Simulate drift: only one record made it into the index.
	ix.Upsert(ctx, records[0])
	if n, _ := ix.Count("personal"); n != 1 {
		t.Fatalf("expected drifted count 1, got %d", n)
	}

	indexed, err := ix.Rebuild(ctx, "personal", records)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if indexed != 2 {
		t.Errorf("expected 2 indexed, got %d", indexed)
	}
	if n, _ := ix.Count("personal"); n != 2 {
		t.Errorf("expected count 2 after rebuild, got %d", n)
	}
}

func TestRebuildSkipsFailedEmbeds(t *testing.T) {
	ctx := context.Background()
	// "bad" has no stub vector, so embedding it fails.
	emb := &stubEmbedder{vecs: map[string][]float32{"good": {1, 0}}}
	ix := newTestIndex(t, emb)

	records := sliceSource{
		{ID: "g", NS: "personal", Kind: "summary", Text: "good", CreatedAt: time.Now()},
		{ID: "b", NS: "personal", Kind: "summary", Text: "bad", CreatedAt: time.Now()},
	}

	indexed, err := ix.Rebuild(ctx, "personal", records)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if indexed != 1 {
		t.Errorf("expected 1 indexed, got %d", indexed)
	}
}

func TestUnavailableWithoutEmbedder(t *testing.T) {
	ix := newTestIndex(t, nil)

	if ix.Available() {
		t.Error("expected index without embedder to be unavailable")
	}
	_, err := ix.Search(context.Background(), "personal", "q", 5)
	if !model.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}
