package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/recalld/recalld/internal/model"
)

// RecordSource supplies records for index rebuilds. The record store is
// authoritative; the index must always be re-derivable from it.
type RecordSource interface {
	Scan(ctx context.Context, ns string, fn func(model.MemoryRecord) bool) error
}

// Index is a namespace-isolated similarity index over memory records, backed
// by chromem-go. It holds references to records by ID, never a second copy of
// truth. All writes are best-effort: an upsert failure degrades recall
// quality, not durability.
//
// Rebuild is triggered manually (CLI/engine operation) or when status reports
// drift; the watcher never rebuilds on its own, since the embedder outage that
// caused the drift is usually still in progress.
type Index struct {
	db       *chromem.DB
	embedder Embedder
	log      *zap.Logger

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewIndex opens a persistent index at path. A nil embedder produces an index
// that reports itself unavailable.
func NewIndex(path string, embedder Embedder, log *zap.Logger) (*Index, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	return &Index{
		db:          db,
		embedder:    embedder,
		log:         log,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// Available reports whether the vector tier can serve queries.
func (ix *Index) Available() bool {
	return ix != nil && ix.embedder != nil
}

func (ix *Index) collection(ns string) (*chromem.Collection, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if col, ok := ix.collections[ns]; ok {
		return col, nil
	}
	col, err := ix.db.GetOrCreateCollection("ns_"+ns, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", ns, err)
	}
	ix.collections[ns] = col
	return col, nil
}

// Upsert embeds a record and stores its vector entry. The caller treats any
// error as non-fatal; the record is already durable in the record store.
func (ix *Index) Upsert(ctx context.Context, rec model.MemoryRecord) error {
	if !ix.Available() {
		return &model.TransientError{Op: "vector upsert", Err: fmt.Errorf("embedder disabled")}
	}

	emb, err := ix.embedder.Embed(ctx, rec.Text)
	if err != nil {
		return fmt.Errorf("embed record %s: %w", rec.ID, err)
	}

	col, err := ix.collection(rec.NS)
	if err != nil {
		return err
	}

	meta := map[string]string{
		"ns":         rec.NS,
		"kind":       rec.Kind,
		"created_at": rec.CreatedAt.UTC().Format(time.RFC3339),
		"source_ref": rec.SourceRef,
	}
	if len(rec.Tags) > 0 {
		b, _ := json.Marshal(rec.Tags)
		meta["tags"] = string(b)
	}

	return col.AddDocument(ctx, chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: emb,
		Metadata:  meta,
	})
}

// Search returns up to k results from a namespace ranked by cosine
// similarity, ties broken by created_at descending.
func (ix *Index) Search(ctx context.Context, ns, query string, k int) ([]model.RecallResult, error) {
	if !ix.Available() {
		return nil, &model.TransientError{Op: "vector search", Err: fmt.Errorf("embedder disabled")}
	}
	if k <= 0 {
		k = 10
	}

	emb, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	col, err := ix.collection(ns)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection; shrink until it
	// answers.
	var raw []chromem.Result
	for limit := k; limit >= 1; limit-- {
		raw, err = col.QueryEmbedding(ctx, emb, limit, nil, nil)
		if err == nil {
			break
		}
		if isTooFewDocsError(err) {
			if limit == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("vector query: %w", err)
	}

	results := make([]model.RecallResult, 0, len(raw))
	for _, r := range raw {
		res := model.RecallResult{
			RecordID: r.ID,
			Text:     r.Content,
			Score:    float64(r.Similarity),
			Tier:     model.TierVector,
			Kind:     r.Metadata["kind"],
		}
		if ts, err := time.Parse(time.RFC3339, r.Metadata["created_at"]); err == nil {
			res.CreatedAt = ts
		}
		if tags := r.Metadata["tags"]; tags != "" {
			json.Unmarshal([]byte(tags), &res.Tags)
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.RecordID < b.RecordID
	})
	return results, nil
}

// Count returns the number of vector entries in a namespace, for drift
// detection against the record store.
func (ix *Index) Count(ns string) (int, error) {
	col, err := ix.collection(ns)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Rebuild re-derives all vector entries for a namespace from the record
// store. This is the reconciliation path after drift. Returns the number of
// records indexed; individual embed failures are logged and skipped so one
// bad record cannot wedge the whole rebuild.
func (ix *Index) Rebuild(ctx context.Context, ns string, records RecordSource) (int, error) {
	if !ix.Available() {
		return 0, &model.TransientError{Op: "vector rebuild", Err: fmt.Errorf("embedder disabled")}
	}

	ix.mu.Lock()
	delete(ix.collections, ns)
	err := ix.db.DeleteCollection("ns_" + ns)
	ix.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("reset collection %s: %w", ns, err)
	}

	var indexed int
	var failed int
	scanErr := records.Scan(ctx, ns, func(rec model.MemoryRecord) bool {
		if ctx.Err() != nil {
			return false
		}
		if err := ix.Upsert(ctx, rec); err != nil {
			failed++
			ix.log.Warn("rebuild: skip record",
				zap.String("record_id", rec.ID), zap.Error(err))
			return true
		}
		indexed++
		return true
	})
	if scanErr != nil {
		return indexed, scanErr
	}
	if ctx.Err() != nil {
		return indexed, ctx.Err()
	}
	if failed > 0 {
		ix.log.Warn("rebuild finished with failures",
			zap.String("ns", ns), zap.Int("indexed", indexed), zap.Int("failed", failed))
	}
	return indexed, nil
}

func isTooFewDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
