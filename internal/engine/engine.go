// Package engine wires the capture pipeline and recall path into one service.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/recalld/recalld/internal/config"
	"github.com/recalld/recalld/internal/extract"
	"github.com/recalld/recalld/internal/logwatch"
	"github.com/recalld/recalld/internal/model"
	"github.com/recalld/recalld/internal/recall"
	"github.com/recalld/recalld/internal/store"
	"github.com/recalld/recalld/internal/vector"
	"github.com/recalld/recalld/internal/watermark"
)

// Options override default collaborators. The zero value builds everything
// from config; tests swap in fakes for the network pieces.
type Options struct {
	Summarizer extract.Summarizer
	Embedder   vector.Embedder
	Remote     recall.RemoteMemory
}

// Engine owns the stores and background machinery. One engine per process.
type Engine struct {
	cfg         config.Config
	log         *zap.Logger
	records     *store.SQLiteStore
	index       *vector.Index
	watermarks  *watermark.Store
	extractor   *extract.Extractor
	coordinator *recall.Coordinator
	watcher     *logwatch.Watcher
}

// New opens the data directory and wires every component.
func New(cfg config.Config, log *zap.Logger, opts Options) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	records, err := store.NewSQLiteStore(filepath.Join(cfg.DataDir, "records.db"))
	if err != nil {
		return nil, err
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder, err = vector.NewEmbedder(
			cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Embedding.BaseURL,
			cfg.Embedding.APIKey(), cfg.Embedding.Dims)
		if err != nil {
			records.Close()
			return nil, err
		}
	}

	index, err := vector.NewIndex(filepath.Join(cfg.DataDir, "vectors"), embedder, log)
	if err != nil {
		records.Close()
		return nil, err
	}

	watermarks, err := watermark.NewStore(filepath.Join(cfg.DataDir, "watermarks"))
	if err != nil {
		records.Close()
		return nil, err
	}

	summarizer := opts.Summarizer
	if summarizer == nil {
		summarizer = extract.NewClaudeSummarizer(
			cfg.Summarizer.APIKey(), cfg.Summarizer.Model, int64(cfg.Summarizer.MaxTokens))
	}

	var upserter extract.Upserter
	if index.Available() {
		upserter = index
	}
	extractor := extract.New(summarizer, records, upserter, cfg.Namespace, log)

	remote := opts.Remote
	if remote == nil && cfg.Remote.BaseURL != "" {
		remote = recall.NewHTTPRemote(cfg.Remote.BaseURL, cfg.Remote.APIKey())
	}
	coordinator := recall.New(index, remote, records, recall.Options{
		MinSimilarity: cfg.Recall.MinSimilarity,
		HalfLife:      cfg.Recall.HalfLife(),
		TagBoost:      cfg.Recall.TagBoost,
		Limit:         cfg.Recall.Limit,
		Timeout:       cfg.Recall.Timeout(),
	}, log)

	e := &Engine{
		cfg:         cfg,
		log:         log,
		records:     records,
		index:       index,
		watermarks:  watermarks,
		extractor:   extractor,
		coordinator: coordinator,
	}
	e.watcher = logwatch.New(logwatch.Config{
		Dir:            cfg.Watcher.Dir,
		Watermarks:     watermarks,
		Handler:        e,
		Interval:       cfg.Watcher.Interval(),
		BatchTimeout:   cfg.Watcher.BatchTimeout(),
		MaxEntries:     cfg.Watcher.MaxEntries,
		MaxTokens:      cfg.Watcher.MaxTokens,
		BackoffInitial: cfg.Watcher.BackoffInitial(),
		BackoffMax:     cfg.Watcher.BackoffMax(),
		Logger:         log,
	})
	return e, nil
}

// HandleBatch is the watcher's delivery path. The watcher commits the
// watermark only after this returns nil.
func (e *Engine) HandleBatch(ctx context.Context, batch logwatch.Batch) (int, error) {
	sourceRef := filepath.Base(batch.SourceID) + "#" + batch.ID
	return e.extractor.ProcessBatch(ctx, batch.SourceID, sourceRef, batch.Entries)
}

// SubmitBatch is the manual capture path: extract and persist a batch handed
// in directly rather than read from a watched log. The watermark cursor stays
// put; only the processed-hash window grows, so re-submitting the same
// entries is a no-op.
func (e *Engine) SubmitBatch(ctx context.Context, sourceID string, entries []model.LogEntry) (int, error) {
	if sourceID == "" {
		return 0, &model.ValidationError{Reason: "empty source id"}
	}

	wm, err := e.watermarks.Get(sourceID)
	if err != nil {
		return 0, err
	}

	var fresh []model.LogEntry
	var hashes []string
	for _, entry := range entries {
		if strings.TrimSpace(entry.Text) == "" {
			continue
		}
		h := entry.Hash()
		if wm.Seen(h) {
			continue
		}
		fresh = append(fresh, entry)
		hashes = append(hashes, h)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	sourceRef := sourceID + "#" + ulid.Make().String()
	n, err := e.extractor.ProcessBatch(ctx, sourceID, sourceRef, fresh)
	if err != nil {
		return 0, err
	}

	if err := e.watermarks.Commit(sourceID, wm.Cursor, hashes); err != nil {
		return n, err
	}

	e.log.Info("batch submitted",
		zap.String("source", sourceID),
		zap.Int("entries", len(fresh)),
		zap.Int("records", n))
	return n, nil
}

// Recall answers a query through the tiered waterfall. An empty namespace
// uses the configured default.
func (e *Engine) Recall(ctx context.Context, ns, query string, limit int, tagFilter []string) ([]model.RecallResult, error) {
	if ns == "" {
		ns = e.cfg.Namespace
	}
	return e.coordinator.Recall(ctx, ns, query, limit, tagFilter)
}

// SourceStatus is one watched source's ingestion progress.
type SourceStatus struct {
	SourceID   string `json:"source_id"`
	LastCursor int64  `json:"last_cursor"`
}

// IndexStatus compares record and vector counts for one namespace. A nonzero
// drift means the index lags and a rebuild would reconcile it.
type IndexStatus struct {
	NS      string `json:"ns"`
	Records int    `json:"records"`
	Vectors int    `json:"vectors"`
	Drift   int    `json:"drift"`
}

// Status is the full health snapshot.
type Status struct {
	Store          *store.Stats   `json:"store"`
	Sources        []SourceStatus `json:"sources,omitempty"`
	Index          []IndexStatus  `json:"index,omitempty"`
	IndexAvailable bool           `json:"index_available"`
}

// Status reports ingestion progress, record counts, and index health. A
// non-empty sourceID restricts the source list to that one source.
func (e *Engine) Status(ctx context.Context, sourceID string) (*Status, error) {
	stats, err := e.records.Stats(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Store:          stats,
		IndexAvailable: e.index.Available(),
	}

	sources, err := e.statusSources(sourceID)
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		wm, err := e.watermarks.Get(src)
		if err != nil {
			return nil, err
		}
		st.Sources = append(st.Sources, SourceStatus{SourceID: src, LastCursor: wm.Cursor})
	}

	for _, ns := range stats.Namespaces {
		ix := IndexStatus{NS: ns.NS, Records: ns.Count}
		if e.index.Available() {
			if n, err := e.index.Count(ns.NS); err == nil {
				ix.Vectors = n
			}
		}
		ix.Drift = ix.Records - ix.Vectors
		st.Index = append(st.Index, ix)
	}
	return st, nil
}

func (e *Engine) statusSources(sourceID string) ([]string, error) {
	if sourceID != "" {
		return []string{sourceID}, nil
	}
	dirents, err := os.ReadDir(e.cfg.Watcher.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sources []string
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			continue
		}
		sources = append(sources, filepath.Join(e.cfg.Watcher.Dir, d.Name()))
	}
	return sources, nil
}

// Rebuild re-derives a namespace's vector index from the record store.
func (e *Engine) Rebuild(ctx context.Context, ns string) (int, error) {
	if ns == "" {
		ns = e.cfg.Namespace
	}
	if !model.ValidNamespaces[ns] {
		return 0, &model.ValidationError{Reason: fmt.Sprintf("unknown namespace %q", ns)}
	}
	return e.index.Rebuild(ctx, ns, e.records)
}

// Run starts the background watcher and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	return e.watcher.Run(ctx)
}

// Close releases the stores.
func (e *Engine) Close() error {
	return e.records.Close()
}
