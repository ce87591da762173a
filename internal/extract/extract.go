// Package extract turns raw activity-log batches into memory records.
package extract

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/recalld/recalld/internal/model"
	"github.com/recalld/recalld/internal/store"
)

const (
	// DefaultMaxTags clamps the tag count per insight.
	DefaultMaxTags = 8
	// DefaultMaxTextLen clamps insight text length in runes.
	DefaultMaxTextLen = 2000
	// contextWindowEntries is how many trailing entries from the previous
	// batch are replayed to the summarizer as conversational context.
	contextWindowEntries = 4
)

// Summarizer distills a batch of log entries into candidate insights. It is
// an opaque network collaborator with variable latency, occasional malformed
// output, and rate limits; all three surface as retryable errors.
type Summarizer interface {
	Summarize(ctx context.Context, entries []model.LogEntry, contextWindow string) ([]model.CandidateInsight, error)
}

// Upserter is the best-effort secondary index write.
type Upserter interface {
	Upsert(ctx context.Context, rec model.MemoryRecord) error
}

// Extractor batches entries through the Summarizer and persists the validated
// output. Extraction is all-or-nothing per batch: on any summarizer or
// durability failure nothing is committed and the caller leaves the watermark
// unchanged.
type Extractor struct {
	summarizer Summarizer
	records    store.Store
	index      Upserter // nil disables secondary writes
	ns         string
	maxTags    int
	maxTextLen int
	log        *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	windows map[string]string // per-source conversational context
}

// New creates an extractor writing records into ns.
func New(summarizer Summarizer, records store.Store, index Upserter, ns string, log *zap.Logger) *Extractor {
	return &Extractor{
		summarizer: summarizer,
		records:    records,
		index:      index,
		ns:         ns,
		maxTags:    DefaultMaxTags,
		maxTextLen: DefaultMaxTextLen,
		log:        log,
		now:        time.Now,
		windows:    make(map[string]string),
	}
}

// ProcessBatch runs one summarizer call for the whole batch, validates the
// output, and durably persists the resulting records. sourceID keys the
// conversational context window; sourceRef is stamped into the records.
// Returns the number of newly inserted records. The watermark commit is the
// caller's job and must happen only after this returns nil error.
func (x *Extractor) ProcessBatch(ctx context.Context, sourceID, sourceRef string, entries []model.LogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	x.mu.Lock()
	window := x.windows[sourceID]
	x.mu.Unlock()

	candidates, err := x.summarizer.Summarize(ctx, entries, window)
	if err != nil {
		return 0, err
	}

	createdAt := x.now().UTC()
	var inserted int
	var records []model.MemoryRecord
	for _, ci := range candidates {
		rec, ok := x.validate(ci, sourceRef, createdAt)
		if !ok {
			continue
		}
		records = append(records, rec)
	}

	for _, rec := range records {
		ok, err := x.records.Put(ctx, rec)
		if err != nil {
			// Durability failures abort the batch; already-written records
			// are harmless because re-insertion is a no-op.
			return inserted, err
		}
		if ok {
			inserted++
		}
	}

	// Secondary index writes are best-effort: the records are durable, a
	// missing vector entry only degrades recall quality until rebuild.
	if x.index != nil {
		for _, rec := range records {
			if err := x.index.Upsert(ctx, rec); err != nil {
				x.log.Warn("vector upsert failed",
					zap.String("record_id", rec.ID), zap.Error(err))
			}
		}
	}

	x.mu.Lock()
	x.windows[sourceID] = tailWindow(entries)
	x.mu.Unlock()

	return inserted, nil
}

// validate normalizes a candidate into a record, or rejects it.
func (x *Extractor) validate(ci model.CandidateInsight, sourceRef string, createdAt time.Time) (model.MemoryRecord, bool) {
	text := strings.TrimSpace(ci.Text)
	if text == "" {
		return model.MemoryRecord{}, false
	}
	if runes := []rune(text); len(runes) > x.maxTextLen {
		text = string(runes[:x.maxTextLen])
	}

	kind := strings.ToLower(strings.TrimSpace(ci.Kind))
	if !model.ValidKinds[kind] {
		kind = model.KindSummary
	}

	var tags []string
	for _, t := range ci.Tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		tags = append(tags, t)
		if len(tags) == x.maxTags {
			break
		}
	}

	return model.MemoryRecord{
		ID:        model.RecordID(x.ns, kind, text),
		NS:        x.ns,
		Kind:      kind,
		Text:      text,
		Tags:      tags,
		CreatedAt: createdAt,
		SourceRef: sourceRef,
	}, true
}

// tailWindow keeps the last few entries as context for the next batch.
func tailWindow(entries []model.LogEntry) string {
	start := len(entries) - contextWindowEntries
	if start < 0 {
		start = 0
	}
	var sb strings.Builder
	for _, e := range entries[start:] {
		if e.Role != "" {
			sb.WriteString(e.Role)
			sb.WriteString(": ")
		}
		sb.WriteString(e.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}
