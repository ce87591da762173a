package extract

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/recalld/recalld/internal/model"
	"github.com/recalld/recalld/internal/store"
)

type fakeSummarizer struct {
	calls   int
	windows []string
	out     []model.CandidateInsight
	err     error
}

func (f *fakeSummarizer) Summarize(_ context.Context, entries []model.LogEntry, window string) ([]model.CandidateInsight, error) {
	f.calls++
	f.windows = append(f.windows, window)
	return f.out, f.err
}

type fakeIndex struct {
	upserts int
	err     error
}

func (f *fakeIndex) Upsert(_ context.Context, _ model.MemoryRecord) error {
	f.upserts++
	return f.err
}

func newTestRecords(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func entries(texts ...string) []model.LogEntry {
	var out []model.LogEntry
	for i, txt := range texts {
		out = append(out, model.LogEntry{
			TS:   time.Date(2026, 8, 1, 10, i, 0, 0, time.UTC),
			Role: "assistant",
			Text: txt,
		})
	}
	return out
}

func TestProcessBatchPersistsInsights(t *testing.T) {
	ctx := context.Background()
	records := newTestRecords(t)
	summ := &fakeSummarizer{out: []model.CandidateInsight{
		{Kind: "learning", Text: "sqlite WAL allows concurrent readers", Tags: []string{"sqlite"}},
		{Kind: "decision", Text: "batch summarizer calls per tick"},
	}}
	idx := &fakeIndex{}
	x := New(summ, records, idx, "personal", zap.NewNop())

	n, err := x.ProcessBatch(ctx, "session-1", "session-1#b1", entries("a", "b", "c"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 inserted, got %d", n)
	}
	if summ.calls != 1 {
		t.Errorf("expected exactly one summarizer call per batch, got %d", summ.calls)
	}
	if idx.upserts != 2 {
		t.Errorf("expected 2 index upserts, got %d", idx.upserts)
	}

	count, _ := records.Count(ctx, "personal")
	if count != 2 {
		t.Errorf("expected 2 records in store, got %d", count)
	}
}

func TestSummarizerFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	records := newTestRecords(t)
	summ := &fakeSummarizer{err: &model.TransientError{Op: "summarize", Err: errors.New("rate limited")}}
	x := New(summ, records, nil, "personal", zap.NewNop())

	_, err := x.ProcessBatch(ctx, "src", "src#b", entries("a"))
	if !model.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}

	count, _ := records.Count(ctx, "")
	if count != 0 {
		t.Errorf("expected no records after failed batch, got %d", count)
	}
}

func TestValidationRules(t *testing.T) {
	ctx := context.Background()
	records := newTestRecords(t)
	longText := strings.Repeat("x", DefaultMaxTextLen+500)
	manyTags := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	summ := &fakeSummarizer{out: []model.CandidateInsight{
		{Kind: "learning", Text: "   "},                          // rejected: empty
		{Kind: "epiphany", Text: "unknown kind becomes summary"}, // reclassified
		{Kind: "learning", Text: longText, Tags: manyTags},       // clamped
	}}
	x := New(summ, records, nil, "personal", zap.NewNop())

	n, err := x.ProcessBatch(ctx, "src", "src#b", entries("a"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 inserted (1 rejected), got %d", n)
	}

	var byKind []model.MemoryRecord
	records.Scan(ctx, "personal", func(rec model.MemoryRecord) bool {
		byKind = append(byKind, rec)
		return true
	})
	var sawSummary, sawClamped bool
	for _, rec := range byKind {
		if rec.Kind == model.KindSummary && rec.Text == "unknown kind becomes summary" {
			sawSummary = true
		}
		if rec.Kind == model.KindLearning {
			if len(rec.Text) != DefaultMaxTextLen {
				t.Errorf("expected text clamped to %d, got %d", DefaultMaxTextLen, len(rec.Text))
			}
			if len(rec.Tags) != DefaultMaxTags {
				t.Errorf("expected %d tags, got %d", DefaultMaxTags, len(rec.Tags))
			}
			sawClamped = true
		}
	}
	if !sawSummary || !sawClamped {
		t.Errorf("missing expected records: summary=%v clamped=%v", sawSummary, sawClamped)
	}
}

func TestDuplicateInsightsDeduplicated(t *testing.T) {
	ctx := context.Background()
	records := newTestRecords(t)
	summ := &fakeSummarizer{out: []model.CandidateInsight{
		{Kind: "learning", Text: "The API rate limit is 100/min"},
		{Kind: "learning", Text: "the api RATE limit is  100/min"},
	}}
	x := New(summ, records, nil, "personal", zap.NewNop())

	n, err := x.ProcessBatch(ctx, "src", "src#b", entries("a"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 inserted after content dedup, got %d", n)
	}
}

func TestIndexFailureDoesNotFailBatch(t *testing.T) {
	ctx := context.Background()
	records := newTestRecords(t)
	summ := &fakeSummarizer{out: []model.CandidateInsight{
		{Kind: "learning", Text: "durable despite index outage"},
	}}
	idx := &fakeIndex{err: errors.New("embedder down")}
	x := New(summ, records, idx, "personal", zap.NewNop())

	n, err := x.ProcessBatch(ctx, "src", "src#b", entries("a"))
	if err != nil {
		t.Fatalf("batch should succeed when only the index fails: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 inserted, got %d", n)
	}
}

func TestContextWindowCarriesAcrossBatches(t *testing.T) {
	ctx := context.Background()
	records := newTestRecords(t)
	summ := &fakeSummarizer{}
	x := New(summ, records, nil, "personal", zap.NewNop())

	x.ProcessBatch(ctx, "src", "src#b", entries("discussed jwt expiry"))
	x.ProcessBatch(ctx, "src", "src#b", entries("second batch"))

	if len(summ.windows) != 2 {
		t.Fatalf("expected 2 summarizer calls, got %d", len(summ.windows))
	}
	if summ.windows[0] != "" {
		t.Errorf("first batch should have empty window, got %q", summ.windows[0])
	}
	if !strings.Contains(summ.windows[1], "discussed jwt expiry") {
		t.Errorf("second batch window should carry prior tail, got %q", summ.windows[1])
	}
}

func TestParseInsights(t *testing.T) {
	out, err := parseInsights("Here you go:\n```json\n[{\"kind\":\"learning\",\"text\":\"x\"}]\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(out) != 1 || out[0].Kind != "learning" {
		t.Errorf("unexpected parse result: %+v", out)
	}

	if _, err := parseInsights("no json here"); err == nil {
		t.Error("expected validation error for missing array")
	}
	var ve *model.ValidationError
	_, err = parseInsights("[{broken")
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}
