package logwatch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/oklog/ulid/v2"

	"github.com/recalld/recalld/internal/model"
)

// Batch is one bounded unit of new source activity plus the cursor the
// watermark should advance to once the batch is durably persisted.
type Batch struct {
	ID         string
	SourceID   string
	Entries    []model.LogEntry
	NextCursor int64
	Hashes     []string
}

// rawEntry is a parsed log line plus the byte offset just past it.
type rawEntry struct {
	entry model.LogEntry
	end   int64
	hash  string
}

// readNewEntries reads complete JSONL lines after the watermark cursor.
// A trailing partial line (no newline yet) is left for the next tick.
// Entries already in the watermark's hash window are consumed (the cursor
// moves past them) but not re-delivered.
func readNewEntries(sourceID string, wm model.Watermark) ([]rawEntry, error) {
	f, err := os.Open(sourceID)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.Size() < wm.Cursor {
		// Sources are append-only; a shrunken file means it was replaced and
		// the cursor no longer means anything.
		return nil, fmt.Errorf("source %s truncated below cursor %d", sourceID, wm.Cursor)
	}
	if info.Size() == wm.Cursor {
		return nil, nil
	}

	if _, err := f.Seek(wm.Cursor, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek source: %w", err)
	}

	var out []rawEntry
	r := bufio.NewReader(f)
	offset := wm.Cursor
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF {
			// Partial line without terminator: not yet fully written.
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		offset += int64(len(line))

		var e model.LogEntry
		if uerr := json.Unmarshal([]byte(line), &e); uerr != nil || e.Text == "" {
			// Malformed or empty line: consume it so it is never retried.
			out = append(out, rawEntry{end: offset})
			continue
		}

		h := e.Hash()
		if wm.Seen(h) {
			out = append(out, rawEntry{end: offset})
			continue
		}
		out = append(out, rawEntry{entry: e, end: offset, hash: h})
	}
	return out, nil
}

// buildBatch groups raw entries into a bounded batch, capping both entry
// count and estimated token volume so a long idle gap does not produce one
// giant summarizer request. Skipped (seen/malformed) entries only extend the
// cursor.
func buildBatch(sourceID string, raws []rawEntry, maxEntries, maxTokens int) Batch {
	b := Batch{
		ID:       ulid.Make().String(),
		SourceID: sourceID,
	}
	var tokens int
	for _, r := range raws {
		if r.hash == "" {
			// Consumed without delivery; safe to advance past only if no
			// deliverable entry was left behind before it.
			b.NextCursor = r.end
			continue
		}
		t := estimateTokens(r.entry.Text)
		if len(b.Entries) > 0 && (len(b.Entries) >= maxEntries || tokens+t > maxTokens) {
			break
		}
		b.Entries = append(b.Entries, r.entry)
		b.Hashes = append(b.Hashes, r.hash)
		b.NextCursor = r.end
		tokens += t
	}
	return b
}

// estimateTokens is the usual rough bytes/4 heuristic; it only needs to be
// good enough to keep batches under downstream request limits.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
