// Package logwatch polls activity-log sources and feeds new entries into the
// extraction pipeline.
package logwatch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/recalld/recalld/internal/watermark"
)

// BatchHandler persists a batch. A nil error is the watcher's confirmation
// that every record is durable and the watermark may advance.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch Batch) (int, error)
}

// Config configures a Watcher.
type Config struct {
	// Dir is the sources directory; every *.jsonl file in it is a Source.
	Dir        string
	Watermarks *watermark.Store
	Handler    BatchHandler

	Interval     time.Duration // poll tick, default 30s
	BatchTimeout time.Duration // per-batch processing cap, default 60s
	MaxEntries   int           // per-batch entry cap, default 50
	MaxTokens    int           // per-batch estimated-token cap, default 6000

	BackoffInitial time.Duration // first retry delay after a failed batch
	BackoffMax     time.Duration // retry delay ceiling

	Logger *zap.Logger
}

// retryState tracks the capped exponential backoff for one failing source.
type retryState struct {
	bo   *backoff.ExponentialBackOff
	next time.Time
}

// Watcher runs the background polling loop. One batch at a time, sources
// visited sequentially, failures isolated per source.
type Watcher struct {
	cfg     Config
	log     *zap.Logger
	retries map[string]*retryState
	now     func() time.Time
}

// New creates a watcher. Defaults are applied for any zero config value.
func New(cfg Config) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 60 * time.Second
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 50
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 6000
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Watcher{
		cfg:     cfg,
		log:     cfg.Logger,
		retries: make(map[string]*retryState),
		now:     time.Now,
	}
}

// Run polls until ctx is done. A file-change notification triggers an early
// tick; polling remains the correctness mechanism, fsnotify only trims
// latency.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	if fw, err := fsnotify.NewWatcher(); err == nil {
		defer fw.Close()
		if err := fw.Add(w.cfg.Dir); err != nil {
			w.log.Warn("fsnotify unavailable, polling only", zap.Error(err))
		} else {
			events = make(chan fsnotify.Event, 1)
			go func() {
				for {
					select {
					case ev, ok := <-fw.Events:
						if !ok {
							return
						}
						if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
							select {
							case events <- ev:
							default:
							}
						}
					case <-fw.Errors:
					case <-ctx.Done():
						return
					}
				}
			}()
		}
	}

	w.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		case <-events:
			w.Tick(ctx)
		}
	}
}

// Tick visits every known source once. A failure on one source never blocks
// the others.
func (w *Watcher) Tick(ctx context.Context) {
	sources, err := w.discover()
	if err != nil {
		w.log.Error("source scan failed", zap.Error(err))
		return
	}

	for _, src := range sources {
		if ctx.Err() != nil {
			return
		}
		if rs, ok := w.retries[src]; ok && w.now().Before(rs.next) {
			continue
		}
		if err := w.pollSource(ctx, src); err != nil {
			w.backoff(src)
			w.log.Warn("batch failed, will retry",
				zap.String("source", src),
				zap.Time("next_attempt", w.retries[src].next),
				zap.Error(err))
		} else {
			delete(w.retries, src)
		}
	}
}

// discover lists *.jsonl sources. New files join the rotation immediately;
// a removed file simply stops being polled, its watermark and records stay.
func (w *Watcher) discover() ([]string, error) {
	dirents, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return nil, err
	}
	var sources []string
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			continue
		}
		sources = append(sources, filepath.Join(w.cfg.Dir, d.Name()))
	}
	sort.Strings(sources)
	return sources, nil
}

// pollSource reads one bounded batch past the cursor and, once the handler
// confirms durability, commits the watermark. Records first, watermark
// second: a crash in between only re-processes, and content-derived IDs make
// the re-insert a no-op.
func (w *Watcher) pollSource(ctx context.Context, sourceID string) error {
	wm, err := w.cfg.Watermarks.Get(sourceID)
	if err != nil {
		return err
	}

	raws, err := readNewEntries(sourceID, wm)
	if err != nil {
		return err
	}
	if len(raws) == 0 {
		return nil
	}

	batch := buildBatch(sourceID, raws, w.cfg.MaxEntries, w.cfg.MaxTokens)
	if len(batch.Entries) == 0 {
		// Everything new was already-seen or malformed; just move the cursor.
		if batch.NextCursor > wm.Cursor {
			return w.cfg.Watermarks.Commit(sourceID, batch.NextCursor, nil)
		}
		return nil
	}

	bctx, cancel := context.WithTimeout(ctx, w.cfg.BatchTimeout)
	defer cancel()

	n, err := w.cfg.Handler.HandleBatch(bctx, batch)
	if err != nil {
		return err
	}

	if err := w.cfg.Watermarks.Commit(sourceID, batch.NextCursor, batch.Hashes); err != nil {
		return err
	}

	w.log.Info("batch committed",
		zap.String("source", sourceID),
		zap.String("batch", batch.ID),
		zap.Int("entries", len(batch.Entries)),
		zap.Int("records", n),
		zap.Int64("cursor", batch.NextCursor))
	return nil
}

// backoff schedules the next attempt for a failing source with capped
// doubling.
func (w *Watcher) backoff(sourceID string) {
	rs, ok := w.retries[sourceID]
	if !ok {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = w.cfg.BackoffInitial
		bo.MaxInterval = w.cfg.BackoffMax
		bo.Reset()
		rs = &retryState{bo: bo}
		w.retries[sourceID] = rs
	}
	rs.next = w.now().Add(rs.bo.NextBackOff())
}
