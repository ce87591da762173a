// Package recall executes the tiered fallback search over captured memory.
package recall

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recalld/recalld/internal/model"
	"github.com/recalld/recalld/internal/store"
)

// Defaults for the recall policy knobs. These are tunable configuration, not
// protocol constants.
const (
	DefaultMinSimilarity = 0.60
	DefaultHalfLife      = 720 * time.Hour
	DefaultTagBoost      = 1.25
	DefaultLimit         = 10
)

// VectorSearcher is the primary similarity tier.
type VectorSearcher interface {
	Available() bool
	Search(ctx context.Context, ns, query string, k int) ([]model.RecallResult, error)
}

// RemoteMemory is the fallback semantic collaborator. It is never
// authoritative; an empty answer or any error just moves the waterfall on.
type RemoteMemory interface {
	Query(ctx context.Context, ns, query string) (string, error)
}

// KeywordSearcher is the terminal tier. It is local and always answers.
type KeywordSearcher interface {
	Search(ctx context.Context, p store.SearchParams) ([]model.RecallResult, error)
}

// Options are the recall policy knobs.
type Options struct {
	MinSimilarity float64       // vector-tier sufficiency threshold
	HalfLife      time.Duration // recency decay half-life
	TagBoost      float64       // multiplier when a requested tag matches
	Limit         int           // default result cap
	Timeout       time.Duration // per-query budget for the network tiers
}

func (o Options) withDefaults() Options {
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = DefaultMinSimilarity
	}
	if o.HalfLife <= 0 {
		o.HalfLife = DefaultHalfLife
	}
	if o.TagBoost <= 0 {
		o.TagBoost = DefaultTagBoost
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	return o
}

// Coordinator walks the waterfall: vector search, then the remote semantic
// service, then the keyword scan. Results from whichever tier answered are
// categorized, boosted deterministically, and truncated.
type Coordinator struct {
	vector  VectorSearcher // nil or unavailable skips the tier
	remote  RemoteMemory   // nil skips the tier
	keyword KeywordSearcher
	opts    Options
	log     *zap.Logger
	now     func() time.Time
}

// New creates a coordinator. keyword is required; vector and remote may be nil.
func New(vector VectorSearcher, remote RemoteMemory, keyword KeywordSearcher, opts Options, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		vector:  vector,
		remote:  remote,
		keyword: keyword,
		opts:    opts.withDefaults(),
		log:     log,
		now:     time.Now,
	}
}

// Recall answers a query from the first tier that produces a usable result.
// Under time pressure the network tiers are abandoned and the local keyword
// tier still answers.
func (c *Coordinator) Recall(ctx context.Context, ns, query string, limit int, tagFilter []string) ([]model.RecallResult, error) {
	if !model.ValidNamespaces[ns] {
		return nil, &model.ValidationError{Reason: fmt.Sprintf("unknown namespace %q", ns)}
	}
	if strings.TrimSpace(query) == "" {
		return nil, &model.ValidationError{Reason: "empty query"}
	}
	if limit <= 0 {
		limit = c.opts.Limit
	}

	qid := uuid.NewString()
	log := c.log.With(zap.String("query_id", qid), zap.String("ns", ns))

	netCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		netCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	if results := c.vectorTier(netCtx, log, ns, query, limit); results != nil {
		return c.finalize(results, tagFilter, limit), nil
	}
	if results := c.remoteTier(netCtx, log, ns, query); results != nil {
		return c.finalize(results, tagFilter, limit), nil
	}

	// The keyword tier must answer even when the network budget is spent.
	kctx := ctx
	if netCtx.Err() != nil {
		kctx = context.WithoutCancel(ctx)
	}
	results, err := c.keyword.Search(kctx, store.SearchParams{
		NS: ns, Query: query, Tags: tagFilter, Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	log.Debug("answered from keyword tier", zap.Int("results", len(results)))
	return c.finalize(results, tagFilter, limit), nil
}

// vectorTier returns a non-nil slice only when the tier is sufficient: at
// least one raw similarity at or above the threshold. Results below the
// threshold are dropped rather than diluting the answer.
func (c *Coordinator) vectorTier(ctx context.Context, log *zap.Logger, ns, query string, limit int) []model.RecallResult {
	if c.vector == nil || !c.vector.Available() {
		return nil
	}
	results, err := c.vector.Search(ctx, ns, query, limit)
	if err != nil {
		log.Warn("vector tier failed", zap.Error(err))
		return nil
	}
	var kept []model.RecallResult
	for _, r := range results {
		if r.Score >= c.opts.MinSimilarity {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	log.Debug("answered from vector tier", zap.Int("results", len(kept)))
	return kept
}

// remoteTier wraps a usable remote answer in a single synthetic result.
func (c *Coordinator) remoteTier(ctx context.Context, log *zap.Logger, ns, query string) []model.RecallResult {
	if c.remote == nil {
		return nil
	}
	content, err := c.remote.Query(ctx, ns, query)
	if err != nil {
		log.Warn("remote tier failed", zap.Error(err))
		return nil
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}
	log.Debug("answered from remote tier")
	return []model.RecallResult{{
		Text:     content,
		Score:    1,
		Tier:     model.TierRemote,
		Category: model.CategoryContext,
	}}
}

// finalize applies the deterministic post-processing: category assignment,
// recency decay, tag boost, a stable total order, and the limit.
func (c *Coordinator) finalize(results []model.RecallResult, tagFilter []string, limit int) []model.RecallResult {
	now := c.now().UTC()
	for i := range results {
		r := &results[i]
		if r.Category == "" {
			r.Category = model.CategoryForKind(r.Kind)
		}
		if !r.CreatedAt.IsZero() {
			age := now.Sub(r.CreatedAt)
			if age > 0 {
				r.Score *= math.Pow(0.5, age.Hours()/c.opts.HalfLife.Hours())
			}
		}
		if tagsMatch(r.Tags, tagFilter) {
			r.Score *= c.opts.TagBoost
		}
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

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func tagsMatch(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(w, h) {
				return true
			}
		}
	}
	return false
}
