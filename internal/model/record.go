// Package model defines the core memory data types.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Record kinds.
const (
	KindSummary  = "summary"
	KindDecision = "decision"
	KindLearning = "learning"
	KindBlocker  = "blocker"
)

// ValidKinds are the allowed record kinds.
var ValidKinds = map[string]bool{
	KindSummary:  true,
	KindDecision: true,
	KindLearning: true,
	KindBlocker:  true,
}

// Namespaces.
const (
	NamespacePersonal = "personal"
	NamespaceTeam     = "team"
)

// ValidNamespaces are the allowed namespaces.
var ValidNamespaces = map[string]bool{
	NamespacePersonal: true,
	NamespaceTeam:     true,
}

// Recall result tiers, in waterfall order.
const (
	TierVector  = "vector"
	TierRemote  = "remote"
	TierKeyword = "keyword"
)

// Recall result categories, grouped by record kind.
const (
	CategoryLearnings = "learnings"
	CategoryDecisions = "decisions"
	CategoryContext   = "context"
)

// LogEntry is one line of an external activity log.
type LogEntry struct {
	TS   time.Time `json:"ts"`
	Role string    `json:"role,omitempty"`
	Text string    `json:"text"`
}

// Hash returns the content hash used to reject re-delivered entries.
func (e LogEntry) Hash() string {
	h := sha256.New()
	h.Write([]byte(e.TS.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(e.Role))
	h.Write([]byte{0})
	h.Write([]byte(e.Text))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// CandidateInsight is the extractor's ephemeral output, validated before it
// becomes a MemoryRecord.
type CandidateInsight struct {
	Kind         string   `json:"kind"`
	Text         string   `json:"text"`
	Tags         []string `json:"tags,omitempty"`
	SourceWindow string   `json:"source_window,omitempty"`
}

// MemoryRecord is the durable, immutable unit of captured insight.
type MemoryRecord struct {
	ID        string    `json:"id"`
	NS        string    `json:"ns"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	SourceRef string    `json:"source_ref,omitempty"`
}

// RecallResult is constructed per query and never persisted.
type RecallResult struct {
	RecordID  string    `json:"record_id,omitempty"`
	Text      string    `json:"text"`
	Score     float64   `json:"score"`
	Tier      string    `json:"source_tier"`
	Kind      string    `json:"kind,omitempty"`
	Category  string    `json:"category,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Watermark marks ingestion progress for one source. Cursor is a byte offset
// into the source; ProcessedHashes is a bounded recent window used to reject
// re-delivery without advancing the cursor.
type Watermark struct {
	SourceID        string   `json:"source_id"`
	Cursor          int64    `json:"cursor"`
	ProcessedHashes []string `json:"processed_hashes,omitempty"`
}

// Seen reports whether the entry hash is in the recent-window set.
func (w *Watermark) Seen(hash string) bool {
	for _, h := range w.ProcessedHashes {
		if h == hash {
			return true
		}
	}
	return false
}

// NormalizeText canonicalizes record text for ID derivation: lowercase,
// whitespace collapsed.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// RecordID derives the stable, content-addressed record ID. Identical
// (namespace, kind, normalized text) always maps to the same ID, which is what
// makes re-insertion a no-op.
func RecordID(ns, kind, text string) string {
	h := sha256.New()
	h.Write([]byte(ns))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeText(text)))
	return hex.EncodeToString(h.Sum(nil))
}

// CategoryForKind maps a record kind to its recall category.
func CategoryForKind(kind string) string {
	switch kind {
	case KindLearning, KindBlocker:
		return CategoryLearnings
	case KindDecision:
		return CategoryDecisions
	default:
		return CategoryContext
	}
}
