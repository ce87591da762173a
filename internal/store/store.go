// Package store provides the record storage interface and SQLite implementation.
package store

import (
	"context"

	"github.com/recalld/recalld/internal/model"
)

// SearchParams holds parameters for the keyword fallback search.
type SearchParams struct {
	NS    string
	Query string
	Tags  []string
	Limit int
}

// Store is the system of record for memory records. Records are immutable:
// there is no update or delete, and Put is idempotent by construction because
// IDs are content-derived.
type Store interface {
	// Put persists a record. Returns true if it was inserted, false if an
	// identical record was already present.
	Put(ctx context.Context, rec model.MemoryRecord) (bool, error)

	// Get retrieves a record by ID.
	Get(ctx context.Context, id string) (*model.MemoryRecord, error)

	// Scan visits records in a namespace, newest first, as a lazy restartable
	// sequence. Return false from fn to stop early. An empty namespace scans
	// all records.
	Scan(ctx context.Context, ns string, fn func(model.MemoryRecord) bool) error

	// Search is the keyword fallback tier: literal substring and tag matching
	// scored by match count.
	Search(ctx context.Context, p SearchParams) ([]model.RecallResult, error)

	// Count returns the number of records, optionally scoped to a namespace.
	Count(ctx context.Context, ns string) (int, error)

	// Close closes the store.
	Close() error
}
