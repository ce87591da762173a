package store

import (
	"context"
	"os"
)

// Stats holds database statistics for status reporting.
type Stats struct {
	DBPath       string           `json:"db_path"`
	DBSizeBytes  int64            `json:"db_size_bytes"`
	TotalRecords int              `json:"total_records"`
	Namespaces   []NamespaceStats `json:"namespaces"`
}

// NamespaceStats holds per-namespace counts.
type NamespaceStats struct {
	NS    string `json:"ns"`
	Count int    `json:"count"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.dbPath}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&st.TotalRecords)

	rows, err := s.db.QueryContext(ctx, `
		SELECT ns, COUNT(*) as cnt
		FROM records
		GROUP BY ns ORDER BY cnt DESC`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ns NamespaceStats
		rows.Scan(&ns.NS, &ns.Count)
		st.Namespaces = append(st.Namespaces, ns)
	}
	return st, nil
}
