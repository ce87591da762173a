package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/recalld/recalld/internal/model"
)

// Search implements the keyword fallback tier: literal substring matching over
// record text and tags, scored by the number of matching terms. It never
// touches the vector index, so it keeps answering when everything else is down.
func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]model.RecallResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	terms := searchTerms(p.Query)
	if len(terms) == 0 && len(p.Tags) == 0 {
		return nil, nil
	}

	where := []string{}
	args := []interface{}{}
	if p.NS != "" {
		where = append(where, "ns = ?")
		args = append(args, p.NS)
	}

	var matches []string
	for _, t := range terms {
		matches = append(matches, "text LIKE ? COLLATE NOCASE")
		args = append(args, "%"+t+"%")
	}
	for _, tag := range p.Tags {
		matches = append(matches, "tags LIKE ?")
		args = append(args, "%\""+tag+"\"%")
	}
	where = append(where, "("+strings.Join(matches, " OR ")+")")

	// Over-fetch candidates; the final order is decided by match count in Go.
	query := fmt.Sprintf(`
		SELECT id, ns, kind, text, tags, created_at, source_ref
		FROM records
		WHERE %s
		ORDER BY created_at DESC
		LIMIT ?`, strings.Join(where, " AND "))
	args = append(args, limit*4)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.RecallResult
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		score := matchScore(rec, terms, p.Tags)
		if score == 0 {
			continue
		}
		results = append(results, model.RecallResult{
			RecordID:  rec.ID,
			Text:      rec.Text,
			Score:     score,
			Tier:      model.TierKeyword,
			Kind:      rec.Kind,
			Tags:      rec.Tags,
			CreatedAt: rec.CreatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// searchTerms splits a query into lowercase terms, dropping single characters.
func searchTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		if len(f) > 1 {
			terms = append(terms, f)
		}
	}
	return terms
}

// matchScore counts how many query terms and filter tags a record matches.
func matchScore(rec model.MemoryRecord, terms, tags []string) float64 {
	text := strings.ToLower(rec.Text)
	var n int
	for _, t := range terms {
		if strings.Contains(text, t) {
			n++
		}
	}
	for _, want := range tags {
		for _, have := range rec.Tags {
			if strings.EqualFold(want, have) {
				n++
				break
			}
		}
	}
	return float64(n)
}

// sortResults orders by score descending, then recency, then ID for a stable
// total order.
func sortResults(results []model.RecallResult) {
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
}
