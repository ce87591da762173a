package store

import (
	"context"
	"testing"
	"time"

	"github.com/recalld/recalld/internal/model"
)

func TestSearch_Basic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Put(ctx, model.MemoryRecord{NS: "personal", Kind: "learning", Text: "JWT expiry is enforced by the gateway"})
	s.Put(ctx, model.MemoryRecord{NS: "personal", Kind: "decision", Text: "Chose postgres over sqlite for the API"})
	s.Put(ctx, model.MemoryRecord{NS: "team", Kind: "learning", Text: "JWT refresh tokens rotate weekly"})

	results, err := s.Search(ctx, SearchParams{NS: "personal", Query: "jwt expiry"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Tier != model.TierKeyword {
		t.Errorf("expected keyword tier, got %q", results[0].Tier)
	}
	// Both terms matched.
	if results[0].Score != 2 {
		t.Errorf("expected score 2, got %v", results[0].Score)
	}

	// No namespace filter finds both JWT records.
	results, err = s.Search(ctx, SearchParams{Query: "jwt"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestSearch_ScoredByMatchCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Put(ctx, model.MemoryRecord{NS: "personal", Kind: "summary", Text: "deploy pipeline uses docker"})
	s.Put(ctx, model.MemoryRecord{NS: "personal", Kind: "summary", Text: "deploy pipeline uses docker and docker compose on staging"})

	results, err := s.Search(ctx, SearchParams{NS: "personal", Query: "deploy docker staging"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("expected higher match count first: %v then %v", results[0].Score, results[1].Score)
	}
}

func TestSearch_TagMatching(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Put(ctx, model.MemoryRecord{NS: "personal", Kind: "summary", Text: "unrelated text", Tags: []string{"infra"}})
	s.Put(ctx, model.MemoryRecord{NS: "personal", Kind: "summary", Text: "also unrelated", Tags: []string{"frontend"}})

	results, err := s.Search(ctx, SearchParams{NS: "personal", Query: "nomatch", Tags: []string{"infra"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 tag match, got %d", len(results))
	}
	if results[0].Tags[0] != "infra" {
		t.Errorf("wrong record matched: %v", results[0].Tags)
	}
}

func TestSearch_RecencyTieBreak(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Put(ctx, model.MemoryRecord{
		NS: "personal", Kind: "summary", Text: "retry logic in client",
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	})
	s.Put(ctx, model.MemoryRecord{
		NS: "personal", Kind: "summary", Text: "retry logic in server",
		CreatedAt: time.Date(2026, 8, 1, 10, 5, 0, 0, time.UTC),
	})

	results, err := s.Search(ctx, SearchParams{NS: "personal", Query: "retry"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2, got %d", len(results))
	}
	if results[0].Text != "retry logic in server" {
		t.Errorf("expected most recent first, got %q", results[0].Text)
	}
}

func TestSearch_EmptyQueryAndTags(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Put(ctx, model.MemoryRecord{NS: "personal", Kind: "summary", Text: "something"})

	results, err := s.Search(ctx, SearchParams{NS: "personal", Query: "  a "})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results for degenerate query, got %d", len(results))
	}
}
