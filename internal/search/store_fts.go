package search

import (
	"context"
	"fmt"
	"strings"

	"taskboard/internal/store"
)

// CardFinder is the store lookup the fallback searcher relies on.
type CardFinder interface {
	SearchCards(ctx context.Context, boardID, query string, limit int) ([]store.Card, error)
}

// StoreFTS implements Searcher on top of the primary store: Postgres
// full-text search, or substring matching for the in-memory store.
type StoreFTS struct {
	finder CardFinder
}

func NewStoreFTS(finder CardFinder) *StoreFTS {
	return &StoreFTS{finder: finder}
}

// Healthy always returns true; the store is the source of truth.
func (p *StoreFTS) Healthy() bool {
	return true
}

func (p *StoreFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	cards, err := p.finder.SearchCards(ctx, q.BoardID, q.Text, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("store search: %w", err)
	}
	results := make([]Result, 0, len(cards))
	for _, card := range cards {
		results = append(results, Result{
			ID:      card.ID,
			Title:   card.Title,
			Snippet: snippet(card.Description, 160),
			ListID:  card.ListID,
			BoardID: card.BoardID,
		})
	}
	return results, len(results), nil
}

func snippet(text string, max int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
