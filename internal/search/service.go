package search

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Indexer receives card changes; Meili is the only implementation.
type Indexer interface {
	Searcher
	IndexCard(card CardRecord) error
	IndexCards(cards []CardRecord) error
	DeleteCard(id string) error
}

// Service is the facade that tries Meilisearch first and falls back to the
// store.
type Service struct {
	meili    Indexer
	fallback Searcher
	log      *logrus.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili Indexer, fallback Searcher, logger *logrus.Logger) *Service {
	return &Service{meili: meili, fallback: fallback, log: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back to the store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.WithError(err).Warn("search: meilisearch error, falling back to store")
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.WithError(err).Error("search: store fallback failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCards pushes cards to Meilisearch (fire-and-forget).
func (s *Service) IndexCards(cards ...CardRecord) {
	if s.meili == nil || !s.meili.Healthy() || len(cards) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexCards(cards); err != nil {
			s.log.WithError(err).WithField("cards", len(cards)).Warn("search: index cards")
		}
	}()
}

// DeleteCards removes cards from the search index (fire-and-forget).
func (s *Service) DeleteCards(ids ...string) {
	if s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		for _, id := range ids {
			if err := s.meili.DeleteCard(id); err != nil {
				s.log.WithError(err).WithField("card_id", id).Warn("search: delete card")
			}
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
