package memory

import (
	"context"
	"sync"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/store"
)

// EnrichmentStore is the in-memory enrichment table.
type EnrichmentStore struct {
	mu   sync.RWMutex
	rows map[string]*domain.Enrichment
}

func NewEnrichmentStore() *EnrichmentStore {
	return &EnrichmentStore{rows: make(map[string]*domain.Enrichment)}
}

// Upsert writes the row when any sub-object differs, ignoring ComputedAt.
// Returns the changed sub-object names.
func (s *EnrichmentStore) Upsert(_ context.Context, e *domain.Enrichment) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.rows[e.ListingID]
	changed := store.DiffEnrichment(existing, e)
	if len(changed) == 0 {
		return nil, nil
	}
	row := *e
	s.rows[e.ListingID] = &row
	return changed, nil
}

func (s *EnrichmentStore) Get(_ context.Context, listingID string) (*domain.Enrichment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rows[listingID]
	if !ok {
		return nil, apperr.NotFound("enrichment for listing %s", listingID)
	}
	out := *e
	return &out, nil
}

var _ store.EnrichmentStore = (*EnrichmentStore)(nil)
