package memory

import (
	"context"
	"sync"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/store"
)

// RentEstimateStore is the in-memory rent estimate table.
type RentEstimateStore struct {
	mu   sync.RWMutex
	rows map[string]*domain.RentEstimate
}

func NewRentEstimateStore() *RentEstimateStore {
	return &RentEstimateStore{rows: make(map[string]*domain.RentEstimate)}
}

// Upsert writes the estimate when it differs from the stored one,
// ignoring ComputedAt.
func (s *RentEstimateStore) Upsert(_ context.Context, r *domain.RentEstimate) (*domain.RentEstimate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rows[r.ListingID]
	if ok {
		prev := *existing
		if store.RentEstimatesEqual(existing, r) {
			return &prev, false, nil
		}
		row := *r
		s.rows[r.ListingID] = &row
		return &prev, true, nil
	}

	row := *r
	s.rows[r.ListingID] = &row
	return nil, true, nil
}

func (s *RentEstimateStore) Get(_ context.Context, listingID string) (*domain.RentEstimate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[listingID]
	if !ok {
		return nil, apperr.NotFound("rent estimate for listing %s", listingID)
	}
	out := *r
	return &out, nil
}

var _ store.RentEstimateStore = (*RentEstimateStore)(nil)
