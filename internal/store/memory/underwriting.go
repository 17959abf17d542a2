package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/store"
)

// UnderwritingStore is the in-memory grid + exact cache + assumption
// sets table.
type UnderwritingStore struct {
	mu          sync.RWMutex
	grid        map[string]domain.GridRow
	exactByKey  map[string]*domain.ExactResult
	exactByID   map[string]*domain.ExactResult
	assumptions map[string]*domain.AssumptionSet
}

func NewUnderwritingStore() *UnderwritingStore {
	return &UnderwritingStore{
		grid:        make(map[string]domain.GridRow),
		exactByKey:  make(map[string]*domain.ExactResult),
		exactByID:   make(map[string]*domain.ExactResult),
		assumptions: make(map[string]*domain.AssumptionSet),
	}
}

func gridKeyOf(r domain.GridRow) string {
	return fmt.Sprintf("%s|%d|%s|%.4f|%d|%d",
		r.ListingID, r.ListingVersion, r.RentScenario, r.DownPctBin, r.RateBpsBin, r.AmortMonths)
}

func gridKeyString(k store.GridKey) string {
	return fmt.Sprintf("%s|%d|%s|%.4f|%d|%d",
		k.ListingID, k.ListingVersion, k.RentScenario, k.DownPctBin, k.RateBpsBin, k.AmortMonths)
}

func exactKey(listingID string, version int64, hash string) string {
	return fmt.Sprintf("%s|%d|%s", listingID, version, hash)
}

// UpsertGridRows bulk-writes rows; identical keys are overwritten, never
// appended.
func (s *UnderwritingStore) UpsertGridRows(_ context.Context, rows []domain.GridRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.grid[gridKeyOf(r)] = r
	}
	return nil
}

func (s *UnderwritingStore) GetGridRow(_ context.Context, key store.GridKey) (*domain.GridRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.grid[gridKeyString(key)]
	if !ok {
		return nil, apperr.NotFound("grid row %s", gridKeyString(key))
	}
	out := row
	return &out, nil
}

// InsertExact is idempotent: a concurrent or repeated insert for the same
// key returns the existing row's id.
func (s *UnderwritingStore) InsertExact(_ context.Context, r *domain.ExactResult) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := exactKey(r.ListingID, r.ListingVersion, r.AssumptionsHash)
	if existing, ok := s.exactByKey[key]; ok {
		return existing.ResultID, false, nil
	}

	row := *r
	if row.ResultID == "" {
		row.ResultID = uuid.New().String()
	}
	s.exactByKey[key] = &row
	s.exactByID[row.ResultID] = &row
	return row.ResultID, true, nil
}

func (s *UnderwritingStore) GetExact(_ context.Context, listingID string, version int64, hash string) (*domain.ExactResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.exactByKey[exactKey(listingID, version, hash)]
	if !ok {
		return nil, apperr.NotFound("exact result for %s v%d", listingID, version)
	}
	out := *r
	return &out, nil
}

func (s *UnderwritingStore) GetExactByID(_ context.Context, resultID string) (*domain.ExactResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.exactByID[resultID]
	if !ok {
		return nil, apperr.NotFound("exact result %s", resultID)
	}
	out := *r
	return &out, nil
}

func (s *UnderwritingStore) ListExactByListing(_ context.Context, listingID string, version int64) ([]domain.ExactResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ExactResult
	for _, r := range s.exactByID {
		if r.ListingID == listingID && r.ListingVersion == version {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResultID < out[j].ResultID })
	return out, nil
}

func (s *UnderwritingStore) SaveAssumptionSet(_ context.Context, set *domain.AssumptionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set.ID == "" {
		set.ID = uuid.New().String()
	}
	row := *set
	s.assumptions[set.ID] = &row
	return nil
}

func (s *UnderwritingStore) GetAssumptionSet(_ context.Context, id string) (*domain.AssumptionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.assumptions[id]
	if !ok {
		return nil, apperr.NotFound("assumption set %s", id)
	}
	out := *set
	return &out, nil
}

var _ store.UnderwritingStore = (*UnderwritingStore)(nil)
