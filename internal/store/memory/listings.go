package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/store"
)

// ListingStore is the in-memory listings table.
type ListingStore struct {
	mu         sync.RWMutex
	listings   map[string]*domain.Listing
	watermarks map[string]time.Time
}

func NewListingStore() *ListingStore {
	return &ListingStore{
		listings:   make(map[string]*domain.Listing),
		watermarks: make(map[string]time.Time),
	}
}

// Upsert applies the diff-and-bump rule. UpdatedAt never moves backwards
// for a given id; stale rows are ignored.
func (s *ListingStore) Upsert(_ context.Context, l *domain.Listing) (*domain.Listing, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.listings[l.ID]
	if !ok {
		created := *l
		created.ListingVersion = 1
		stored := created
		s.listings[l.ID] = &stored
		return nil, true, nil
	}

	prev := *existing
	if l.UpdatedAt.Before(existing.UpdatedAt) {
		return &prev, false, nil
	}
	if listingEqualIgnoringTimestamps(existing, l) {
		return &prev, false, nil
	}

	next := *l
	next.ListingVersion = existing.ListingVersion + 1
	if next.UpdatedAt.Before(existing.UpdatedAt) {
		next.UpdatedAt = existing.UpdatedAt
	}
	s.listings[l.ID] = &next
	return &prev, true, nil
}

func listingEqualIgnoringTimestamps(a, b *domain.Listing) bool {
	na, nb := *a, *b
	na.UpdatedAt, nb.UpdatedAt = time.Time{}, time.Time{}
	na.ListedAt, nb.ListedAt = time.Time{}, time.Time{}
	na.ListingVersion, nb.ListingVersion = 0, 0
	return deepEqual(na, nb)
}

func (s *ListingStore) Get(_ context.Context, id string) (*domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, apperr.NotFound("listing %s", id)
	}
	out := *l
	return &out, nil
}

func (s *ListingStore) Search(_ context.Context, q store.ListingQuery) ([]domain.Listing, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.Listing
	for _, l := range s.listings {
		if !matchesQuery(l, q) {
			continue
		}
		matched = append(matched, *l)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	total := len(matched)
	if q.Offset >= total {
		return []domain.Listing{}, total, nil
	}
	end := q.Offset + q.Limit
	if q.Limit <= 0 || end > total {
		end = total
	}
	return matched[q.Offset:end], total, nil
}

func matchesQuery(l *domain.Listing, q store.ListingQuery) bool {
	if q.City != "" && !strings.EqualFold(l.Address.City, q.City) {
		return false
	}
	if q.Province != "" && !strings.EqualFold(l.Address.Province, q.Province) {
		return false
	}
	if q.PropertyType != "" && l.PropertyType != q.PropertyType {
		return false
	}
	if q.Status != "" && l.Status != q.Status {
		return false
	}
	if q.MinBeds != nil && l.Beds < *q.MinBeds {
		return false
	}
	if q.MaxBeds != nil && l.Beds > *q.MaxBeds {
		return false
	}
	if q.MinPrice != nil && l.ListPrice < *q.MinPrice {
		return false
	}
	if q.MaxPrice != nil && l.ListPrice > *q.MaxPrice {
		return false
	}
	return true
}

func (s *ListingStore) Watermark(_ context.Context, source string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermarks[source], nil
}

func (s *ListingStore) SetWatermark(_ context.Context, source string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[source] = t
	return nil
}

var _ store.ListingStore = (*ListingStore)(nil)
