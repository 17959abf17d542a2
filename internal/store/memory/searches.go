package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/store"
)

// SearchStore is the in-memory saved search table.
type SearchStore struct {
	mu   sync.RWMutex
	rows map[string]*domain.SavedSearch
}

func NewSearchStore() *SearchStore {
	return &SearchStore{rows: make(map[string]*domain.SavedSearch)}
}

func (s *SearchStore) Create(_ context.Context, search *domain.SavedSearch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if search.ID == "" {
		search.ID = uuid.New().String()
	}
	if _, exists := s.rows[search.ID]; exists {
		return apperr.Conflict("saved search %s already exists", search.ID)
	}
	row := *search
	s.rows[search.ID] = &row
	return nil
}

func (s *SearchStore) Get(_ context.Context, id string) (*domain.SavedSearch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, apperr.NotFound("saved search %s", id)
	}
	out := *row
	return &out, nil
}

func (s *SearchStore) Update(_ context.Context, search *domain.SavedSearch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[search.ID]; !ok {
		return apperr.NotFound("saved search %s", search.ID)
	}
	row := *search
	s.rows[search.ID] = &row
	return nil
}

func (s *SearchStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return apperr.NotFound("saved search %s", id)
	}
	delete(s.rows, id)
	return nil
}

func (s *SearchStore) ListActive(_ context.Context) ([]domain.SavedSearch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SavedSearch
	for _, row := range s.rows {
		if row.IsActive {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *SearchStore) ListByUser(_ context.Context, userID string) ([]domain.SavedSearch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SavedSearch
	for _, row := range s.rows {
		if row.UserID == userID {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ store.SearchStore = (*SearchStore)(nil)
