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

// AlertStore is the in-memory alerts table.
type AlertStore struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Alert
	byKey map[string]string // (user|listing|result) -> alert id
}

func NewAlertStore() *AlertStore {
	return &AlertStore{
		byID:  make(map[string]*domain.Alert),
		byKey: make(map[string]string),
	}
}

func alertKey(userID, listingID, resultID string) string {
	return fmt.Sprintf("%s|%s|%s", userID, listingID, resultID)
}

// Upsert inserts unless an alert already exists for the same
// (user, listing, result).
func (s *AlertStore) Upsert(_ context.Context, a *domain.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := alertKey(a.UserID, a.ListingID, a.ResultID)
	if existingID, ok := s.byKey[key]; ok {
		a.ID = existingID
		return false, nil
	}

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	row := *a
	row.Delivery = append([]domain.ChannelDelivery(nil), a.Delivery...)
	s.byID[row.ID] = &row
	s.byKey[key] = row.ID
	return true, nil
}

func (s *AlertStore) Get(_ context.Context, id string) (*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, apperr.NotFound("alert %s", id)
	}
	out := *a
	out.Delivery = append([]domain.ChannelDelivery(nil), a.Delivery...)
	return &out, nil
}

func (s *AlertStore) ListByUser(_ context.Context, userID string, limit int) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Alert
	for _, a := range s.byID {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return sortAndLimit(out, limit), nil
}

func (s *AlertStore) ListByListing(_ context.Context, listingID string, limit int) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Alert
	for _, a := range s.byID {
		if a.ListingID == listingID {
			out = append(out, *a)
		}
	}
	return sortAndLimit(out, limit), nil
}

func sortAndLimit(alerts []domain.Alert, limit int) []domain.Alert {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].TriggeredAt.Equal(alerts[j].TriggeredAt) {
			return alerts[i].ID < alerts[j].ID
		}
		return alerts[i].TriggeredAt.After(alerts[j].TriggeredAt)
	})
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts
}

func (s *AlertStore) UpdateDelivery(_ context.Context, alertID string, channel domain.Channel, state domain.DeliveryState, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[alertID]
	if !ok {
		return apperr.NotFound("alert %s", alertID)
	}
	for i := range a.Delivery {
		if a.Delivery[i].Channel == channel {
			a.Delivery[i].State = state
			a.Delivery[i].Attempts++
			a.Delivery[i].LastError = lastError
			return nil
		}
	}
	a.Delivery = append(a.Delivery, domain.ChannelDelivery{
		Channel:   channel,
		State:     state,
		Attempts:  1,
		LastError: lastError,
	})
	return nil
}

func (s *AlertStore) ListFailedDeliveries(_ context.Context, limit int) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Alert
	for _, a := range s.byID {
		for _, d := range a.Delivery {
			if d.State == domain.DeliveryFailed {
				cp := *a
				cp.Delivery = append([]domain.ChannelDelivery(nil), a.Delivery...)
				out = append(out, cp)
				break
			}
		}
	}
	return sortAndLimit(out, limit), nil
}

var _ store.AlertStore = (*AlertStore)(nil)
