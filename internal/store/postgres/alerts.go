package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/store"
)

// AlertStore is the Postgres alert table.
type AlertStore struct {
	db *sql.DB
}

func NewAlertStore(db *sql.DB) *AlertStore {
	return &AlertStore{db: db}
}

// Upsert inserts the alert unless one already exists for its
// (user_id, listing_id, result_id). Redelivered events land on the
// unique constraint and report created=false.
func (s *AlertStore) Upsert(ctx context.Context, a *domain.Alert) (bool, error) {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal alert payload %s: %w", a.ID, err)
	}
	delivery, err := json.Marshal(deliveryDoc{SavedSearchID: a.SavedSearchID, Channels: a.Delivery})
	if err != nil {
		return false, fmt.Errorf("marshal alert delivery %s: %w", a.ID, err)
	}
	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO alerts (id, user_id, listing_id, result_id, triggered_at, payload, delivery)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, listing_id, result_id) DO NOTHING
		RETURNING id`,
		a.ID, a.UserID, a.ListingID, a.ResultID, a.TriggeredAt, payload, delivery).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Transient(err)
	}
	return true, nil
}

// deliveryDoc is the shape of the delivery JSONB column.
type deliveryDoc struct {
	SavedSearchID string                   `json:"savedSearchId"`
	Channels      []domain.ChannelDelivery `json:"channels"`
}

func (s *AlertStore) Get(ctx context.Context, id string) (*domain.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, listing_id, result_id, triggered_at, payload, delivery
		FROM alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("alert %s", id)
	}
	return a, err
}

func (s *AlertStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Alert, error) {
	return s.list(ctx, `
		SELECT id, user_id, listing_id, result_id, triggered_at, payload, delivery
		FROM alerts WHERE user_id = $1
		ORDER BY triggered_at DESC LIMIT $2`, userID, pageLimit(limit))
}

func (s *AlertStore) ListByListing(ctx context.Context, listingID string, limit int) ([]domain.Alert, error) {
	return s.list(ctx, `
		SELECT id, user_id, listing_id, result_id, triggered_at, payload, delivery
		FROM alerts WHERE listing_id = $1
		ORDER BY triggered_at DESC LIMIT $2`, listingID, pageLimit(limit))
}

// UpdateDelivery records a channel dispatch outcome, appending the
// channel record when it is not yet present.
func (s *AlertStore) UpdateDelivery(ctx context.Context, alertID string, channel domain.Channel, state domain.DeliveryState, lastError string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Transient(err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT delivery FROM alerts WHERE id = $1 FOR UPDATE`, alertID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("alert %s", alertID)
	}
	if err != nil {
		return apperr.Transient(err)
	}

	var doc deliveryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal alert delivery %s: %w", alertID, err)
	}
	found := false
	for i := range doc.Channels {
		if doc.Channels[i].Channel == channel {
			doc.Channels[i].State = state
			doc.Channels[i].Attempts++
			doc.Channels[i].LastError = lastError
			found = true
			break
		}
	}
	if !found {
		doc.Channels = append(doc.Channels, domain.ChannelDelivery{
			Channel: channel, State: state, Attempts: 1, LastError: lastError,
		})
	}

	raw, err = json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal alert delivery %s: %w", alertID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE alerts SET delivery = $2 WHERE id = $1`, alertID, raw); err != nil {
		return apperr.Transient(err)
	}
	return apperr.Transient(tx.Commit())
}

// ListFailedDeliveries returns alerts with at least one failed channel.
func (s *AlertStore) ListFailedDeliveries(ctx context.Context, limit int) ([]domain.Alert, error) {
	return s.list(ctx, `
		SELECT id, user_id, listing_id, result_id, triggered_at, payload, delivery
		FROM alerts
		WHERE delivery->'channels' @> '[{"state": "failed"}]'
		ORDER BY triggered_at LIMIT $1`, pageLimit(limit))
}

func (s *AlertStore) list(ctx context.Context, query string, args ...interface{}) ([]domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, apperr.Transient(rows.Err())
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var (
		a        domain.Alert
		payload  []byte
		delivery []byte
	)
	err := row.Scan(&a.ID, &a.UserID, &a.ListingID, &a.ResultID, &a.TriggeredAt, &payload, &delivery)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("alert")
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	if err := json.Unmarshal(payload, &a.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal alert payload %s: %w", a.ID, err)
	}
	var doc deliveryDoc
	if err := json.Unmarshal(delivery, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal alert delivery %s: %w", a.ID, err)
	}
	a.SavedSearchID = doc.SavedSearchID
	a.Delivery = doc.Channels
	return &a, nil
}

func pageLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

var _ store.AlertStore = (*AlertStore)(nil)
