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

// RentEstimateStore is the Postgres rent estimate table.
type RentEstimateStore struct {
	db *sql.DB
}

func NewRentEstimateStore(db *sql.DB) *RentEstimateStore {
	return &RentEstimateStore{db: db}
}

// Upsert writes the estimate when it differs from the stored one,
// ignoring ComputedAt.
func (s *RentEstimateStore) Upsert(ctx context.Context, r *domain.RentEstimate) (*domain.RentEstimate, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, apperr.Transient(err)
	}
	defer tx.Rollback()

	var (
		prevDoc []byte
		prev    *domain.RentEstimate
	)
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM rent_estimates WHERE listing_id = $1 FOR UPDATE`, r.ListingID).Scan(&prevDoc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, false, apperr.Transient(err)
	default:
		prev = &domain.RentEstimate{}
		if err := json.Unmarshal(prevDoc, prev); err != nil {
			return nil, false, fmt.Errorf("unmarshal rent estimate %s: %w", r.ListingID, err)
		}
		if store.RentEstimatesEqual(prev, r) {
			return prev, false, nil
		}
	}

	doc, err := json.Marshal(r)
	if err != nil {
		return nil, false, fmt.Errorf("marshal rent estimate %s: %w", r.ListingID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rent_estimates (listing_id, listing_version, doc) VALUES ($1, $2, $3)
		ON CONFLICT (listing_id) DO UPDATE SET
			listing_version = EXCLUDED.listing_version,
			doc             = EXCLUDED.doc`,
		r.ListingID, r.ListingVersion, doc)
	if err != nil {
		return nil, false, apperr.Transient(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, apperr.Transient(err)
	}
	return prev, true, nil
}

func (s *RentEstimateStore) Get(ctx context.Context, listingID string) (*domain.RentEstimate, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM rent_estimates WHERE listing_id = $1`, listingID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("rent estimate for listing %s", listingID)
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	var r domain.RentEstimate
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("unmarshal rent estimate %s: %w", listingID, err)
	}
	return &r, nil
}

var _ store.RentEstimateStore = (*RentEstimateStore)(nil)
