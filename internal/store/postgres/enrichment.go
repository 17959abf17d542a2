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

// EnrichmentStore is the Postgres enrichment table.
type EnrichmentStore struct {
	db *sql.DB
}

func NewEnrichmentStore(db *sql.DB) *EnrichmentStore {
	return &EnrichmentStore{db: db}
}

// Upsert writes the row when any sub-object differs, ignoring ComputedAt.
func (s *EnrichmentStore) Upsert(ctx context.Context, e *domain.Enrichment) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	defer tx.Rollback()

	var (
		prevDoc []byte
		prev    *domain.Enrichment
	)
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM enrichments WHERE listing_id = $1 FOR UPDATE`, e.ListingID).Scan(&prevDoc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, apperr.Transient(err)
	default:
		prev = &domain.Enrichment{}
		if err := json.Unmarshal(prevDoc, prev); err != nil {
			return nil, fmt.Errorf("unmarshal enrichment %s: %w", e.ListingID, err)
		}
	}

	changed := store.DiffEnrichment(prev, e)
	if len(changed) == 0 {
		return nil, nil
	}

	doc, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal enrichment %s: %w", e.ListingID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO enrichments (listing_id, listing_version, doc) VALUES ($1, $2, $3)
		ON CONFLICT (listing_id) DO UPDATE SET
			listing_version = EXCLUDED.listing_version,
			doc             = EXCLUDED.doc`,
		e.ListingID, e.ListingVersion, doc)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Transient(err)
	}
	return changed, nil
}

func (s *EnrichmentStore) Get(ctx context.Context, listingID string) (*domain.Enrichment, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM enrichments WHERE listing_id = $1`, listingID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("enrichment for listing %s", listingID)
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	var e domain.Enrichment
	if err := json.Unmarshal(doc, &e); err != nil {
		return nil, fmt.Errorf("unmarshal enrichment %s: %w", listingID, err)
	}
	return &e, nil
}

var _ store.EnrichmentStore = (*EnrichmentStore)(nil)
