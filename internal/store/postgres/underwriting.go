package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/store"
)

// UnderwritingStore is the Postgres home of grid rows, exact results and
// assumption sets.
type UnderwritingStore struct {
	db *sql.DB
}

func NewUnderwritingStore(db *sql.DB) *UnderwritingStore {
	return &UnderwritingStore{db: db}
}

// UpsertGridRows bulk-writes rows in one transaction, replacing metrics
// for rows whose composite key already exists.
func (s *UnderwritingStore) UpsertGridRows(ctx context.Context, rows []domain.GridRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Transient(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO grid_rows
			(listing_id, listing_version, rent_scenario, down_pct_bin, rate_bps_bin, amort_months, metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (listing_id, listing_version, rent_scenario, down_pct_bin, rate_bps_bin, amort_months)
		DO UPDATE SET metrics = EXCLUDED.metrics`)
	if err != nil {
		return apperr.Transient(err)
	}
	defer stmt.Close()

	for i := range rows {
		r := &rows[i]
		metrics, err := json.Marshal(r.Metrics)
		if err != nil {
			return fmt.Errorf("marshal grid metrics %s: %w", r.ListingID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ListingID, r.ListingVersion, string(r.RentScenario),
			r.DownPctBin, r.RateBpsBin, r.AmortMonths, metrics); err != nil {
			return apperr.Transient(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Transient(err)
	}
	return nil
}

func (s *UnderwritingStore) GetGridRow(ctx context.Context, key store.GridKey) (*domain.GridRow, error) {
	var metrics []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT metrics FROM grid_rows
		WHERE listing_id = $1 AND listing_version = $2 AND rent_scenario = $3
		  AND down_pct_bin = $4 AND rate_bps_bin = $5 AND amort_months = $6`,
		key.ListingID, key.ListingVersion, string(key.RentScenario),
		key.DownPctBin, key.RateBpsBin, key.AmortMonths).Scan(&metrics)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("grid row %s v%d %s", key.ListingID, key.ListingVersion, key.RentScenario)
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	row := domain.GridRow{
		ListingID:      key.ListingID,
		ListingVersion: key.ListingVersion,
		RentScenario:   key.RentScenario,
		DownPctBin:     key.DownPctBin,
		RateBpsBin:     key.RateBpsBin,
		AmortMonths:    key.AmortMonths,
	}
	if err := json.Unmarshal(metrics, &row.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal grid metrics %s: %w", key.ListingID, err)
	}
	return &row, nil
}

// InsertExact inserts idempotently. The insert races are resolved by the
// unique (listing_id, listing_version, assumptions_hash) constraint:
// INSERT ... ON CONFLICT DO NOTHING RETURNING tells us whether our row
// won, and on a loss the winner's id is read back.
func (s *UnderwritingStore) InsertExact(ctx context.Context, r *domain.ExactResult) (string, bool, error) {
	id := r.ResultID
	if id == "" {
		id = uuid.New().String()
	}
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return "", false, fmt.Errorf("marshal exact metrics %s: %w", r.ListingID, err)
	}

	var got string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO exact_results (result_id, listing_id, listing_version, assumptions_hash, metrics)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (listing_id, listing_version, assumptions_hash) DO NOTHING
		RETURNING result_id`,
		id, r.ListingID, r.ListingVersion, r.AssumptionsHash, metrics).Scan(&got)
	if err == nil {
		return got, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, apperr.Transient(err)
	}

	// Lost the race; the existing row holds the canonical id.
	err = s.db.QueryRowContext(ctx, `
		SELECT result_id FROM exact_results
		WHERE listing_id = $1 AND listing_version = $2 AND assumptions_hash = $3`,
		r.ListingID, r.ListingVersion, r.AssumptionsHash).Scan(&got)
	if err != nil {
		return "", false, apperr.Transient(err)
	}
	return got, false, nil
}

func (s *UnderwritingStore) GetExact(ctx context.Context, listingID string, listingVersion int64, hash string) (*domain.ExactResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT result_id, listing_id, listing_version, assumptions_hash, metrics
		FROM exact_results
		WHERE listing_id = $1 AND listing_version = $2 AND assumptions_hash = $3`,
		listingID, listingVersion, hash)
	r, err := scanExact(row)
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("exact result %s v%d %s", listingID, listingVersion, hash)
	}
	return r, err
}

func (s *UnderwritingStore) GetExactByID(ctx context.Context, resultID string) (*domain.ExactResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT result_id, listing_id, listing_version, assumptions_hash, metrics
		FROM exact_results WHERE result_id = $1`, resultID)
	r, err := scanExact(row)
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("exact result %s", resultID)
	}
	return r, err
}

func (s *UnderwritingStore) ListExactByListing(ctx context.Context, listingID string, listingVersion int64) ([]domain.ExactResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT result_id, listing_id, listing_version, assumptions_hash, metrics
		FROM exact_results
		WHERE listing_id = $1 AND listing_version = $2
		ORDER BY result_id`,
		listingID, listingVersion)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	defer rows.Close()

	var out []domain.ExactResult
	for rows.Next() {
		r, err := scanExact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, apperr.Transient(rows.Err())
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExact(row rowScanner) (*domain.ExactResult, error) {
	var (
		r       domain.ExactResult
		metrics []byte
	)
	err := row.Scan(&r.ResultID, &r.ListingID, &r.ListingVersion, &r.AssumptionsHash, &metrics)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("exact result")
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	if err := json.Unmarshal(metrics, &r.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal exact metrics %s: %w", r.ResultID, err)
	}
	return &r, nil
}

func (s *UnderwritingStore) SaveAssumptionSet(ctx context.Context, set *domain.AssumptionSet) error {
	doc, err := json.Marshal(set.Assumptions)
	if err != nil {
		return fmt.Errorf("marshal assumption set %s: %w", set.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assumption_sets (id, name, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, doc = EXCLUDED.doc`,
		set.ID, set.Name, doc)
	return apperr.Transient(err)
}

func (s *UnderwritingStore) GetAssumptionSet(ctx context.Context, id string) (*domain.AssumptionSet, error) {
	var (
		set domain.AssumptionSet
		doc []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, doc FROM assumption_sets WHERE id = $1`, id).
		Scan(&set.ID, &set.Name, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("assumption set %s", id)
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	if err := json.Unmarshal(doc, &set.Assumptions); err != nil {
		return nil, fmt.Errorf("unmarshal assumption set %s: %w", id, err)
	}
	return &set, nil
}

var _ store.UnderwritingStore = (*UnderwritingStore)(nil)
