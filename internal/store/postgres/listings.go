package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/store"
)

// ListingStore is the Postgres listings table.
type ListingStore struct {
	db *sql.DB
}

func NewListingStore(db *sql.DB) *ListingStore {
	return &ListingStore{db: db}
}

// Upsert applies diff-and-bump inside a transaction: read the current
// row, compare ignoring timestamps, and write a bumped version only on
// difference. Stale rows (older UpdatedAt) are ignored.
func (s *ListingStore) Upsert(ctx context.Context, l *domain.Listing) (*domain.Listing, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, apperr.Transient(err)
	}
	defer tx.Rollback()

	var (
		prevDoc []byte
		prev    *domain.Listing
	)
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM listings WHERE id = $1 FOR UPDATE`, l.ID).Scan(&prevDoc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// create
	case err != nil:
		return nil, false, apperr.Transient(err)
	default:
		prev = &domain.Listing{}
		if err := json.Unmarshal(prevDoc, prev); err != nil {
			return nil, false, fmt.Errorf("unmarshal listing %s: %w", l.ID, err)
		}
	}

	next := *l
	if prev == nil {
		next.ListingVersion = 1
	} else {
		if l.UpdatedAt.Before(prev.UpdatedAt) {
			return prev, false, nil
		}
		if listingEqualIgnoringTimestamps(prev, l) {
			return prev, false, nil
		}
		next.ListingVersion = prev.ListingVersion + 1
		if next.UpdatedAt.Before(prev.UpdatedAt) {
			next.UpdatedAt = prev.UpdatedAt
		}
	}

	doc, err := json.Marshal(&next)
	if err != nil {
		return nil, false, fmt.Errorf("marshal listing %s: %w", l.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO listings (id, listing_version, updated_at, city, province, property_type, status, beds, list_price, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			listing_version = EXCLUDED.listing_version,
			updated_at      = EXCLUDED.updated_at,
			city            = EXCLUDED.city,
			province        = EXCLUDED.province,
			property_type   = EXCLUDED.property_type,
			status          = EXCLUDED.status,
			beds            = EXCLUDED.beds,
			list_price      = EXCLUDED.list_price,
			doc             = EXCLUDED.doc`,
		next.ID, next.ListingVersion, next.UpdatedAt,
		next.Address.City, next.Address.Province, string(next.PropertyType),
		string(next.Status), next.Beds, next.ListPrice, doc)
	if err != nil {
		return nil, false, apperr.Transient(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, apperr.Transient(err)
	}
	*l = next
	return prev, true, nil
}

func listingEqualIgnoringTimestamps(a, b *domain.Listing) bool {
	na, nb := *a, *b
	na.UpdatedAt, nb.UpdatedAt = time.Time{}, time.Time{}
	na.ListedAt, nb.ListedAt = time.Time{}, time.Time{}
	na.ListingVersion, nb.ListingVersion = 0, 0
	aj, err := json.Marshal(na)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(nb)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}

func (s *ListingStore) Get(ctx context.Context, id string) (*domain.Listing, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM listings WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("listing %s", id)
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	var l domain.Listing
	if err := json.Unmarshal(doc, &l); err != nil {
		return nil, fmt.Errorf("unmarshal listing %s: %w", id, err)
	}
	return &l, nil
}

func (s *ListingStore) Search(ctx context.Context, q store.ListingQuery) ([]domain.Listing, int, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.City != "" {
		where = append(where, "LOWER(city) = LOWER("+arg(q.City)+")")
	}
	if q.Province != "" {
		where = append(where, "LOWER(province) = LOWER("+arg(q.Province)+")")
	}
	if q.PropertyType != "" {
		where = append(where, "property_type = "+arg(string(q.PropertyType)))
	}
	if q.Status != "" {
		where = append(where, "status = "+arg(string(q.Status)))
	}
	if q.MinBeds != nil {
		where = append(where, "beds >= "+arg(*q.MinBeds))
	}
	if q.MaxBeds != nil {
		where = append(where, "beds <= "+arg(*q.MaxBeds))
	}
	if q.MinPrice != nil {
		where = append(where, "list_price >= "+arg(*q.MinPrice))
	}
	if q.MaxPrice != nil {
		where = append(where, "list_price <= "+arg(*q.MaxPrice))
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM listings"+cond, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Transient(err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT doc FROM listings" + cond +
		" ORDER BY updated_at DESC, id ASC LIMIT " + arg(limit) + " OFFSET " + arg(q.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Transient(err)
	}
	defer rows.Close()

	out := []domain.Listing{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, apperr.Transient(err)
		}
		var l domain.Listing
		if err := json.Unmarshal(doc, &l); err != nil {
			return nil, 0, fmt.Errorf("unmarshal listing row: %w", err)
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

func (s *ListingStore) Watermark(ctx context.Context, source string) (time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT ts FROM ingest_watermarks WHERE source = $1`, source).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, apperr.Transient(err)
	}
	return nullTime(t), nil
}

func (s *ListingStore) SetWatermark(ctx context.Context, source string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_watermarks (source, ts) VALUES ($1, $2)
		ON CONFLICT (source) DO UPDATE SET ts = EXCLUDED.ts`, source, t)
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}

var _ store.ListingStore = (*ListingStore)(nil)
