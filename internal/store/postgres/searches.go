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

// SearchStore is the Postgres saved search table.
type SearchStore struct {
	db *sql.DB
}

func NewSearchStore(db *sql.DB) *SearchStore {
	return &SearchStore{db: db}
}

func (s *SearchStore) Create(ctx context.Context, search *domain.SavedSearch) error {
	doc, err := json.Marshal(search)
	if err != nil {
		return fmt.Errorf("marshal saved search %s: %w", search.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO saved_searches (id, user_id, is_active, created_at, doc)
		VALUES ($1, $2, $3, $4, $5)`,
		search.ID, search.UserID, search.IsActive, search.CreatedAt, doc)
	return apperr.Transient(err)
}

func (s *SearchStore) Get(ctx context.Context, id string) (*domain.SavedSearch, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM saved_searches WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("saved search %s", id)
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	var search domain.SavedSearch
	if err := json.Unmarshal(doc, &search); err != nil {
		return nil, fmt.Errorf("unmarshal saved search %s: %w", id, err)
	}
	return &search, nil
}

func (s *SearchStore) Update(ctx context.Context, search *domain.SavedSearch) error {
	doc, err := json.Marshal(search)
	if err != nil {
		return fmt.Errorf("marshal saved search %s: %w", search.ID, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE saved_searches
		SET user_id = $2, is_active = $3, doc = $4
		WHERE id = $1`,
		search.ID, search.UserID, search.IsActive, doc)
	if err != nil {
		return apperr.Transient(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("saved search %s", search.ID)
	}
	return nil
}

func (s *SearchStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_searches WHERE id = $1`, id)
	if err != nil {
		return apperr.Transient(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("saved search %s", id)
	}
	return nil
}

func (s *SearchStore) ListActive(ctx context.Context) ([]domain.SavedSearch, error) {
	return s.list(ctx, `SELECT doc FROM saved_searches WHERE is_active ORDER BY created_at`)
}

func (s *SearchStore) ListByUser(ctx context.Context, userID string) ([]domain.SavedSearch, error) {
	return s.list(ctx, `SELECT doc FROM saved_searches WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (s *SearchStore) list(ctx context.Context, query string, args ...interface{}) ([]domain.SavedSearch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	defer rows.Close()

	var out []domain.SavedSearch
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, apperr.Transient(err)
		}
		var search domain.SavedSearch
		if err := json.Unmarshal(doc, &search); err != nil {
			return nil, fmt.Errorf("unmarshal saved search: %w", err)
		}
		out = append(out, search)
	}
	return out, apperr.Transient(rows.Err())
}

var _ store.SearchStore = (*SearchStore)(nil)
