// Package postgres provides the production store implementations over
// database/sql with the lib/pq driver. Each service's tables live here;
// nested objects are stored as JSONB documents next to the columns that
// queries filter on.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// Open connects to Postgres, bounds the pool and verifies connectivity.
func Open(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen <= 0 {
		maxOpen = 20
	}
	if maxIdle <= 0 {
		maxIdle = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS listings (
	id              TEXT PRIMARY KEY,
	listing_version BIGINT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	city            TEXT NOT NULL DEFAULT '',
	province        TEXT NOT NULL DEFAULT '',
	property_type   TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT '',
	beds            INT NOT NULL DEFAULT 0,
	list_price      DOUBLE PRECISION NOT NULL DEFAULT 0,
	doc             JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS listings_city_idx ON listings (LOWER(city));
CREATE INDEX IF NOT EXISTS listings_updated_idx ON listings (updated_at DESC);

CREATE TABLE IF NOT EXISTS ingest_watermarks (
	source TEXT PRIMARY KEY,
	ts     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichments (
	listing_id      TEXT PRIMARY KEY,
	listing_version BIGINT NOT NULL,
	doc             JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS rent_estimates (
	listing_id      TEXT PRIMARY KEY,
	listing_version BIGINT NOT NULL,
	doc             JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS grid_rows (
	listing_id      TEXT NOT NULL,
	listing_version BIGINT NOT NULL,
	rent_scenario   TEXT NOT NULL,
	down_pct_bin    NUMERIC(6,4) NOT NULL,
	rate_bps_bin    INT NOT NULL,
	amort_months    INT NOT NULL,
	metrics         JSONB NOT NULL,
	PRIMARY KEY (listing_id, listing_version, rent_scenario, down_pct_bin, rate_bps_bin, amort_months)
);

CREATE TABLE IF NOT EXISTS exact_results (
	result_id        TEXT PRIMARY KEY,
	listing_id       TEXT NOT NULL,
	listing_version  BIGINT NOT NULL,
	assumptions_hash TEXT NOT NULL,
	metrics          JSONB NOT NULL,
	UNIQUE (listing_id, listing_version, assumptions_hash)
);

CREATE TABLE IF NOT EXISTS assumption_sets (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	doc  JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS saved_searches (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	doc        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS saved_searches_user_idx ON saved_searches (user_id);

CREATE TABLE IF NOT EXISTS alerts (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	listing_id    TEXT NOT NULL,
	result_id     TEXT NOT NULL,
	triggered_at  TIMESTAMPTZ NOT NULL,
	payload       JSONB NOT NULL,
	delivery      JSONB NOT NULL,
	UNIQUE (user_id, listing_id, result_id)
);
CREATE INDEX IF NOT EXISTS alerts_user_idx ON alerts (user_id, triggered_at DESC);
CREATE INDEX IF NOT EXISTS alerts_listing_idx ON alerts (listing_id, triggered_at DESC);
`

// Migrate creates all tables if absent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// nullTime converts a nullable scan target.
func nullTime(t sql.NullTime) time.Time {
	if t.Valid {
		return t.Time
	}
	return time.Time{}
}
