// Package store declares the per-service state store contracts. Each
// service owns its tables; reads from outside the owning service go
// through these bounded read-only surfaces or the gateway.
//
// Every upsert follows the diff-and-bump rule: the new row is compared
// by deep equality to the existing row excluding volatile fields
// (timestamps), written only on difference, and the entity version is
// advanced on write. The returned changed flag tells the caller whether
// to emit a downstream event.
package store

import (
	"context"
	"time"

	"github.com/propsignal/backend/internal/domain"
)

// ListingQuery filters and pages the listing table.
type ListingQuery struct {
	City         string
	Province     string
	PropertyType domain.PropertyType
	MinBeds      *int
	MaxBeds      *int
	MinPrice     *float64
	MaxPrice     *float64
	Status       domain.ListingStatus
	Limit        int
	Offset       int
}

// ListingStore owns the listings table and the ingest watermark.
type ListingStore interface {
	// Upsert writes the listing if it differs from the stored row,
	// bumping ListingVersion. Returns the previous row (nil on create)
	// and whether a write happened. UpdatedAt never moves backwards.
	Upsert(ctx context.Context, l *domain.Listing) (prev *domain.Listing, changed bool, err error)
	Get(ctx context.Context, id string) (*domain.Listing, error)
	Search(ctx context.Context, q ListingQuery) ([]domain.Listing, int, error)

	Watermark(ctx context.Context, source string) (time.Time, error)
	SetWatermark(ctx context.Context, source string, t time.Time) error
}

// EnrichmentStore owns the enrichment table.
type EnrichmentStore interface {
	// Upsert writes the row if it differs from the stored one, ignoring
	// ComputedAt in the comparison. Returns the names of the changed
	// sub-objects.
	Upsert(ctx context.Context, e *domain.Enrichment) (changedTypes []string, err error)
	Get(ctx context.Context, listingID string) (*domain.Enrichment, error)
}

// RentEstimateStore owns the rent estimate table.
type RentEstimateStore interface {
	// Upsert writes the estimate if it differs from the stored one,
	// ignoring ComputedAt. Returns the previous estimate (nil on create)
	// and whether a write happened.
	Upsert(ctx context.Context, r *domain.RentEstimate) (prev *domain.RentEstimate, changed bool, err error)
	Get(ctx context.Context, listingID string) (*domain.RentEstimate, error)
}

// GridKey addresses one grid row.
type GridKey struct {
	ListingID      string
	ListingVersion int64
	RentScenario   domain.RentScenario
	DownPctBin     float64
	RateBpsBin     int
	AmortMonths    int
}

// UnderwritingStore owns grid rows, exact results and assumption sets.
type UnderwritingStore interface {
	// UpsertGridRows bulk-writes rows keyed by their composite key.
	UpsertGridRows(ctx context.Context, rows []domain.GridRow) error
	GetGridRow(ctx context.Context, key GridKey) (*domain.GridRow, error)

	// InsertExact inserts idempotently. When a row with the same
	// (listingId, listingVersion, assumptionsHash) already exists, the
	// existing row's id is returned with created=false.
	InsertExact(ctx context.Context, r *domain.ExactResult) (resultID string, created bool, err error)
	GetExact(ctx context.Context, listingID string, listingVersion int64, hash string) (*domain.ExactResult, error)
	GetExactByID(ctx context.Context, resultID string) (*domain.ExactResult, error)
	ListExactByListing(ctx context.Context, listingID string, listingVersion int64) ([]domain.ExactResult, error)

	SaveAssumptionSet(ctx context.Context, s *domain.AssumptionSet) error
	GetAssumptionSet(ctx context.Context, id string) (*domain.AssumptionSet, error)
}

// SearchStore owns saved searches.
type SearchStore interface {
	Create(ctx context.Context, s *domain.SavedSearch) error
	Get(ctx context.Context, id string) (*domain.SavedSearch, error)
	Update(ctx context.Context, s *domain.SavedSearch) error
	Delete(ctx context.Context, id string) error
	ListActive(ctx context.Context) ([]domain.SavedSearch, error)
	ListByUser(ctx context.Context, userID string) ([]domain.SavedSearch, error)
}

// AlertStore owns alerts. The (userId, listingId, resultId) key is
// unique; Upsert is idempotent.
type AlertStore interface {
	// Upsert inserts the alert unless one already exists for its
	// (UserID, ListingID, ResultID). Returns whether a row was created.
	Upsert(ctx context.Context, a *domain.Alert) (created bool, err error)
	Get(ctx context.Context, id string) (*domain.Alert, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Alert, error)
	ListByListing(ctx context.Context, listingID string, limit int) ([]domain.Alert, error)

	// UpdateDelivery records a channel dispatch outcome.
	UpdateDelivery(ctx context.Context, alertID string, channel domain.Channel, state domain.DeliveryState, lastError string) error
	// ListFailedDeliveries returns alerts with at least one failed
	// channel, for the retry sweep.
	ListFailedDeliveries(ctx context.Context, limit int) ([]domain.Alert, error)
}
