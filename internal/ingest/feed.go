// Package ingest polls upstream listing feeds, normalizes items into the
// canonical Listing shape and emits listing_changed events for rows that
// the diff-upsert actually wrote.
package ingest

import (
	"context"
	"time"
)

// FeedItem is one raw upstream record. Upstream feeds are loosely typed;
// normalization is the only place this shape is handled.
type FeedItem struct {
	ID              string   `json:"id"`
	MLSNumber       string   `json:"mlsNumber"`
	Status          string   `json:"status"`
	ListedAt        string   `json:"listedAt"`
	UpdatedAt       string   `json:"updatedAt"`
	Street          string   `json:"street"`
	City            string   `json:"city"`
	Province        string   `json:"province"`
	PostalCode      string   `json:"postalCode"`
	Country         string   `json:"country"`
	Lat             *float64 `json:"lat,omitempty"`
	Lng             *float64 `json:"lng,omitempty"`
	PropertyType    string   `json:"propertyType"`
	Beds            int      `json:"beds"`
	Baths           float64  `json:"baths"`
	Sqft            *int     `json:"sqft,omitempty"`
	ListPrice       float64  `json:"listPrice"`
	TaxesAnnual     *float64 `json:"taxesAnnual,omitempty"`
	CondoFeeMonthly *float64 `json:"condoFeeMonthly,omitempty"`
	Photos          []string `json:"photos,omitempty"`
	Brokerage       string   `json:"brokerage,omitempty"`
}

// FeedPage is one page of feed results. NextToken is empty on the last
// page.
type FeedPage struct {
	Items     []FeedItem
	NextToken string
}

// FeedClient fetches upstream listings updated since a watermark.
type FeedClient interface {
	Source() string
	FetchUpdatedSince(ctx context.Context, since time.Time, pageToken string, pageSize int) (FeedPage, error)
}
