// Package domain holds the entity types shared across services.
// Each service owns its own store; these types only describe shape,
// never behavior that crosses a service boundary.
package domain

import "time"

// ListingStatus is the lifecycle state of a listing. Listings are never
// deleted in place — status transitions to Deleted or Expired instead.
type ListingStatus string

const (
	StatusActive    ListingStatus = "Active"
	StatusSold      ListingStatus = "Sold"
	StatusSuspended ListingStatus = "Suspended"
	StatusExpired   ListingStatus = "Expired"
	StatusDeleted   ListingStatus = "Deleted"
)

// PropertyType classifies the dwelling.
type PropertyType string

const (
	PropertyCondo     PropertyType = "Condo"
	PropertyHouse     PropertyType = "House"
	PropertyTownhouse PropertyType = "Townhouse"
)

// ChangeType classifies a listing_changed event.
type ChangeType string

const (
	ChangeCreate       ChangeType = "create"
	ChangeUpdate       ChangeType = "update"
	ChangeStatusChange ChangeType = "status_change"
)

// DirtyField names a semantic field whose change triggers downstream
// recomputation.
type DirtyField string

const (
	DirtyPrice   DirtyField = "price"
	DirtyStatus  DirtyField = "status"
	DirtyFees    DirtyField = "fees"
	DirtyTax     DirtyField = "tax"
	DirtyMedia   DirtyField = "media"
	DirtyAddress DirtyField = "address"
)

// HasDirty reports whether any of the wanted fields appears in dirty.
func HasDirty(dirty []DirtyField, wanted ...DirtyField) bool {
	for _, d := range dirty {
		for _, w := range wanted {
			if d == w {
				return true
			}
		}
	}
	return false
}

// FinancialDirtyFields are the dirty fields that invalidate underwriting.
var FinancialDirtyFields = []DirtyField{DirtyPrice, DirtyFees, DirtyTax}

// Address is the civic address of a listing. Lat/Lng are optional and
// come either from the feed or from the geocoder.
type Address struct {
	Street     string   `json:"street"`
	City       string   `json:"city"`
	Province   string   `json:"province"`
	PostalCode string   `json:"postalCode"`
	Country    string   `json:"country"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
}

// FSA returns the forward sortation area (first three postal characters).
func (a Address) FSA() string {
	if len(a.PostalCode) < 3 {
		return ""
	}
	return a.PostalCode[:3]
}

// Media holds listing media references.
type Media struct {
	Photos []string `json:"photos"`
}

// Listing is the normalized MLS listing. (ID, UpdatedAt) is monotonic per
// ID; ListingVersion is bumped by the store on every material change.
type Listing struct {
	ID              string        `json:"id"`
	MLSNumber       string        `json:"mlsNumber"`
	Source          string        `json:"source"`
	Status          ListingStatus `json:"status"`
	ListedAt        time.Time     `json:"listedAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	Address         Address       `json:"address"`
	PropertyType    PropertyType  `json:"propertyType"`
	Beds            int           `json:"beds"`
	Baths           float64       `json:"baths"`
	Sqft            *int          `json:"sqft,omitempty"`
	ListPrice       float64       `json:"listPrice"`
	TaxesAnnual     *float64      `json:"taxesAnnual,omitempty"`
	CondoFeeMonthly *float64      `json:"condoFeeMonthly,omitempty"`
	Media           *Media        `json:"media,omitempty"`
	Brokerage       string        `json:"brokerage,omitempty"`
	ListingVersion  int64         `json:"listingVersion"`
}
