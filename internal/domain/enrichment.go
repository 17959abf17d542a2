package domain

import "time"

// GeoSource tags where coordinates came from.
type GeoSource string

const (
	GeoFromListing  GeoSource = "listing"
	GeoFromGeocoder GeoSource = "geocoded"
)

// TaxMethod tags how the annual tax estimate was derived.
type TaxMethod string

const (
	TaxExact     TaxMethod = "exact"
	TaxRateTable TaxMethod = "rate_table"
	TaxUnknown   TaxMethod = "unknown"
)

// PriorsSource tags where rent priors came from.
type PriorsSource string

const (
	PriorsCMHC  PriorsSource = "cmhc"
	PriorsTable PriorsSource = "table"
	PriorsNone  PriorsSource = "none"
)

type Geo struct {
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	FSA          string    `json:"fsa"`
	Neighborhood string    `json:"neighborhood,omitempty"`
	Source       GeoSource `json:"source"`
}

type TaxEstimate struct {
	AnnualEstimate float64   `json:"annualEstimate"`
	Method         TaxMethod `json:"method"`
}

type FeeCheck struct {
	CondoFeeMonthly float64  `json:"condoFeeMonthly"`
	SanityFlags     []string `json:"sanityFlags,omitempty"`
}

// RentPriors are CMHC-style percentile rents for the listing's bucket.
// Invariant: P25 <= P50 <= P75 when all present.
type RentPriors struct {
	P25    float64      `json:"p25"`
	P50    float64      `json:"p50"`
	P75    float64      `json:"p75"`
	Source PriorsSource `json:"source"`
	Metro  string       `json:"metro,omitempty"`
	FSA    string       `json:"fsa,omitempty"`
	AsOf   string       `json:"asOf,omitempty"`
}

type LocationScores struct {
	Walk     int    `json:"walk"`
	Transit  int    `json:"transit"`
	Bike     int    `json:"bike"`
	Provider string `json:"provider"`
}

type CostRules struct {
	LTTRule                  string  `json:"lttRule"`
	InsuranceMonthlyEstimate float64 `json:"insuranceMonthlyEstimate"`
}

// Enrichment is the per-listing derived data row. Every sub-object is
// best-effort: a provider failure drops the sub-object without failing
// the row.
type Enrichment struct {
	ListingID         string          `json:"listingId"`
	ListingVersion    int64           `json:"listingVersion"`
	EnrichmentVersion string          `json:"enrichmentVersion"`
	Geo               *Geo            `json:"geo,omitempty"`
	Taxes             *TaxEstimate    `json:"taxes,omitempty"`
	Fees              *FeeCheck       `json:"fees,omitempty"`
	RentPriors        *RentPriors     `json:"rentPriors,omitempty"`
	LocationScores    *LocationScores `json:"locationScores,omitempty"`
	CostRules         *CostRules      `json:"costRules,omitempty"`
	ComputedAt        time.Time       `json:"computedAt"`
}
