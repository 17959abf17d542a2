package domain

import "time"

// RentMethod tags the estimation path taken.
type RentMethod string

const (
	RentMethodPriors RentMethod = "priors"
	RentMethodComps  RentMethod = "comps"
	RentMethodModel  RentMethod = "model"
)

// Comp is a comparable rental used by the estimator.
type Comp struct {
	ListingID    string       `json:"listingId"`
	MonthlyRent  float64      `json:"monthlyRent"`
	Beds         int          `json:"beds"`
	Baths        float64      `json:"baths"`
	Sqft         *int         `json:"sqft,omitempty"`
	PropertyType PropertyType `json:"propertyType"`
	City         string       `json:"city"`
	FSA          string       `json:"fsa"`
	DistanceKm   float64      `json:"distanceKm"`
	AgeDays      int          `json:"ageDays"`
}

// EstimateFeatures records the inputs the estimator used, for audit.
type EstimateFeatures struct {
	Comps        []Comp      `json:"comps,omitempty"`
	PriorsUsed   *RentPriors `json:"priorsUsed,omitempty"`
	PerBedBase   float64     `json:"perBedBase,omitempty"`
	PerBedAmount float64     `json:"perBedAmount,omitempty"`
}

// RentEstimate is the per-listing monthly rent distribution.
// Invariant: P50 is always present; P25 <= P50 <= P75 when set.
type RentEstimate struct {
	ListingID        string           `json:"listingId"`
	ListingVersion   int64            `json:"listingVersion"`
	EstimatorVersion string           `json:"estimatorVersion"`
	Method           RentMethod       `json:"method"`
	P25              *float64         `json:"p25,omitempty"`
	P50              float64          `json:"p50"`
	P75              *float64         `json:"p75,omitempty"`
	Stdev            *float64         `json:"stdev,omitempty"`
	FeaturesUsed     EstimateFeatures `json:"featuresUsed"`
	ComputedAt       time.Time        `json:"computedAt"`
}
