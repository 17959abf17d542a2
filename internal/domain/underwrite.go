package domain

// RentScenario selects which rent percentile feeds NOI.
type RentScenario string

const (
	ScenarioP25 RentScenario = "P25"
	ScenarioP50 RentScenario = "P50"
	ScenarioP75 RentScenario = "P75"
)

// Assumptions are the underwriting knobs. Optional knobs are pointers so a
// canonical encoding can omit fields that were never supplied.
type Assumptions struct {
	DownPct          float64      `json:"downPct"`
	RateBps          int          `json:"rateBps"`
	AmortMonths      int          `json:"amortMonths"`
	RentScenario     RentScenario `json:"rentScenario"`
	MgmtPct          *float64     `json:"mgmtPct,omitempty"`
	ReservesMonthly  *float64     `json:"reservesMonthly,omitempty"`
	ExitCapPct       *float64     `json:"exitCapPct,omitempty"`
	GrowthRentPct    *float64     `json:"growthRentPct,omitempty"`
	GrowthExpensePct *float64     `json:"growthExpensePct,omitempty"`
	HoldYears        *int         `json:"holdYears,omitempty"`
}

// AssumptionSet is a persisted, named Assumptions row.
type AssumptionSet struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Assumptions Assumptions `json:"assumptions"`
}

// BaseInputs is the per-listing snapshot join of listing + enrichment +
// rent estimate at the moment an underwrite runs. Immutable for a given
// ListingVersion.
type BaseInputs struct {
	ListingID      string       `json:"listingId"`
	ListingVersion int64        `json:"listingVersion"`
	Price          float64      `json:"price"`
	ClosingCosts   float64      `json:"closingCosts"`
	NOIP25         float64      `json:"noiP25"`
	NOIP50         float64      `json:"noiP50"`
	NOIP75         float64      `json:"noiP75"`
	City           string       `json:"city"`
	Province       string       `json:"province"`
	PropertyType   PropertyType `json:"propertyType"`
}

// NOI returns the NOI for the given scenario.
func (b BaseInputs) NOI(s RentScenario) float64 {
	switch s {
	case ScenarioP25:
		return b.NOIP25
	case ScenarioP75:
		return b.NOIP75
	default:
		return b.NOIP50
	}
}

// Metrics is the full underwriting output for one assumption point.
type Metrics struct {
	Price           float64     `json:"price"`
	NOI             float64     `json:"noi"`
	CapRatePct      float64     `json:"capRatePct"`
	Loan            float64     `json:"loan"`
	DSAnnual        float64     `json:"dsAnnual"`
	CashFlowAnnual  float64     `json:"cashFlowAnnual"`
	DSCR            float64     `json:"dscr"`
	CashOnCashPct   float64     `json:"cashOnCashPct"`
	BreakevenOccPct float64     `json:"breakevenOccPct"`
	IRRPct          *float64    `json:"irrPct,omitempty"`
	Inputs          Assumptions `json:"inputs"`
}

// GridRow is one bin of the underwriting grid. The composite key is
// unique; rows with the same key are upserted, never appended.
type GridRow struct {
	ListingID      string       `json:"listingId"`
	ListingVersion int64        `json:"listingVersion"`
	RentScenario   RentScenario `json:"rentScenario"`
	DownPctBin     float64      `json:"downPctBin"`
	RateBpsBin     int          `json:"rateBpsBin"`
	AmortMonths    int          `json:"amortMonths"`
	Metrics        Metrics      `json:"metrics"`
}

// ExactResult is a content-addressed underwriting result keyed by
// (listingId, listingVersion, assumptionsHash).
type ExactResult struct {
	ResultID        string  `json:"resultId"`
	ListingID       string  `json:"listingId"`
	ListingVersion  int64   `json:"listingVersion"`
	AssumptionsHash string  `json:"assumptionsHash"`
	Metrics         Metrics `json:"metrics"`
}
