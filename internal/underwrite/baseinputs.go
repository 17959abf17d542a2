package underwrite

import (
	"context"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/enrich"
	"github.com/propsignal/backend/internal/store"
)

// Transaction closing costs beyond land transfer tax, a flat allowance
// for legal and inspection fees.
const closingFlatCosts = 2500.0

// BaseInputsLoader joins listing + enrichment + rent estimate into the
// immutable per-version snapshot the compute paths consume.
type BaseInputsLoader struct {
	listings         store.ListingStore
	enrichments      store.EnrichmentStore
	estimates        store.RentEstimateStore
	insuranceMonthly float64
}

func NewBaseInputsLoader(listings store.ListingStore, enrichments store.EnrichmentStore, estimates store.RentEstimateStore, insuranceMonthly float64) *BaseInputsLoader {
	return &BaseInputsLoader{
		listings:         listings,
		enrichments:      enrichments,
		estimates:        estimates,
		insuranceMonthly: insuranceMonthly,
	}
}

// Load builds BaseInputs for the listing's current version. A missing
// rent estimate is a NotFound: the listing will be retried once the
// estimator catches up.
func (l *BaseInputsLoader) Load(ctx context.Context, listingID string) (domain.BaseInputs, error) {
	listing, err := l.listings.Get(ctx, listingID)
	if err != nil {
		return domain.BaseInputs{}, err
	}
	estimate, err := l.estimates.Get(ctx, listingID)
	if err != nil {
		return domain.BaseInputs{}, err
	}
	if estimate.P50 <= 0 {
		return domain.BaseInputs{}, apperr.NotFound("no usable rent estimate for listing %s", listingID)
	}

	// Enrichment is best-effort; defaults stand in for missing rows.
	var (
		taxes     float64
		condoFee  float64
		insurance = l.insuranceMonthly
		lttRule   = enrich.LTTFlat
	)
	if listing.TaxesAnnual != nil {
		taxes = *listing.TaxesAnnual
	}
	if listing.CondoFeeMonthly != nil {
		condoFee = *listing.CondoFeeMonthly
	}
	enrichment, err := l.enrichments.Get(ctx, listingID)
	if err == nil {
		if taxes == 0 && enrichment.Taxes != nil {
			taxes = enrichment.Taxes.AnnualEstimate
		}
		if enrichment.CostRules != nil {
			lttRule = enrichment.CostRules.LTTRule
			if enrichment.CostRules.InsuranceMonthlyEstimate > 0 {
				insurance = enrichment.CostRules.InsuranceMonthlyEstimate
			}
		}
	} else if !apperr.IsNotFound(err) {
		return domain.BaseInputs{}, err
	}

	expenses := taxes + condoFee*12 + insurance*12
	noi := func(rent *float64, fallback float64) float64 {
		monthly := fallback
		if rent != nil {
			monthly = *rent
		}
		return monthly*12 - expenses
	}

	return domain.BaseInputs{
		ListingID:      listing.ID,
		ListingVersion: listing.ListingVersion,
		Price:          listing.ListPrice,
		ClosingCosts:   enrich.LandTransferTax(lttRule, listing.ListPrice) + closingFlatCosts,
		NOIP25:         noi(estimate.P25, estimate.P50),
		NOIP50:         estimate.P50*12 - expenses,
		NOIP75:         noi(estimate.P75, estimate.P50),
		City:           listing.Address.City,
		Province:       listing.Address.Province,
		PropertyType:   listing.PropertyType,
	}, nil
}
