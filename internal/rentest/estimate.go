package rentest

import (
	"time"

	"github.com/propsignal/backend/internal/domain"
)

// Per-bedroom fallback formula coefficients, monthly dollars. Used only
// when both comps and priors are unavailable.
const (
	perBedBase   = 1200.0
	perBedAmount = 400.0
)

// estimateFromComps builds an estimate from an already-filtered comp set.
func estimateFromComps(l *domain.Listing, comps []domain.Comp, estimatorVersion string, now time.Time) *domain.RentEstimate {
	p25, p50, p75, stdev := compDistribution(comps)
	return &domain.RentEstimate{
		ListingID:        l.ID,
		ListingVersion:   l.ListingVersion,
		EstimatorVersion: estimatorVersion,
		Method:           domain.RentMethodComps,
		P25:              &p25,
		P50:              p50,
		P75:              &p75,
		Stdev:            &stdev,
		FeaturesUsed:     domain.EstimateFeatures{Comps: comps},
		ComputedAt:       now,
	}
}

func estimateFromPriors(l *domain.Listing, priors *domain.RentPriors, estimatorVersion string, now time.Time) *domain.RentEstimate {
	p25, p75 := priors.P25, priors.P75
	return &domain.RentEstimate{
		ListingID:        l.ID,
		ListingVersion:   l.ListingVersion,
		EstimatorVersion: estimatorVersion,
		Method:           domain.RentMethodPriors,
		P25:              &p25,
		P50:              priors.P50,
		P75:              &p75,
		FeaturesUsed:     domain.EstimateFeatures{PriorsUsed: priors},
		ComputedAt:       now,
	}
}

// estimateFromFormula is the last-resort per-bedroom model.
func estimateFromFormula(l *domain.Listing, estimatorVersion string, now time.Time) *domain.RentEstimate {
	p50 := perBedBase + float64(l.Beds)*perBedAmount
	p25 := p50 * 0.9
	p75 := p50 * 1.1
	return &domain.RentEstimate{
		ListingID:        l.ID,
		ListingVersion:   l.ListingVersion,
		EstimatorVersion: estimatorVersion,
		Method:           domain.RentMethodModel,
		P25:              &p25,
		P50:              p50,
		P75:              &p75,
		FeaturesUsed:     domain.EstimateFeatures{PerBedBase: perBedBase, PerBedAmount: perBedAmount},
		ComputedAt:       now,
	}
}

// MaterialChange reports whether the new estimate shifts enough to
// warrant a downstream recompute: the median moved at least 3% relative
// to the old one, or the estimation method changed.
func MaterialChange(old, new *domain.RentEstimate) bool {
	if old == nil {
		return true
	}
	if old.Method != new.Method {
		return true
	}
	denom := old.P50
	if denom < 1 {
		denom = 1
	}
	shift := new.P50 - old.P50
	if shift < 0 {
		shift = -shift
	}
	return shift/denom >= 0.03
}
