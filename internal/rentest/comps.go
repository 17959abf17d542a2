// Package rentest estimates market rent per listing as a P25/P50/P75
// distribution, preferring nearby comparables, then enrichment priors,
// then a per-bedroom formula.
package rentest

import (
	"context"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/propsignal/backend/internal/config"
	"github.com/propsignal/backend/internal/domain"
)

// CompSource supplies candidate rental comparables near a listing.
type CompSource interface {
	CompsNear(ctx context.Context, l *domain.Listing, radiusKm float64, maxAgeDays int) ([]domain.Comp, error)
}

// FilterComps keeps comparables within the similarity envelope: beds
// within 1, baths within 1, sqft within 20%, same property type, and
// same city or FSA.
func FilterComps(l *domain.Listing, comps []domain.Comp, cfg config.RentConfig) []domain.Comp {
	var out []domain.Comp
	for _, c := range comps {
		if c.DistanceKm > cfg.MaxDistanceKm || c.AgeDays > cfg.MaxAgeDays {
			continue
		}
		if c.PropertyType != l.PropertyType {
			continue
		}
		if abs(c.Beds-l.Beds) > 1 || math.Abs(c.Baths-l.Baths) > 1 {
			continue
		}
		if l.Sqft != nil && c.Sqft != nil {
			lo, hi := float64(*l.Sqft)*0.8, float64(*l.Sqft)*1.2
			if s := float64(*c.Sqft); s < lo || s > hi {
				continue
			}
		}
		if !strings.EqualFold(c.City, l.Address.City) && !strings.EqualFold(c.FSA, l.Address.FSA()) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// compDistribution computes the percentile distribution over comp rents.
// Caller guarantees len(comps) > 0.
func compDistribution(comps []domain.Comp) (p25, p50, p75, stdev float64) {
	rents := make([]float64, len(comps))
	for i, c := range comps {
		rents[i] = c.MonthlyRent
	}
	sort.Float64s(rents)
	p25 = stat.Quantile(0.25, stat.Empirical, rents, nil)
	p50 = stat.Quantile(0.50, stat.Empirical, rents, nil)
	p75 = stat.Quantile(0.75, stat.Empirical, rents, nil)
	stdev = stat.StdDev(rents, nil)
	if math.IsNaN(stdev) {
		stdev = 0
	}
	return p25, p50, p75, stdev
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
