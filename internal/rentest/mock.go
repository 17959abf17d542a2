package rentest

import (
	"context"
	"fmt"

	"github.com/propsignal/backend/internal/domain"
)

// StaticComps fabricates a deterministic comp set around the listing's
// own attributes, standing in for a rental comp feed in development.
// Rents spread around a per-bed anchor so the same listing always yields
// the same distribution.
type StaticComps struct{}

func (StaticComps) CompsNear(_ context.Context, l *domain.Listing, radiusKm float64, maxAgeDays int) ([]domain.Comp, error) {
	anchor := 1500.0 + float64(l.Beds)*380
	spreads := []float64{-180, -90, 0, 80, 160, 260}
	comps := make([]domain.Comp, 0, len(spreads))
	for i, d := range spreads {
		comps = append(comps, domain.Comp{
			ListingID:    fmt.Sprintf("%s-comp-%d", l.ID, i+1),
			MonthlyRent:  anchor + d,
			Beds:         l.Beds,
			Baths:        l.Baths,
			Sqft:         l.Sqft,
			PropertyType: l.PropertyType,
			City:         l.Address.City,
			FSA:          l.Address.FSA(),
			DistanceKm:   0.3 * float64(i+1),
			AgeDays:      10 * (i + 1),
		})
	}
	return comps, nil
}
