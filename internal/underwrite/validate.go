package underwrite

import (
	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/domain"
)

var validAmorts = map[int]bool{240: true, 300: true, 360: true}

// ValidateAssumptions enforces the declared ranges. Bounds are inclusive
// unless stated otherwise.
func ValidateAssumptions(a domain.Assumptions) error {
	if a.DownPct < 0.05 || a.DownPct > 0.35 {
		return apperr.Invalid("downPct %v outside [0.05, 0.35]", a.DownPct)
	}
	if a.RateBps < 100 || a.RateBps > 2000 {
		return apperr.Invalid("rateBps %d outside [100, 2000]", a.RateBps)
	}
	if !validAmorts[a.AmortMonths] {
		return apperr.Invalid("amortMonths %d not in {240, 300, 360}", a.AmortMonths)
	}
	switch a.RentScenario {
	case domain.ScenarioP25, domain.ScenarioP50, domain.ScenarioP75:
	default:
		return apperr.Invalid("rentScenario %q not in {P25, P50, P75}", a.RentScenario)
	}
	if a.MgmtPct != nil && (*a.MgmtPct < 0 || *a.MgmtPct > 0.5) {
		return apperr.Invalid("mgmtPct %v outside [0, 0.5]", *a.MgmtPct)
	}
	if a.ReservesMonthly != nil && *a.ReservesMonthly < 0 {
		return apperr.Invalid("reservesMonthly %v negative", *a.ReservesMonthly)
	}
	if a.ExitCapPct != nil && (*a.ExitCapPct <= 0 || *a.ExitCapPct > 0.2) {
		return apperr.Invalid("exitCapPct %v outside (0, 0.2]", *a.ExitCapPct)
	}
	if a.GrowthRentPct != nil && (*a.GrowthRentPct < -0.1 || *a.GrowthRentPct > 0.2) {
		return apperr.Invalid("growthRentPct %v outside [-0.1, 0.2]", *a.GrowthRentPct)
	}
	if a.GrowthExpensePct != nil && (*a.GrowthExpensePct < -0.1 || *a.GrowthExpensePct > 0.2) {
		return apperr.Invalid("growthExpensePct %v outside [-0.1, 0.2]", *a.GrowthExpensePct)
	}
	if a.HoldYears != nil && (*a.HoldYears < 1 || *a.HoldYears > 50) {
		return apperr.Invalid("holdYears %d outside [1, 50]", *a.HoldYears)
	}
	return nil
}
