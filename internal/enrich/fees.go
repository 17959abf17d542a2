package enrich

import "github.com/propsignal/backend/internal/domain"

// Condo fee plausibility bounds, monthly dollars.
const (
	feeFloor = 50
	feeCeil  = 3000
)

// CheckFees flags implausible condo fees without rejecting the row.
// Downstream consumers decide how to treat flagged values.
func CheckFees(l *domain.Listing) *domain.FeeCheck {
	if l.CondoFeeMonthly == nil {
		if l.PropertyType == domain.PropertyCondo {
			return &domain.FeeCheck{SanityFlags: []string{"missing_condo_fee"}}
		}
		return nil
	}
	fee := *l.CondoFeeMonthly
	check := &domain.FeeCheck{CondoFeeMonthly: fee}
	switch {
	case fee < 0:
		check.SanityFlags = append(check.SanityFlags, "negative_fee")
	case fee > 0 && fee < feeFloor:
		check.SanityFlags = append(check.SanityFlags, "fee_below_floor")
	case fee > feeCeil:
		check.SanityFlags = append(check.SanityFlags, "fee_above_ceiling")
	}
	if fee > 0 && l.PropertyType == domain.PropertyHouse {
		check.SanityFlags = append(check.SanityFlags, "fee_on_freehold")
	}
	return check
}
