package enrich

import (
	"strings"

	"github.com/propsignal/backend/internal/domain"
)

// Land transfer tax rule identifiers. Toronto layers a municipal LTT on
// top of the provincial one.
const (
	LTTOntarioToronto  = "on_plus_toronto"
	LTTOntario         = "on"
	LTTBritishColumbia = "bc"
	LTTFlat            = "flat"
)

// CostRulesFor attaches the closing-cost rules for a listing's market.
func CostRulesFor(l *domain.Listing) *domain.CostRules {
	rules := &domain.CostRules{
		LTTRule:                  lttRule(l.Address.City, l.Address.Province),
		InsuranceMonthlyEstimate: insuranceMonthly(l),
	}
	return rules
}

func lttRule(city, province string) string {
	if strings.EqualFold(city, "toronto") {
		return LTTOntarioToronto
	}
	switch strings.ToUpper(province) {
	case "ON":
		return LTTOntario
	case "BC":
		return LTTBritishColumbia
	default:
		return LTTFlat
	}
}

func insuranceMonthly(l *domain.Listing) float64 {
	switch l.PropertyType {
	case domain.PropertyCondo:
		return 55
	case domain.PropertyTownhouse:
		return 95
	default:
		return 130
	}
}

// LandTransferTax computes the LTT for a price under a rule. Ontario's
// marginal brackets are applied exactly; the flat rule is a 1.5%
// approximation for markets without a table.
func LandTransferTax(rule string, price float64) float64 {
	switch rule {
	case LTTOntarioToronto:
		return ontarioLTT(price) * 2
	case LTTOntario:
		return ontarioLTT(price)
	case LTTBritishColumbia:
		return bcLTT(price)
	default:
		return price * 0.015
	}
}

func ontarioLTT(price float64) float64 {
	brackets := []struct {
		upTo float64
		rate float64
	}{
		{55000, 0.005},
		{250000, 0.01},
		{400000, 0.015},
		{2000000, 0.02},
		{0, 0.025},
	}
	var tax, prev float64
	for _, b := range brackets {
		limit := b.upTo
		if limit == 0 || price < limit {
			limit = price
		}
		if limit > prev {
			tax += (limit - prev) * b.rate
			prev = limit
		}
		if prev >= price {
			break
		}
	}
	return tax
}

func bcLTT(price float64) float64 {
	var tax float64
	if price > 200000 {
		tax += 200000 * 0.01
		if price > 2000000 {
			tax += (2000000 - 200000) * 0.02
			tax += (price - 2000000) * 0.03
		} else {
			tax += (price - 200000) * 0.02
		}
	} else {
		tax = price * 0.01
	}
	return tax
}
