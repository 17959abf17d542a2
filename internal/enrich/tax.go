package enrich

import (
	"strings"

	"github.com/propsignal/backend/internal/domain"
)

// Residential property tax rates as a fraction of assessed value. City
// rates win over the province default; an unknown province falls back to
// a flat 1% with method "unknown".
var cityTaxRates = map[string]float64{
	"toronto":     0.0063,
	"mississauga": 0.0089,
	"oshawa":      0.0131,
	"ottawa":      0.0112,
	"hamilton":    0.0127,
	"vancouver":   0.0028,
	"calgary":     0.0065,
	"montreal":    0.0059,
}

var provinceTaxRates = map[string]float64{
	"ON": 0.011,
	"BC": 0.005,
	"AB": 0.0075,
	"QC": 0.0085,
}

const unknownTaxRate = 0.01

// EstimateAnnualTax derives the annual property tax from assessed value
// via the rate tables.
func EstimateAnnualTax(city, province string, assessedValue float64) domain.TaxEstimate {
	if rate, ok := cityTaxRates[strings.ToLower(city)]; ok {
		return domain.TaxEstimate{AnnualEstimate: assessedValue * rate, Method: domain.TaxRateTable}
	}
	if rate, ok := provinceTaxRates[strings.ToUpper(province)]; ok {
		return domain.TaxEstimate{AnnualEstimate: assessedValue * rate, Method: domain.TaxRateTable}
	}
	return domain.TaxEstimate{AnnualEstimate: assessedValue * unknownTaxRate, Method: domain.TaxUnknown}
}
