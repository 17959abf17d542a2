// Package underwrite computes investment metrics per listing: a
// vectorized grid over binned assumptions plus a content-addressed exact
// cache keyed by the canonical assumptions hash.
package underwrite

import (
	"math"
	"sync"

	"github.com/propsignal/backend/internal/domain"
)

// AnnuityFactor is the monthly payment per unit loan for a fixed-rate
// fully amortizing mortgage. A zero rate degenerates to straight-line
// amortization.
func AnnuityFactor(rateBps, amortMonths int) float64 {
	n := float64(amortMonths)
	r := float64(rateBps) / 10000 / 12
	if r == 0 {
		return 1 / n
	}
	pow := math.Pow(1+r, n)
	return r * pow / (pow - 1)
}

type afKey struct {
	rateBps     int
	amortMonths int
}

// AFCache memoizes annuity factors. Values are immutable once computed,
// so a stale read under a racing fill is still correct.
type AFCache struct {
	mu      sync.RWMutex
	factors map[afKey]float64
}

func NewAFCache() *AFCache {
	return &AFCache{factors: make(map[afKey]float64)}
}

func (c *AFCache) Get(rateBps, amortMonths int) float64 {
	key := afKey{rateBps, amortMonths}
	c.mu.RLock()
	af, ok := c.factors[key]
	c.mu.RUnlock()
	if ok {
		return af
	}
	af = AnnuityFactor(rateBps, amortMonths)
	c.mu.Lock()
	c.factors[key] = af
	c.mu.Unlock()
	return af
}

// ComputeMetrics derives the full metric set for one assumption point.
func ComputeMetrics(base domain.BaseInputs, a domain.Assumptions, af float64) domain.Metrics {
	noi := base.NOI(a.RentScenario)
	if a.MgmtPct != nil {
		noi *= 1 - *a.MgmtPct
	}
	if a.ReservesMonthly != nil {
		noi -= *a.ReservesMonthly * 12
	}

	loan := base.Price * (1 - a.DownPct)
	downPayment := base.Price - loan
	cashInvested := downPayment + base.ClosingCosts

	dsAnnual := loan * af * 12
	cashFlow := noi - dsAnnual

	var dscr float64
	if dsAnnual > 0 {
		dscr = noi / dsAnnual
	}
	var coc float64
	if cashInvested > 0 {
		coc = cashFlow / cashInvested * 100
	}
	var breakeven float64
	if noi > 0 {
		breakeven = math.Min(100, dsAnnual/noi*100)
	} else {
		breakeven = 100
	}

	return domain.Metrics{
		Price:           base.Price,
		NOI:             noi,
		CapRatePct:      noi / base.Price * 100,
		Loan:            loan,
		DSAnnual:        dsAnnual,
		CashFlowAnnual:  cashFlow,
		DSCR:            dscr,
		CashOnCashPct:   coc,
		BreakevenOccPct: breakeven,
		Inputs:          a,
	}
}
