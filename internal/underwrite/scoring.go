package underwrite

import (
	"math"

	"github.com/propsignal/backend/internal/domain"
)

// Score collapses a metric set into [0, 100] with bounded per-factor
// contributions: cap rate up to 30, cash-on-cash up to 30, DSCR up to
// 25, positive cash flow up to 15. Pure and deterministic.
func Score(m domain.Metrics) float64 {
	score := clamp(m.CapRatePct/8*30, 0, 30)
	score += clamp(m.CashOnCashPct/10*30, 0, 30)
	score += clamp((m.DSCR-1)/0.5*25, 0, 25)
	if m.CashFlowAnnual > 0 {
		score += clamp(m.CashFlowAnnual/12000*15, 0, 15)
	}
	return math.Round(score*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
