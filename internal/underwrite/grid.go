package underwrite

import (
	"math"

	"github.com/propsignal/backend/internal/config"
	"github.com/propsignal/backend/internal/domain"
)

// Bins enumerates the grid axes. Down percentages are rounded to four
// decimals and rates are integer bps so keys stay stable across runs.
type Bins struct {
	DownPct       []float64
	RateBps       []int
	AmortMonths   []int
	RentScenarios []domain.RentScenario
}

// BinsFrom builds the axes from configuration, falling back to the
// default ranges when a range is empty or inverted.
func BinsFrom(cfg config.UnderwriteConfig) Bins {
	downMin, downMax, downStep := cfg.DownPctMin, cfg.DownPctMax, cfg.DownPctStep
	if downStep <= 0 || downMax < downMin {
		downMin, downMax, downStep = 0.05, 0.35, 0.01
	}
	rateMin, rateMax, rateStep := cfg.RateBpsMin, cfg.RateBpsMax, cfg.RateBpsStep
	if rateStep <= 0 || rateMax < rateMin {
		rateMin, rateMax, rateStep = 300, 800, 5
	}
	amorts := cfg.AmortMonths
	if len(amorts) == 0 {
		amorts = []int{240, 300, 360}
	}

	var b Bins
	for d := downMin; d <= downMax+1e-9; d += downStep {
		b.DownPct = append(b.DownPct, RoundDownPct(d))
	}
	for r := rateMin; r <= rateMax; r += rateStep {
		b.RateBps = append(b.RateBps, r)
	}
	b.AmortMonths = append(b.AmortMonths, amorts...)
	b.RentScenarios = []domain.RentScenario{domain.ScenarioP25, domain.ScenarioP50, domain.ScenarioP75}
	return b
}

// ReferenceBin is the headline grid point quoted on grid-sourced
// completions and read back by the alerts matcher.
type ReferenceBin struct {
	DownPct     float64
	RateBps     int
	AmortMonths int
}

// Reference returns the headline bin (P50 rent, 20% down, mid-range
// rate, 360 months) snapped to the configured axes, so the point always
// exists in the computed grid even when the ranges exclude the ideal
// values.
func (b Bins) Reference() ReferenceBin {
	ref := ReferenceBin{DownPct: 0.20, RateBps: 550, AmortMonths: 360}
	if len(b.DownPct) > 0 {
		ref.DownPct = nearestDownPct(b.DownPct, ref.DownPct)
	}
	if len(b.RateBps) > 0 {
		ref.RateBps = b.RateBps[len(b.RateBps)/2]
	}
	if len(b.AmortMonths) > 0 {
		ref.AmortMonths = nearestAmort(b.AmortMonths, ref.AmortMonths)
	}
	return ref
}

func nearestDownPct(bins []float64, target float64) float64 {
	best := bins[0]
	for _, v := range bins[1:] {
		if math.Abs(v-target) < math.Abs(best-target) {
			best = v
		}
	}
	return best
}

func nearestAmort(bins []int, target int) int {
	best := bins[0]
	for _, v := range bins[1:] {
		if abs(v-target) < abs(best-target) {
			best = v
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// RoundDownPct normalizes a down payment fraction to the 4-decimal bin
// grid.
func RoundDownPct(d float64) float64 {
	return math.Round(d*10000) / 10000
}

// Size returns the total bin count.
func (b Bins) Size() int {
	return len(b.DownPct) * len(b.RateBps) * len(b.AmortMonths) * len(b.RentScenarios)
}

// ComputeGrid evaluates every bin against the base inputs. The AF cache
// is pre-filled for the unique (rate, amort) pairs so the inner loops
// never recompute a factor.
func ComputeGrid(base domain.BaseInputs, bins Bins, afs *AFCache) []domain.GridRow {
	for _, rate := range bins.RateBps {
		for _, amort := range bins.AmortMonths {
			afs.Get(rate, amort)
		}
	}

	rows := make([]domain.GridRow, 0, bins.Size())
	for _, scenario := range bins.RentScenarios {
		for _, down := range bins.DownPct {
			for _, rate := range bins.RateBps {
				for _, amort := range bins.AmortMonths {
					metrics := ComputeMetrics(base, domain.Assumptions{
						DownPct:      down,
						RateBps:      rate,
						AmortMonths:  amort,
						RentScenario: scenario,
					}, afs.Get(rate, amort))
					rows = append(rows, domain.GridRow{
						ListingID:      base.ListingID,
						ListingVersion: base.ListingVersion,
						RentScenario:   scenario,
						DownPctBin:     down,
						RateBpsBin:     rate,
						AmortMonths:    amort,
						Metrics:        metrics,
					})
				}
			}
		}
	}
	return rows
}
