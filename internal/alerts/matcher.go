// Package alerts evaluates underwrite_completed results against active
// saved searches and dispatches matched alerts per channel.
package alerts

import (
	"fmt"
	"strings"

	"github.com/propsignal/backend/internal/domain"
)

// MatchFilter reports whether the listing snapshot satisfies every
// present filter field. Strings compare case-insensitively; numeric
// bounds are inclusive.
func MatchFilter(f domain.SearchFilter, snap domain.ListingSnapshot) bool {
	if f.City != "" && !strings.EqualFold(f.City, snap.City) {
		return false
	}
	if f.Province != "" && !strings.EqualFold(f.Province, snap.Province) {
		return false
	}
	if f.PropertyType != nil && *f.PropertyType != snap.PropertyType {
		return false
	}
	if f.MinBeds != nil && snap.Beds < *f.MinBeds {
		return false
	}
	if f.MaxBeds != nil && snap.Beds > *f.MaxBeds {
		return false
	}
	if f.MinPrice != nil && snap.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && snap.Price > *f.MaxPrice {
		return false
	}
	return true
}

// MatchThresholds checks every present threshold against the metrics.
// On success it returns the matched labels for the user-visible
// explanation; on any miss it returns ok=false.
func MatchThresholds(t domain.Thresholds, m domain.Metrics, score *float64) ([]string, bool) {
	var matched []string
	if t.MinDSCR != nil {
		if m.DSCR < *t.MinDSCR {
			return nil, false
		}
		matched = append(matched, fmt.Sprintf("dscr>=%g", *t.MinDSCR))
	}
	if t.MinCoC != nil {
		if m.CashOnCashPct < *t.MinCoC {
			return nil, false
		}
		matched = append(matched, fmt.Sprintf("coc>=%g", *t.MinCoC))
	}
	if t.MinCapRate != nil {
		if m.CapRatePct < *t.MinCapRate {
			return nil, false
		}
		matched = append(matched, fmt.Sprintf("caprate>=%g", *t.MinCapRate))
	}
	if t.MinScore != nil {
		if score == nil || *score < *t.MinScore {
			return nil, false
		}
		matched = append(matched, fmt.Sprintf("score>=%g", *t.MinScore))
	}
	if t.RequireNonNegativeCF {
		if m.CashFlowAnnual < 0 {
			return nil, false
		}
		matched = append(matched, "cf>=0")
	}
	return matched, true
}
