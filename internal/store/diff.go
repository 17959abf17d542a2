package store

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/propsignal/backend/internal/domain"
)

// jsonEqual compares two values by their JSON form, which normalizes
// nil-vs-empty slices the same way JSONB columns do.
func jsonEqual(a, b interface{}) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return reflect.DeepEqual(a, b)
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(aj) == string(bj)
}

// RentEstimatesEqual reports whether two estimates carry the same
// content, ignoring ComputedAt.
func RentEstimatesEqual(a, b *domain.RentEstimate) bool {
	if a == nil || b == nil {
		return a == b
	}
	na, nb := *a, *b
	na.ComputedAt, nb.ComputedAt = time.Time{}, time.Time{}
	return jsonEqual(na, nb)
}

// DiffEnrichment lists the sub-objects that differ between old and new,
// ignoring ComputedAt. A nil old row marks every present sub-object as
// changed. Both store implementations use this so the changed-types
// semantics stay identical.
func DiffEnrichment(old, new *domain.Enrichment) []string {
	if old == nil {
		old = &domain.Enrichment{}
	}
	var changed []string
	add := func(name string, a, b interface{}) {
		if !jsonEqual(a, b) {
			changed = append(changed, name)
		}
	}
	add("geo", old.Geo, new.Geo)
	add("taxes", old.Taxes, new.Taxes)
	add("fees", old.Fees, new.Fees)
	add("rentPriors", old.RentPriors, new.RentPriors)
	add("locationScores", old.LocationScores, new.LocationScores)
	add("costRules", old.CostRules, new.CostRules)
	if old.ListingVersion != new.ListingVersion || old.EnrichmentVersion != new.EnrichmentVersion {
		changed = append(changed, "version")
	}
	return changed
}
