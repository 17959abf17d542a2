package ingest

import (
	"reflect"

	"github.com/propsignal/backend/internal/domain"
)

// DiffListing classifies what changed between the stored row and the
// incoming one. A nil old row is a create with every populated field
// dirty. When status is the only dirty field the change is
// status_change.
func DiffListing(old, new *domain.Listing) (domain.ChangeType, []domain.DirtyField) {
	if old == nil {
		dirty := []domain.DirtyField{domain.DirtyPrice, domain.DirtyStatus, domain.DirtyAddress}
		if new.CondoFeeMonthly != nil {
			dirty = append(dirty, domain.DirtyFees)
		}
		if new.TaxesAnnual != nil {
			dirty = append(dirty, domain.DirtyTax)
		}
		if new.Media != nil {
			dirty = append(dirty, domain.DirtyMedia)
		}
		return domain.ChangeCreate, dirty
	}

	var dirty []domain.DirtyField
	if old.ListPrice != new.ListPrice {
		dirty = append(dirty, domain.DirtyPrice)
	}
	if old.Status != new.Status {
		dirty = append(dirty, domain.DirtyStatus)
	}
	if !floatPtrEqual(old.CondoFeeMonthly, new.CondoFeeMonthly) {
		dirty = append(dirty, domain.DirtyFees)
	}
	if !floatPtrEqual(old.TaxesAnnual, new.TaxesAnnual) {
		dirty = append(dirty, domain.DirtyTax)
	}
	if !reflect.DeepEqual(old.Media, new.Media) {
		dirty = append(dirty, domain.DirtyMedia)
	}
	if !addressEqual(old.Address, new.Address) {
		dirty = append(dirty, domain.DirtyAddress)
	}

	change := domain.ChangeUpdate
	if len(dirty) == 1 && dirty[0] == domain.DirtyStatus {
		change = domain.ChangeStatusChange
	}
	return change, dirty
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func addressEqual(a, b domain.Address) bool {
	la, lb := a.Lat, b.Lat
	ga, gb := a.Lng, b.Lng
	a.Lat, a.Lng, b.Lat, b.Lng = nil, nil, nil, nil
	return a == b && floatPtrEqual(la, lb) && floatPtrEqual(ga, gb)
}
