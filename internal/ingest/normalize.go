package ingest

import (
	"strings"
	"time"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/domain"
)

// Normalize maps a raw feed item onto the canonical Listing shape.
// Unrecognized statuses and property types are rejected rather than
// guessed.
func Normalize(item FeedItem, source string) (*domain.Listing, error) {
	if item.ID == "" {
		return nil, apperr.Invalid("feed item without id")
	}
	status, err := normalizeStatus(item.Status)
	if err != nil {
		return nil, err
	}
	ptype, err := normalizePropertyType(item.PropertyType)
	if err != nil {
		return nil, err
	}
	if item.ListPrice <= 0 {
		return nil, apperr.Invalid("feed item %s: non-positive price %f", item.ID, item.ListPrice)
	}

	listedAt, err := parseFeedTime(item.ListedAt)
	if err != nil {
		return nil, apperr.Invalid("feed item %s: bad listedAt %q", item.ID, item.ListedAt)
	}
	updatedAt, err := parseFeedTime(item.UpdatedAt)
	if err != nil {
		return nil, apperr.Invalid("feed item %s: bad updatedAt %q", item.ID, item.UpdatedAt)
	}

	l := &domain.Listing{
		ID:        item.ID,
		MLSNumber: item.MLSNumber,
		Source:    source,
		Status:    status,
		ListedAt:  listedAt,
		UpdatedAt: updatedAt,
		Address: domain.Address{
			Street:     strings.TrimSpace(item.Street),
			City:       strings.TrimSpace(item.City),
			Province:   strings.ToUpper(strings.TrimSpace(item.Province)),
			PostalCode: strings.ToUpper(strings.ReplaceAll(item.PostalCode, " ", "")),
			Country:    strings.TrimSpace(item.Country),
			Lat:        item.Lat,
			Lng:        item.Lng,
		},
		PropertyType:    ptype,
		Beds:            item.Beds,
		Baths:           item.Baths,
		Sqft:            item.Sqft,
		ListPrice:       item.ListPrice,
		TaxesAnnual:     item.TaxesAnnual,
		CondoFeeMonthly: item.CondoFeeMonthly,
		Brokerage:       item.Brokerage,
	}
	if len(item.Photos) > 0 {
		l.Media = &domain.Media{Photos: item.Photos}
	}
	return l, nil
}

func normalizeStatus(s string) (domain.ListingStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "for sale":
		return domain.StatusActive, nil
	case "sold":
		return domain.StatusSold, nil
	case "suspended":
		return domain.StatusSuspended, nil
	case "expired":
		return domain.StatusExpired, nil
	case "deleted", "removed":
		return domain.StatusDeleted, nil
	default:
		return "", apperr.Invalid("unknown listing status %q", s)
	}
}

func normalizePropertyType(s string) (domain.PropertyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "condo", "condo apt", "apartment":
		return domain.PropertyCondo, nil
	case "house", "detached", "semi-detached":
		return domain.PropertyHouse, nil
	case "townhouse", "att/row/twnhouse":
		return domain.PropertyTownhouse, nil
	default:
		return "", apperr.Invalid("unknown property type %q", s)
	}
}

func parseFeedTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}
