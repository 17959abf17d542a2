package domain

import "time"

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelDevBrowser Channel = "devbrowser"
	ChannelEmail      Channel = "email"
	ChannelSMS        Channel = "sms"
	ChannelSlack      Channel = "slack"
)

// SearchFilter restricts which listings a saved search matches. Every
// present field must match; string fields compare case-insensitively,
// numeric min/max bounds are inclusive.
type SearchFilter struct {
	City         string        `json:"city,omitempty"`
	Province     string        `json:"province,omitempty"`
	PropertyType *PropertyType `json:"propertyType,omitempty"`
	MinBeds      *int          `json:"minBeds,omitempty"`
	MaxBeds      *int          `json:"maxBeds,omitempty"`
	MinPrice     *float64      `json:"minPrice,omitempty"`
	MaxPrice     *float64      `json:"maxPrice,omitempty"`
}

// Thresholds are the numeric gates a result must clear to fire an alert.
type Thresholds struct {
	MinDSCR              *float64 `json:"minDSCR,omitempty"`
	MinCoC               *float64 `json:"minCoC,omitempty"`
	MinCapRate           *float64 `json:"minCapRate,omitempty"`
	MinScore             *float64 `json:"minScore,omitempty"`
	RequireNonNegativeCF bool     `json:"requireNonNegativeCF,omitempty"`
}

// NotifyConfig selects delivery channels for a saved search.
type NotifyConfig struct {
	Channels []Channel `json:"channels"`
}

// SavedSearch is a user's standing query over underwriting results.
type SavedSearch struct {
	ID         string       `json:"id"`
	UserID     string       `json:"userId"`
	Name       string       `json:"name"`
	Filter     SearchFilter `json:"filter"`
	Thresholds Thresholds   `json:"thresholds"`
	Notify     NotifyConfig `json:"notify"`
	IsActive   bool         `json:"isActive"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// DeliveryState tracks one channel's dispatch outcome.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

// ChannelDelivery is the per-channel record on an alert.
type ChannelDelivery struct {
	Channel   Channel       `json:"channel"`
	State     DeliveryState `json:"state"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"lastError,omitempty"`
}

// AlertPayload is the user-visible snapshot attached to an alert.
type AlertPayload struct {
	Snapshot ListingSnapshot `json:"snapshot"`
	Metrics  Metrics         `json:"metrics"`
	Score    *float64        `json:"score,omitempty"`
	Matched  []string        `json:"matched"`
}

// ListingSnapshot is the subset of listing fields the matcher evaluates
// and the alert payload carries.
type ListingSnapshot struct {
	ListingID    string       `json:"listingId"`
	City         string       `json:"city"`
	Province     string       `json:"province"`
	PropertyType PropertyType `json:"propertyType"`
	Beds         int          `json:"beds"`
	Baths        float64      `json:"baths"`
	Price        float64      `json:"price"`
}

// Alert is one fired notification. Invariant: at most one alert exists
// per (UserID, ListingID, ResultID).
type Alert struct {
	ID            string            `json:"id"`
	UserID        string            `json:"userId"`
	SavedSearchID string            `json:"savedSearchId"`
	ListingID     string            `json:"listingId"`
	ResultID      string            `json:"resultId"`
	Payload       AlertPayload      `json:"payload"`
	Delivery      []ChannelDelivery `json:"delivery"`
	TriggeredAt   time.Time         `json:"triggeredAt"`
}
