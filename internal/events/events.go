// Package events defines the event envelope and the fixed topic payloads
// that services exchange over the bus. Payload schemas are versioned via
// the envelope's Version field; parsing is the only place permissive
// typing is tolerated.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/propsignal/backend/internal/domain"
)

// Topic names an event stream.
type Topic string

const (
	TopicListingChanged      Topic = "listing_changed"
	TopicDataEnriched        Topic = "data_enriched"
	TopicUnderwriteRequested Topic = "underwrite_requested"
	TopicUnderwriteCompleted Topic = "underwrite_completed"
	TopicAlertFired          Topic = "alert_fired"
)

// SchemaVersion is the current payload schema version stamped on every
// envelope.
const SchemaVersion = 1

// Envelope wraps every published payload. Key carries the entity id used
// for per-key ordering and debouncing.
type Envelope struct {
	Type      Topic           `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Version   int             `json:"version"`
	Key       string          `json:"key,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// New builds an envelope for the given topic and payload. key is the
// entity id the event is about.
func New(topic Topic, key string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return &Envelope{
		Type:      topic,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Version:   SchemaVersion,
		Key:       key,
		Data:      data,
	}, nil
}

// ListingChanged is published by the ingestor after a diff-upsert wrote a
// new listing version.
type ListingChanged struct {
	ID        string              `json:"id"`
	UpdatedAt time.Time           `json:"updatedAt"`
	Change    domain.ChangeType   `json:"change"`
	Source    string              `json:"source"`
	Dirty     []domain.DirtyField `json:"dirty"`
}

// DataEnriched is published by the enrichment service when the enrichment
// row changed.
type DataEnriched struct {
	ID              string    `json:"id"`
	EnrichmentTypes []string  `json:"enrichmentTypes"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// UnderwriteRequested asks the underwriting engine for a recompute. With
// AssumptionsID set it runs the exact path, otherwise the grid.
type UnderwriteRequested struct {
	ID            string `json:"id"`
	AssumptionsID string `json:"assumptionsId,omitempty"`
}

// UnderwriteCompleted announces a finished computation. Source is "grid"
// or "exact".
type UnderwriteCompleted struct {
	ID       string   `json:"id"`
	ResultID string   `json:"resultId"`
	Source   string   `json:"source"`
	Score    *float64 `json:"score,omitempty"`
}

// AlertFired records one per-channel alert dispatch.
type AlertFired struct {
	UserID    string         `json:"userId"`
	ListingID string         `json:"listingId"`
	ResultID  string         `json:"resultId"`
	Channel   domain.Channel `json:"channel"`
}
