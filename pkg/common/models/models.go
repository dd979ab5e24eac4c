package models

import (
	"time"

	"github.com/google/uuid"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // entry-discovered, link-updated
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// UserIdentity carries the facts a user registered with: the raw driver
// name, its normalized comparison key, and an optional transponder number.
// NormalizedName is derived from DriverNameRaw and recomputed whenever the
// raw name changes; it is never edited directly.
type UserIdentity struct {
	UserID            uuid.UUID `json:"user_id"`
	DriverNameRaw     string    `json:"driver_name_raw"`
	NormalizedName    string    `json:"normalized_name"`
	TransponderNumber string    `json:"transponder_number,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DriverRecord is an identity extracted from third-party timing results.
// One real person may be represented by many of these (spelling variants,
// duplicates across tracks). Owned by the ingestion pipeline, read-only to
// the matching core.
type DriverRecord struct {
	ID                uuid.UUID              `json:"id"`
	DisplayName       string                 `json:"display_name"`
	NormalizedName    string                 `json:"normalized_name"`
	TransponderNumber string                 `json:"transponder_number,omitempty"`
	Source            string                 `json:"source"`
	SourceDriverID    string                 `json:"source_driver_id"`
	Attributes        map[string]interface{} `json:"attributes,omitempty"`
}

// EntryDiscovered is the payload of an entry-discovered event published by
// the ingestion pipeline when a driver entry is found in an event's results.
type EntryDiscovered struct {
	EventID uuid.UUID    `json:"event_id"`
	Driver  DriverRecord `json:"driver"`
}

// EventEntryRef is the (driver, normalized name) pair the ingestion
// collaborator recorded for one entry in an event's results.
type EventEntryRef struct {
	DriverID       uuid.UUID `json:"driver_id"`
	NormalizedName string    `json:"normalized_name"`
}

// LinkUpdated is published after a link record is created or its status
// changes, whether by the matcher or by an explicit user action.
type LinkUpdated struct {
	UserID    uuid.UUID `json:"user_id"`
	DriverID  uuid.UUID `json:"driver_id"`
	EventID   uuid.UUID `json:"event_id,omitempty"`
	Status    string    `json:"status"`
	MatchType string    `json:"match_type,omitempty"`
	Score     float64   `json:"score"`
	Actor     string    `json:"actor"` // matcher, user
}

// UpdateLinkRequest is the body of the confirm/reject endpoints.
type UpdateLinkRequest struct {
	Status string `json:"status"`
}

// BulkUpdateRequest targets several events in one call.
type BulkUpdateRequest struct {
	EventIDs []uuid.UUID `json:"event_ids"`
	Status   string      `json:"status"`
}
