package links

import (
	"time"

	"github.com/google/uuid"
	"github.com/racegraph/platform/pkg/matching"
)

// LinkStatus is the closed set of link states. Conflict is reserved: the
// field set carries it for forward compatibility but no rule currently
// produces it. Two confirmed claims on one driver await a product
// decision on precedence.
type LinkStatus string

const (
	StatusSuggested LinkStatus = "suggested"
	StatusConfirmed LinkStatus = "confirmed"
	StatusRejected  LinkStatus = "rejected"
	StatusConflict  LinkStatus = "conflict"
)

func (s LinkStatus) Valid() bool {
	switch s {
	case StatusSuggested, StatusConfirmed, StatusRejected, StatusConflict:
		return true
	}
	return false
}

// UserSettable reports whether a user action may request this status.
func (s LinkStatus) UserSettable() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// UserDriverLink is the durable aggregate decision "this driver record IS
// this user", backed by evidence from one or more EventDriverLinks. It is
// the single source of truth for the pairing; per-event links may override
// individual events without touching it.
type UserDriverLink struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID  `gorm:"type:uuid;uniqueIndex:idx_user_driver" json:"user_id"`
	DriverID        uuid.UUID  `gorm:"type:uuid;uniqueIndex:idx_user_driver" json:"driver_id"`
	Status          LinkStatus `gorm:"index" json:"status"`
	SimilarityScore float64    `gorm:"column:similarity_score" json:"similarity_score"`
	MatchedAt       time.Time  `json:"matched_at"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	ConflictReason  string     `json:"conflict_reason,omitempty"`
	MatcherID       string     `json:"matcher_id"`
	MatcherVersion  string     `json:"matcher_version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (UserDriverLink) TableName() string {
	return "user_driver_links"
}

// EventDriverLink is the per-event candidate association between a user and
// the driver entry discovered in that event's results. Created at most once
// per (user,event); independently confirmable or rejectable so a user can
// dispute a single event's attribution without giving up the aggregate
// link.
type EventDriverLink struct {
	ID               uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           uuid.UUID          `gorm:"type:uuid;uniqueIndex:idx_user_event" json:"user_id"`
	EventID          uuid.UUID          `gorm:"type:uuid;uniqueIndex:idx_user_event" json:"event_id"`
	DriverID         uuid.UUID          `gorm:"type:uuid;index" json:"driver_id"`
	MatchType        matching.MatchType `json:"match_type"`
	SimilarityScore  float64            `gorm:"column:similarity_score" json:"similarity_score"`
	Status           LinkStatus         `gorm:"index" json:"status"`
	MatchedAt        time.Time          `json:"matched_at"`
	ConfirmedAt      *time.Time         `json:"confirmed_at,omitempty"`
	RejectedAt       *time.Time         `json:"rejected_at,omitempty"`
	UserDriverLinkID *uuid.UUID         `gorm:"type:uuid;index" json:"user_driver_link_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

func (EventDriverLink) TableName() string {
	return "event_driver_links"
}

// BulkItemResult is the per-event outcome of a bulk confirm/reject.
type BulkItemResult struct {
	EventID uuid.UUID  `json:"event_id"`
	Status  LinkStatus `json:"status,omitempty"`
	Error   string     `json:"error,omitempty"`
	Kind    Kind       `json:"kind,omitempty"`
}

// BulkResult aggregates partial success: already-applied updates are never
// rolled back when other items fail.
type BulkResult struct {
	Results   []BulkItemResult `json:"results"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}
