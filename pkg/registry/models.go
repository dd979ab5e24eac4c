package registry

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Tables in this package are owned by the ingestion pipeline; the matching
// core only reads them.

type DriverModel struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	DisplayName       string
	NormalizedName    string `gorm:"index"`
	TransponderNumber string `gorm:"index"`
	Source            string
	SourceDriverID    string            `gorm:"index"`
	Attributes        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (DriverModel) TableName() string {
	return "drivers"
}

type RaceEventModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TrackName string
	Name      string
	Source    string
	HeldAt    time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (RaceEventModel) TableName() string {
	return "race_events"
}

type EventEntryModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventID        uuid.UUID `gorm:"type:uuid;index"`
	DriverID       uuid.UUID `gorm:"type:uuid;index"`
	NormalizedName string    `gorm:"index"`
	CreatedAt      time.Time
}

func (EventEntryModel) TableName() string {
	return "event_entries"
}
