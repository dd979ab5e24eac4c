package registry

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/racegraph/platform/pkg/common/models"
	"gorm.io/gorm"
)

var ErrDriverNotFound = errors.New("driver not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&DriverModel{}, &RaceEventModel{}, &EventEntryModel{})
}

func (r *Repository) DriverByID(ctx context.Context, id uuid.UUID) (models.DriverRecord, error) {
	var driver DriverModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&driver).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DriverRecord{}, ErrDriverNotFound
	}
	if err != nil {
		return models.DriverRecord{}, err
	}
	return mapDriver(driver), nil
}

// DriversByEvent returns every driver with an entry in the event, the
// candidate set for one matching pass.
func (r *Repository) DriversByEvent(ctx context.Context, eventID uuid.UUID) ([]models.DriverRecord, error) {
	var drivers []DriverModel
	err := r.db.WithContext(ctx).
		Joins("JOIN event_entries ON event_entries.driver_id = drivers.id").
		Where("event_entries.event_id = ?", eventID).
		Find(&drivers).Error
	if err != nil {
		return nil, err
	}

	records := make([]models.DriverRecord, 0, len(drivers))
	for _, d := range drivers {
		records = append(records, mapDriver(d))
	}
	return records, nil
}

func (r *Repository) EntriesByEvent(ctx context.Context, eventID uuid.UUID) ([]models.EventEntryRef, error) {
	var entries []EventEntryModel
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	refs := make([]models.EventEntryRef, 0, len(entries))
	for _, e := range entries {
		refs = append(refs, models.EventEntryRef{
			DriverID:       e.DriverID,
			NormalizedName: e.NormalizedName,
		})
	}
	return refs, nil
}

func mapDriver(d DriverModel) models.DriverRecord {
	return models.DriverRecord{
		ID:                d.ID,
		DisplayName:       d.DisplayName,
		NormalizedName:    d.NormalizedName,
		TransponderNumber: d.TransponderNumber,
		Source:            d.Source,
		SourceDriverID:    d.SourceDriverID,
		Attributes:        map[string]interface{}(d.Attributes),
	}
}
