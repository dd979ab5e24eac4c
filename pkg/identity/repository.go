package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/racegraph/platform/pkg/common/models"
	"github.com/racegraph/platform/pkg/matching"
	"gorm.io/gorm"
)

var ErrProfileNotFound = errors.New("racing profile not found")

// RacingProfileModel stores the identity facts a user registered with.
// NormalizedName is derived from DriverNameRaw on every write; it is never
// accepted from callers.
type RacingProfileModel struct {
	UserID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	DriverNameRaw     string
	NormalizedName    string `gorm:"index"`
	TransponderNumber string `gorm:"index"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (RacingProfileModel) TableName() string {
	return "user_racing_profiles"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&RacingProfileModel{})
}

func (r *Repository) GetIdentity(ctx context.Context, userID uuid.UUID) (models.UserIdentity, error) {
	var profile RacingProfileModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.UserIdentity{}, ErrProfileNotFound
	}
	if err != nil {
		return models.UserIdentity{}, err
	}
	return mapProfile(profile), nil
}

// UpsertIdentity writes the raw facts and recomputes the normalized key.
func (r *Repository) UpsertIdentity(ctx context.Context, userID uuid.UUID, driverNameRaw, transponderNumber string) (models.UserIdentity, error) {
	now := time.Now().UTC()
	profile := RacingProfileModel{
		UserID:            userID,
		DriverNameRaw:     strings.TrimSpace(driverNameRaw),
		NormalizedName:    matching.Normalize(driverNameRaw),
		TransponderNumber: strings.TrimSpace(transponderNumber),
		UpdatedAt:         now,
	}

	var existing RacingProfileModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		profile.CreatedAt = now
		err = r.db.WithContext(ctx).Create(&profile).Error
	case err == nil:
		profile.CreatedAt = existing.CreatedAt
		err = r.db.WithContext(ctx).Save(&profile).Error
	}
	if err != nil {
		return models.UserIdentity{}, err
	}
	return mapProfile(profile), nil
}

func (r *Repository) ListIdentities(ctx context.Context) ([]models.UserIdentity, error) {
	var profiles []RacingProfileModel
	if err := r.db.WithContext(ctx).Find(&profiles).Error; err != nil {
		return nil, err
	}
	identities := make([]models.UserIdentity, 0, len(profiles))
	for _, p := range profiles {
		identities = append(identities, mapProfile(p))
	}
	return identities, nil
}

func mapProfile(p RacingProfileModel) models.UserIdentity {
	return models.UserIdentity{
		UserID:            p.UserID,
		DriverNameRaw:     p.DriverNameRaw,
		NormalizedName:    p.NormalizedName,
		TransponderNumber: p.TransponderNumber,
		UpdatedAt:         p.UpdatedAt,
	}
}
