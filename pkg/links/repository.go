package links

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/racegraph/platform/pkg/common/logger"
	"gorm.io/gorm"
)

// Store is the persistence surface the lifecycle service works against.
// Lookups return (nil, nil) when no row exists; absence is a domain
// outcome, not an error, at this layer.
type Store interface {
	// InTx runs fn against a transactional view of the store. Every
	// read-modify-write of a link plus its orphan fan-out happens inside
	// one such unit.
	InTx(ctx context.Context, fn func(Store) error) error

	GetUserDriverLink(ctx context.Context, userID, driverID uuid.UUID) (*UserDriverLink, error)
	SaveUserDriverLink(ctx context.Context, link *UserDriverLink) error

	GetEventDriverLink(ctx context.Context, userID, eventID uuid.UUID) (*EventDriverLink, error)
	SaveEventDriverLink(ctx context.Context, link *EventDriverLink) error
	EventLinksByPair(ctx context.Context, userID, driverID uuid.UUID) ([]EventDriverLink, error)

	// AdoptOrphans points every EventDriverLink for (user,driver) that has
	// no aggregate reference at the given UserDriverLink. Idempotent; runs
	// on every aggregate update because event links for new events can
	// appear after the aggregate already exists.
	AdoptOrphans(ctx context.Context, userID, driverID, linkID uuid.UUID) (int64, error)

	CountDistinctEvents(ctx context.Context, userID, driverID uuid.UUID) (int64, error)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&UserDriverLink{}, &EventDriverLink{})
}

// InTx retries once on an untyped storage failure before surfacing it as
// INTERNAL; typed domain errors pass through untouched.
func (r *Repository) InTx(ctx context.Context, fn func(Store) error) error {
	run := func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&Repository{db: tx})
		})
	}

	err := run()
	if err == nil {
		return nil
	}

	var linkErr *Error
	if errors.As(err, &linkErr) {
		return err
	}

	logger.Log.WithError(err).Warn("link transaction failed, retrying once")
	if err = run(); err == nil {
		return nil
	}
	if errors.As(err, &linkErr) {
		return err
	}
	return internalErr(err, "link transaction failed")
}

func (r *Repository) GetUserDriverLink(ctx context.Context, userID, driverID uuid.UUID) (*UserDriverLink, error) {
	var link UserDriverLink
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND driver_id = ?", userID, driverID).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *Repository) SaveUserDriverLink(ctx context.Context, link *UserDriverLink) error {
	now := time.Now().UTC()
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	return r.db.WithContext(ctx).Save(link).Error
}

func (r *Repository) GetEventDriverLink(ctx context.Context, userID, eventID uuid.UUID) (*EventDriverLink, error) {
	var link EventDriverLink
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND event_id = ?", userID, eventID).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *Repository) SaveEventDriverLink(ctx context.Context, link *EventDriverLink) error {
	now := time.Now().UTC()
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	return r.db.WithContext(ctx).Save(link).Error
}

func (r *Repository) EventLinksByPair(ctx context.Context, userID, driverID uuid.UUID) ([]EventDriverLink, error) {
	var links []EventDriverLink
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND driver_id = ?", userID, driverID).
		Order("matched_at ASC").
		Find(&links).Error
	return links, err
}

func (r *Repository) AdoptOrphans(ctx context.Context, userID, driverID, linkID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&EventDriverLink{}).
		Where("user_id = ? AND driver_id = ? AND user_driver_link_id IS NULL", userID, driverID).
		Updates(map[string]interface{}{
			"user_driver_link_id": linkID,
			"updated_at":          time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (r *Repository) CountDistinctEvents(ctx context.Context, userID, driverID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&EventDriverLink{}).
		Where("user_id = ? AND driver_id = ?", userID, driverID).
		Distinct("event_id").
		Count(&count).Error
	return count, err
}
