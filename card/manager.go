package card

import (
	"context"
	"errors"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Cards
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for cards
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Card{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize card.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Create will insert a new card
func (m *Manager) Create(ctx context.Context, c *Card) error {
	result := m.db.WithContext(ctx).Create(c)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create a new Card")
	}
	return nil
}

// GetByID will try to return the card by id
func (m *Manager) GetByID(ctx context.Context, id string) (*Card, error) {
	var c Card
	result := m.db.WithContext(ctx).First(&c, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get card by id")
	}
	return &c, nil
}

// ListByUser returns all cards of a user, newest first
func (m *Manager) ListByUser(ctx context.Context, userID string) ([]Card, error) {
	results := make([]Card, 0, 1)
	result := m.db.WithContext(ctx).
		Order("created_at desc").
		Where("user_id = ?", userID).
		Find(&results)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list cards")
	}
	return results, nil
}

// CountActiveByUser returns the number of active cards a user currently has
func (m *Manager) CountActiveByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	result := m.db.WithContext(ctx).Model(&Card{}).
		Where("user_id = ?", userID).
		Where("active = ?", true).
		Count(&count)
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot count cards")
	}
	return count, nil
}

// Delete removes a card owned by the given user
func (m *Manager) Delete(ctx context.Context, userID, id string) error {
	result := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&Card{ID: id})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot delete card")
	}
	return nil
}

// SetActiveForUser flips the visibility of all of a user's cards when the
// entitlement changes. The update is idempotent so it is safe to re-apply
func (m *Manager) SetActiveForUser(ctx context.Context, userID string, active bool) error {
	result := m.db.WithContext(ctx).Model(&Card{}).
		Where("user_id = ?", userID).
		Update("active", active)
	if result.Error != nil {
		m.logger.Error("Unable to update card visibility",
			zap.String("UserID", userID),
			zap.Bool("Active", active),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot update card visibility")
	}
	return nil
}
