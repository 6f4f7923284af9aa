package contact

import (
	"context"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Contacts
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for contacts
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Contact{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize contact.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Create will insert a new contact
func (m *Manager) Create(ctx context.Context, c *Contact) error {
	result := m.db.WithContext(ctx).Create(c)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create a new Contact")
	}
	return nil
}

// GetByID will try to return the contact by id
func (m *Manager) GetByID(ctx context.Context, id string) (*Contact, error) {
	var c Contact
	result := m.db.WithContext(ctx).First(&c, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get contact by id")
	}
	return &c, nil
}

// ListOption describes the pagination for listing contacts
type ListOption struct {
	UserID string
	Before time.Time
	Limit  int
}

// List returns a user's contacts, newest first
func (m *Manager) List(ctx context.Context, opt ListOption) ([]Contact, error) {
	if len(opt.UserID) == 0 {
		return nil, fmt.Errorf("ListOption.UserID is required")
	}
	baseQuery := m.db.WithContext(ctx).
		Order("created_at desc").
		Where("user_id = ?", opt.UserID)
	if opt.Limit > 0 {
		baseQuery = baseQuery.Limit(opt.Limit)
	}
	if !opt.Before.IsZero() {
		baseQuery = baseQuery.Where("created_at < ?", opt.Before)
	}

	results := make([]Contact, 0, 1)
	result := baseQuery.Find(&results)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list contacts")
	}
	return results, nil
}

// Delete removes a contact owned by the given user
func (m *Manager) Delete(ctx context.Context, userID, id string) error {
	result := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&Contact{ID: id})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot delete contact")
	}
	return nil
}
