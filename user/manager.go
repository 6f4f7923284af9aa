package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Users
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for users
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize user.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Create will insert a new user record at signup
func (m *Manager) Create(ctx context.Context, u *User) error {
	result := m.db.WithContext(ctx).Create(u)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create a new User")
	}
	return nil
}

func (m *Manager) getBy(ctx context.Context, query string, arg string) (*User, error) {
	var u User
	result := m.db.WithContext(ctx).First(&u, query, arg)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get user")
	}

	return &u, nil
}

// GetByID will try to return the user in the database by id
func (m *Manager) GetByID(ctx context.Context, id string) (*User, error) {
	return m.getBy(ctx, "id = ?", id)
}

// GetByEmail will try to return the user in the database by email address
func (m *Manager) GetByEmail(ctx context.Context, email string) (*User, error) {
	return m.getBy(ctx, "email = ?", email)
}

// GetByUsername will try to return the user in the database by username
func (m *Manager) GetByUsername(ctx context.Context, username string) (*User, error) {
	return m.getBy(ctx, "username = ?", username)
}

// GetByCustomerID will try to return the user by the stored gateway customer id.
// This is the fallback lookup when an event carries no uid in its metadata
func (m *Manager) GetByCustomerID(ctx context.Context, customerID string) (*User, error) {
	return m.getBy(ctx, "stripe_customer_id = ?", customerID)
}

// UpdateProfile updates the mutable profile fields of a user
func (m *Manager) UpdateProfile(ctx context.Context, id, name, username string) error {
	result := m.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"name":     name,
		"username": username,
	})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot update user profile")
	}
	return nil
}

// LifetimeGrant describes a lifetime entitlement grant. CouponCode and Group
// are written only when resolved so unrelated updates never clear attribution
type LifetimeGrant struct {
	UserID           string
	StripeCustomerID string
	CouponCode       string
	Group            string
}

// GrantLifetime marks the user as pro with a lifetime entitlement.
// The write is an idempotent upsert: replaying the same grant converges on the same row
func (m *Manager) GrantLifetime(ctx context.Context, grant LifetimeGrant) error {
	if len(grant.UserID) == 0 {
		return fmt.Errorf("LifetimeGrant.UserID is required")
	}
	now := time.Now()
	fields := map[string]interface{}{
		"is_pro":                  true,
		"pro_type":                ProTypeLifetime,
		"lifetime_purchase":       true,
		"subscription_updated_at": now,
	}
	if len(grant.StripeCustomerID) > 0 {
		fields["stripe_customer_id"] = grant.StripeCustomerID
	}
	if len(grant.CouponCode) > 0 {
		fields["coupon_used"] = grant.CouponCode
	}
	if len(grant.Group) > 0 {
		fields["group"] = grant.Group
	}
	result := m.db.WithContext(ctx).Model(&User{}).Where("id = ?", grant.UserID).Updates(fields)
	if result.Error != nil {
		m.logger.Error("Unable to grant lifetime entitlement",
			zap.String("UserID", grant.UserID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot grant lifetime entitlement")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("No user with id %s to grant entitlement to", grant.UserID)
	}
	return nil
}

// SubscriptionState is the full subscription-derived entitlement state for a user
type SubscriptionState struct {
	UserID               string
	IsPro                bool
	ProType              string // required when IsPro
	StripeCustomerID     string
	StripeSubscriptionID string
	Status               string
	CouponCode           string
	Group                string
}

// ApplySubscription overwrites the subscription-derived fields of a user record.
// When the state is not pro the type field is deleted (set NULL), never left stale.
// Safe to apply more than once with the same state
func (m *Manager) ApplySubscription(ctx context.Context, state SubscriptionState) error {
	if len(state.UserID) == 0 {
		return fmt.Errorf("SubscriptionState.UserID is required")
	}
	now := time.Now()
	fields := map[string]interface{}{
		"is_pro":                  state.IsPro,
		"subscription_status":     state.Status,
		"subscription_updated_at": now,
		"subscription_created_at": gorm.Expr("COALESCE(subscription_created_at, ?)", now),
	}
	if state.IsPro {
		fields["pro_type"] = state.ProType
	} else {
		fields["pro_type"] = nil
	}
	if len(state.StripeCustomerID) > 0 {
		fields["stripe_customer_id"] = state.StripeCustomerID
	}
	if len(state.StripeSubscriptionID) > 0 {
		fields["stripe_subscription_id"] = state.StripeSubscriptionID
	}
	if len(state.CouponCode) > 0 {
		fields["coupon_used"] = state.CouponCode
	}
	if len(state.Group) > 0 {
		fields["group"] = state.Group
	}
	result := m.db.WithContext(ctx).Model(&User{}).Where("id = ?", state.UserID).Updates(fields)
	if result.Error != nil {
		m.logger.Error("Unable to apply subscription state",
			zap.String("UserID", state.UserID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot apply subscription state")
	}
	return nil
}

// RevokeByCustomerID clears the entitlement of the user owning the given gateway
// customer id, returning the user's id. Returns empty without error when no user
// matches. A lifetime purchase is never revoked by a subscription deletion
func (m *Manager) RevokeByCustomerID(ctx context.Context, customerID string) (string, error) {
	u, err := m.GetByCustomerID(ctx, customerID)
	if err != nil {
		return "", err
	}
	if u == nil || u.LifetimePurchase {
		return "", nil
	}
	result := m.db.WithContext(ctx).Model(&User{}).Where("id = ?", u.ID).Updates(map[string]interface{}{
		"is_pro":                  false,
		"pro_type":                nil,
		"stripe_subscription_id":  nil,
		"subscription_status":     "canceled",
		"subscription_updated_at": time.Now(),
	})
	if result.Error != nil {
		m.logger.Error("Unable to revoke entitlement",
			zap.String("UserID", u.ID),
			zap.Error(result.Error),
		)
		return "", extErrors.Wrap(result.Error, "Cannot revoke entitlement")
	}
	return u.ID, nil
}
