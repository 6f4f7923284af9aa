package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Manager handles the database operations relating to the coupon ledger
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for the coupon ledger
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Redemption{}, &Stats{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize coupon.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// HasUserRedeemed reports whether the user already redeemed the code
func (m *Manager) HasUserRedeemed(ctx context.Context, code, uid string) (bool, error) {
	var count int64
	result := m.db.WithContext(ctx).Model(&Redemption{}).
		Where("coupon_code = ?", code).
		Where("user_id = ?", uid).
		Count(&count)
	if result.Error != nil {
		return false, extErrors.Wrap(result.Error, "Cannot check redemption by user")
	}
	return count > 0, nil
}

// HasEmailRedeemed reports whether any account with the email already redeemed the code
func (m *Manager) HasEmailRedeemed(ctx context.Context, code, email string) (bool, error) {
	var count int64
	result := m.db.WithContext(ctx).Model(&Redemption{}).
		Where("coupon_code = ?", code).
		Where("email = ?", email).
		Count(&count)
	if result.Error != nil {
		return false, extErrors.Wrap(result.Error, "Cannot check redemption by email")
	}
	return count > 0, nil
}

// RecordOptions describes a single redemption to record
type RecordOptions struct {
	CouponCode       string
	UserID           string
	Email            string
	Name             string
	PriceID          string
	SubscriptionType string
}

// Record appends the redemption and bumps the per-code aggregate. The aggregate
// is created on first use; subsequent uses increment TotalUses with an atomic
// counter expression, so concurrent redemptions of the same code never lose an
// update. Returns ErrAlreadyRedeemed/ErrEmailAlreadyRedeemed on double redemption
func (m *Manager) Record(ctx context.Context, opt RecordOptions) error {
	if len(opt.CouponCode) == 0 {
		return fmt.Errorf("RecordOptions.CouponCode is required")
	}
	if len(opt.UserID) == 0 {
		return fmt.Errorf("RecordOptions.UserID is required")
	}
	now := time.Now()
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if res := tx.Model(&Redemption{}).
			Where("coupon_code = ?", opt.CouponCode).
			Where("user_id = ? OR email = ?", opt.UserID, opt.Email).
			Count(&count); res.Error != nil {
			return res.Error
		}
		if count > 0 {
			return ErrAlreadyRedeemed
		}
		if res := tx.Create(&Redemption{
			CouponCode:       opt.CouponCode,
			UserID:           opt.UserID,
			Email:            opt.Email,
			Name:             opt.Name,
			PriceID:          opt.PriceID,
			SubscriptionType: opt.SubscriptionType,
			ClaimedAt:        now,
		}); res.Error != nil {
			return res.Error
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "coupon_code"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_uses":   gorm.Expr("stats.total_uses + 1"),
				"last_used_at": now,
			}),
		}).Create(&Stats{
			CouponCode: opt.CouponCode,
			TotalUses:  1,
			CreatedAt:  now,
			LastUsedAt: now,
		}).Error
	}, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyRedeemed) {
			return ErrAlreadyRedeemed
		}
		m.logger.Error("Unable to record coupon redemption",
			zap.String("CouponCode", opt.CouponCode),
			zap.String("UserID", opt.UserID),
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot record coupon redemption")
	}
	return nil
}

// GetStats returns the aggregate for a code, or nil when the code has never
// been redeemed
func (m *Manager) GetStats(ctx context.Context, code string) (*Stats, error) {
	var stats Stats
	result := m.db.WithContext(ctx).First(&stats, "coupon_code = ?", code)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get coupon stats")
	}
	return &stats, nil
}

// ListRedemptions returns the redemptions of a code, most recent first
func (m *Manager) ListRedemptions(ctx context.Context, code string) ([]Redemption, error) {
	results := make([]Redemption, 0, 1)
	result := m.db.WithContext(ctx).
		Order("claimed_at desc").
		Where("coupon_code = ?", code).
		Find(&results)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list coupon redemptions")
	}
	return results, nil
}
