package coupon

import (
	"errors"
	"time"
)

// Redemption errors surfaced to the orchestrator
var (
	ErrAlreadyRedeemed      = errors.New("user has already redeemed this coupon")
	ErrEmailAlreadyRedeemed = errors.New("this email has already redeemed this coupon")
)

// Redemption is an append-only record of a user redeeming a coupon code.
// At most one row exists per (coupon code, user) pair, and an existing row for
// an email blocks a second redemption by a different account with that email
type Redemption struct {
	CouponCode       string    `json:"couponCode" gorm:"primaryKey"`
	UserID           string    `json:"uid" gorm:"primaryKey"`
	Email            string    `json:"email" gorm:"index"`
	Name             string    `json:"name"`
	PriceID          string    `json:"priceId"`
	SubscriptionType string    `json:"subscriptionType"`
	ClaimedAt        time.Time `json:"claimedAt"`
}

// Stats is the per-code aggregate, created lazily on first redemption.
// TotalUses is monotonically non-decreasing
type Stats struct {
	CouponCode string    `json:"couponCode" gorm:"primaryKey"`
	TotalUses  int64     `json:"totalUses"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}
