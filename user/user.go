package user

import "time"

// Pro entitlement types. Present on a User iff IsPro is true
const (
	ProTypeMonthly  = "monthly"
	ProTypeYearly   = "yearly"
	ProTypeLifetime = "lifetime"
)

// User describes a HelixCard account and its billing entitlement
type User struct {
	ID       string `json:"id" gorm:"primaryKey"` // Stable user id issued at signup
	Email    string `json:"email" gorm:"uniqueIndex"`
	Username string `json:"username" gorm:"index"`
	Name     string `json:"name"`

	IsPro            bool    `json:"isPro"`
	ProType          *string `json:"isProType,omitempty"` // monthly/yearly/lifetime, NULL when not pro
	LifetimePurchase bool    `json:"lifetimePurchase"`    // true iff entitlement was granted via one-time payment

	StripeCustomerID     *string `json:"stripeCustomerId,omitempty" gorm:"index"`
	StripeSubscriptionID *string `json:"stripeSubscriptionId,omitempty"` // absent for lifetime purchases
	SubscriptionStatus   string  `json:"subscriptionStatus"`             // mirrors the gateway's status string

	CouponUsed *string `json:"couponUsed,omitempty"` // attribution, set once at redemption time
	Group      *string `json:"group,omitempty"`      // partner/affiliate reporting label

	SubscriptionCreatedAt *time.Time `json:"subscriptionCreatedAt,omitempty"`
	SubscriptionUpdatedAt *time.Time `json:"subscriptionUpdatedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
