package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/helixcard/helix/coupon"
	"github.com/helixcard/helix/user"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
)

// Errors attributable to caller input. The service layer maps these to 400
var (
	ErrInvalidPlan      = errors.New("invalid plan identifier")
	ErrUserNotFound     = errors.New("no user record found")
	ErrAlreadyEntitled  = errors.New("user already has an active entitlement")
	ErrCouponInvalid    = errors.New("coupon is invalid")
	ErrCouponExpired    = errors.New("coupon has expired")
	ErrCouponRestricted = errors.New("coupon is not valid for the selected product type")
)

// EntitlementStore is the user store consulted and written by the orchestrator
type EntitlementStore interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
	GrantLifetime(ctx context.Context, grant user.LifetimeGrant) error
	ApplySubscription(ctx context.Context, state user.SubscriptionState) error
}

// Ledger is the append-only coupon redemption record
type Ledger interface {
	HasUserRedeemed(ctx context.Context, code, uid string) (bool, error)
	HasEmailRedeemed(ctx context.Context, code, email string) (bool, error)
	Record(ctx context.Context, opt coupon.RecordOptions) error
}

// Propagator makes downstream authorization and card visibility consistent
// with the entitlement flag
type Propagator interface {
	Propagate(ctx context.Context, uid string, pro bool) error
}

// ManagerOptions contains the configuration for the subscription Manager
type ManagerOptions struct {
	StripeClient *client.API
	Users        EntitlementStore
	Ledger       Ledger
	Plans        *PlanIndex
	Coupons      *coupon.Config
	Propagator   Propagator
	Logger       *zap.Logger
}

// Manager orchestrates subscription and lifetime purchases against Stripe and
// keeps the entitlement store reflecting the outcome of every branch
type Manager struct {
	ManagerOptions
}

// NewManager returns a new subscription Manager
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.StripeClient == nil {
		return nil, fmt.Errorf("nil StripeClient is invalid")
	}
	if option.Users == nil {
		return nil, fmt.Errorf("nil Users is invalid")
	}
	if option.Ledger == nil {
		return nil, fmt.Errorf("nil Ledger is invalid")
	}
	if option.Plans == nil {
		return nil, fmt.Errorf("nil Plans is invalid")
	}
	if option.Coupons == nil {
		return nil, fmt.Errorf("nil Coupons is invalid")
	}
	if option.Propagator == nil {
		return nil, fmt.Errorf("nil Propagator is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// CreateOptions describes a checkout attempt for a verified user
type CreateOptions struct {
	UserID          string
	Email           string
	Name            string
	PriceID         string
	CouponCode      string
	PaymentMethodID string
	FreeLifetime    bool   // claim a free lifetime entitlement via coupon, no payment
	Source          string // acquisition-source tag for group attribution
}

// CreateResult is the outcome of a checkout attempt
type CreateResult struct {
	SubscriptionID   string   `json:"subscriptionId,omitempty"`
	ClientSecret     string   `json:"clientSecret,omitempty"` // for client-side confirmation (e.g. 3-D Secure)
	SubscriptionType PlanType `json:"subscriptionType"`
	Active           bool     `json:"active"` // entitlement granted synchronously
}

// Create validates the request and produces either a coupon-granted lifetime
// entitlement, a confirmed one-time lifetime charge, or a default-incomplete
// recurring subscription. Every branch leaves the entitlement store reflecting
// the outcome before returning; the webhook reconciler remains the source of
// truth for payment-confirmed grants
func (m *Manager) Create(ctx context.Context, opt CreateOptions) (*CreateResult, error) {
	plan, ok := m.Plans.ByPriceID(opt.PriceID)
	if !ok {
		return nil, ErrInvalidPlan
	}

	if opt.FreeLifetime {
		return m.createFreeLifetime(ctx, opt, plan)
	}

	var promo *stripe.PromotionCode
	if len(opt.CouponCode) > 0 {
		var err error
		promo, err = m.validateCoupon(ctx, opt.CouponCode, plan)
		if err != nil {
			return nil, err
		}
	}

	cust, err := m.setupCustomer(ctx, opt)
	if err != nil {
		return nil, err
	}

	group := m.Coupons.DetermineGroup(opt.CouponCode, opt.Source)

	if plan.Type == TypeLifetime {
		return m.createLifetime(ctx, opt, plan, promo, cust.ID, group)
	}
	return m.createRecurring(ctx, opt, plan, promo, cust.ID, group)
}

// createFreeLifetime grants a lifetime entitlement from a coupon flagged free.
// This path never touches the payment gateway
func (m *Manager) createFreeLifetime(ctx context.Context, opt CreateOptions, plan Plan) (*CreateResult, error) {
	if len(opt.CouponCode) == 0 || !m.Coupons.IsFreeLifetime(opt.CouponCode) || plan.Type != TypeLifetime {
		return nil, ErrCouponInvalid
	}

	u, err := m.Users.GetByID(ctx, opt.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if u.IsPro {
		return nil, ErrAlreadyEntitled
	}

	used, err := m.Ledger.HasUserRedeemed(ctx, opt.CouponCode, opt.UserID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, coupon.ErrAlreadyRedeemed
	}
	used, err = m.Ledger.HasEmailRedeemed(ctx, opt.CouponCode, u.Email)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, coupon.ErrEmailAlreadyRedeemed
	}

	if err := m.Ledger.Record(ctx, coupon.RecordOptions{
		CouponCode:       opt.CouponCode,
		UserID:           opt.UserID,
		Email:            u.Email,
		Name:             u.Name,
		PriceID:          opt.PriceID,
		SubscriptionType: string(TypeLifetime),
	}); err != nil {
		return nil, err
	}

	if err := m.Users.GrantLifetime(ctx, user.LifetimeGrant{
		UserID:     opt.UserID,
		CouponCode: opt.CouponCode,
		Group:      m.Coupons.GroupFromCoupon(opt.CouponCode),
	}); err != nil {
		return nil, err
	}

	m.propagate(ctx, opt.UserID, true)

	return &CreateResult{
		SubscriptionType: TypeLifetime,
		Active:           true,
	}, nil
}

// validateCoupon resolves a coupon code through the gateway's promotion-code
// index and enforces both the static allow-list and any product restriction
// embedded in the gateway coupon object itself
func (m *Manager) validateCoupon(ctx context.Context, code string, plan Plan) (*stripe.PromotionCode, error) {
	listParams := &stripe.PromotionCodeListParams{
		ListParams: stripe.ListParams{
			Context: ctx,
		},
		Active: stripe.Bool(true),
		Code:   stripe.String(code),
	}
	iter := m.StripeClient.PromotionCodes.List(listParams)

	var promo *stripe.PromotionCode
	for iter.Next() {
		promo = iter.PromotionCode()
		break
	}
	if iter.Err() != nil {
		return nil, extErrors.Wrap(iter.Err(), "Cannot look up promotion code")
	}
	if promo == nil {
		return nil, ErrCouponInvalid
	}
	if promo.Coupon == nil || !promo.Coupon.Valid {
		return nil, ErrCouponExpired
	}

	if !m.Coupons.AllowsPrice(code, plan.PriceID) {
		return nil, ErrCouponRestricted
	}

	if promo.Coupon.AppliesTo != nil && len(promo.Coupon.AppliesTo.Products) > 0 {
		price, err := m.StripeClient.Prices.Get(plan.PriceID, &stripe.PriceParams{
			Params: stripe.Params{
				Context: ctx,
			},
		})
		if err != nil {
			return nil, extErrors.Wrap(err, "Cannot look up price for coupon restriction")
		}
		allowed := false
		for _, productID := range promo.Coupon.AppliesTo.Products {
			if price.Product != nil && price.Product.ID == productID {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, ErrCouponRestricted
		}
	}

	return promo, nil
}

// VerifyCoupon validates the code against the plan and returns the discounted
// amount in cents for the plan's base price
func (m *Manager) VerifyCoupon(ctx context.Context, code, priceID string) (int64, error) {
	plan, ok := m.Plans.ByPriceID(priceID)
	if !ok {
		return 0, ErrInvalidPlan
	}
	promo, err := m.validateCoupon(ctx, code, plan)
	if err != nil {
		return 0, err
	}
	return DiscountedAmount(plan.AmountInCents, promo.Coupon.PercentOff, promo.Coupon.AmountOff), nil
}

// setupCustomer creates a gateway customer tagged with the user id and coupon,
// attaches the payment method and makes it the default. Not idempotent across
// retries: the endpoint is invoked once per checkout attempt from the client
func (m *Manager) setupCustomer(ctx context.Context, opt CreateOptions) (*stripe.Customer, error) {
	metadata := map[string]string{
		"uid": opt.UserID,
	}
	if len(opt.CouponCode) > 0 {
		metadata["couponCode"] = opt.CouponCode
	}
	if len(opt.Source) > 0 {
		metadata["source"] = opt.Source
	}
	custParams := &stripe.CustomerParams{
		Params: stripe.Params{
			Context:  ctx,
			Metadata: metadata,
		},
		Email: stripe.String(opt.Email),
	}
	if len(opt.Name) > 0 {
		custParams.Name = stripe.String(opt.Name)
	}
	cust, err := m.StripeClient.Customers.New(custParams)
	if err != nil {
		m.Logger.Error("Stripe returned error",
			zap.Error(err),
		)
		return nil, err
	}

	pm, err := m.StripeClient.PaymentMethods.Attach(opt.PaymentMethodID, &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(cust.ID),
	})
	if err != nil {
		return nil, err
	}

	if _, err := m.StripeClient.Customers.Update(cust.ID, &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(pm.ID),
		},
	}); err != nil {
		return nil, err
	}

	return cust, nil
}

// createLifetime charges the discounted base price once via a confirmed
// payment intent. The entitlement write here is a best-effort early grant; the
// webhook reconciler confirms it from the gateway's own event stream
func (m *Manager) createLifetime(ctx context.Context, opt CreateOptions, plan Plan, promo *stripe.PromotionCode, customerID, group string) (*CreateResult, error) {
	amount := plan.AmountInCents
	if promo != nil {
		amount = DiscountedAmount(amount, promo.Coupon.PercentOff, promo.Coupon.AmountOff)
	}

	// fully discounted, nothing to charge
	if amount == 0 {
		if err := m.Users.GrantLifetime(ctx, user.LifetimeGrant{
			UserID:           opt.UserID,
			StripeCustomerID: customerID,
			CouponCode:       opt.CouponCode,
			Group:            group,
		}); err != nil {
			return nil, err
		}
		m.propagate(ctx, opt.UserID, true)
		return &CreateResult{
			SubscriptionType: TypeLifetime,
			Active:           true,
		}, nil
	}

	metadata := map[string]string{
		"uid":  opt.UserID,
		"type": string(TypeLifetime),
	}
	if len(opt.CouponCode) > 0 {
		metadata["couponCode"] = opt.CouponCode
	}
	if len(group) > 0 {
		metadata["group"] = group
	}
	piParams := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context:  ctx,
			Metadata: metadata,
		},
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(plan.Currency),
		Customer:      stripe.String(customerID),
		PaymentMethod: stripe.String(opt.PaymentMethodID),
		Confirm:       stripe.Bool(true),
	}
	pi, err := m.StripeClient.PaymentIntents.New(piParams)
	if err != nil {
		m.Logger.Error("Unable to create payment intent in Stripe",
			zap.String("UserID", opt.UserID),
			zap.Error(err),
		)
		return nil, err
	}

	// the charge succeeded or is pending client confirmation; if this write
	// fails the caller sees the error and the webhook reconciles the grant
	if err := m.Users.GrantLifetime(ctx, user.LifetimeGrant{
		UserID:           opt.UserID,
		StripeCustomerID: customerID,
		CouponCode:       opt.CouponCode,
		Group:            group,
	}); err != nil {
		return nil, extErrors.Wrap(err, "Charge succeeded but entitlement write failed")
	}

	m.propagate(ctx, opt.UserID, true)

	return &CreateResult{
		ClientSecret:     pi.ClientSecret,
		SubscriptionType: TypeLifetime,
		Active:           pi.Status == stripe.PaymentIntentStatusSucceeded,
	}, nil
}

// createRecurring creates a default-incomplete subscription with the resolved
// promotion code attached. A zero-amount-due invoice grants immediately;
// otherwise the grant happens via webhook on confirmed payment
func (m *Manager) createRecurring(ctx context.Context, opt CreateOptions, plan Plan, promo *stripe.PromotionCode, customerID, group string) (*CreateResult, error) {
	metadata := map[string]string{
		"uid": opt.UserID,
	}
	if len(opt.CouponCode) > 0 {
		metadata["couponCode"] = opt.CouponCode
	}
	if len(group) > 0 {
		metadata["group"] = group
	}
	subParams := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context:  ctx,
			Metadata: metadata,
		},
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price: stripe.String(plan.PriceID),
			},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	if promo != nil {
		subParams.PromotionCode = stripe.String(promo.ID)
	}
	subParams.AddExpand("latest_invoice.payment_intent")

	sub, err := m.StripeClient.Subscriptions.New(subParams)
	if err != nil {
		m.Logger.Error("Unable to create subscription in Stripe",
			zap.String("UserID", opt.UserID),
			zap.Error(err),
		)
		return nil, err
	}

	state := user.SubscriptionState{
		UserID:               opt.UserID,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: sub.ID,
		Status:               string(sub.Status),
		CouponCode:           opt.CouponCode,
		Group:                group,
	}

	// 100%-off coupon: nothing due, grant immediately
	if sub.LatestInvoice != nil && sub.LatestInvoice.AmountDue == 0 {
		state.IsPro = true
		state.ProType = string(plan.Type)
		if err := m.Users.ApplySubscription(ctx, state); err != nil {
			return nil, err
		}
		m.propagate(ctx, opt.UserID, true)
		return &CreateResult{
			SubscriptionID:   sub.ID,
			SubscriptionType: plan.Type,
			Active:           true,
		}, nil
	}

	if err := m.Users.ApplySubscription(ctx, state); err != nil {
		return nil, err
	}

	var clientSecret string
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		clientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}

	return &CreateResult{
		SubscriptionID:   sub.ID,
		ClientSecret:     clientSecret,
		SubscriptionType: plan.Type,
		Active:           false,
	}, nil
}

// Cancel marks the user's subscription as cancel at end of period on Stripe.
// Entitlement is revoked by the webhook when the deletion event arrives
func (m *Manager) Cancel(ctx context.Context, uid, subscriptionID string) error {
	u, err := m.Users.GetByID(ctx, uid)
	if err != nil {
		return err
	}
	if u == nil || u.StripeSubscriptionID == nil || *u.StripeSubscriptionID != subscriptionID {
		return ErrUserNotFound
	}
	sub, err := m.StripeClient.Subscriptions.Update(subscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return extErrors.Wrap(err, "Unable to cancel subscription on Stripe")
	}
	if sub.CancelAtPeriodEnd != true {
		return fmt.Errorf("Stripe did not mark subscription as cancel at end of period")
	}
	return nil
}

// propagate pushes the entitlement flag to the downstream collaborators.
// Failures are logged only: the store write already happened and the webhook
// reconciler will re-propagate on the next event
func (m *Manager) propagate(ctx context.Context, uid string, pro bool) {
	if err := m.Propagator.Propagate(ctx, uid, pro); err != nil {
		m.Logger.Error("Unable to propagate entitlement",
			zap.String("UserID", uid),
			zap.Bool("IsPro", pro),
			zap.Error(err),
		)
	}
}

// UserError reports whether the error is attributable to caller input, and the
// user-facing message for it. Gateway errors caused by the card or the request
// surface with the gateway's own message; everything else stays a 500
func (m *Manager) UserError(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrInvalidPlan),
		errors.Is(err, ErrAlreadyEntitled),
		errors.Is(err, ErrCouponInvalid),
		errors.Is(err, ErrCouponExpired),
		errors.Is(err, ErrCouponRestricted),
		errors.Is(err, coupon.ErrAlreadyRedeemed),
		errors.Is(err, coupon.ErrEmailAlreadyRedeemed):
		return err.Error(), true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Type == stripe.ErrorTypeCard || stripeErr.Type == stripe.ErrorTypeInvalidRequest {
			return stripeErr.Msg, true
		}
	}
	return "", false
}
