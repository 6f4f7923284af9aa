package webhook

import (
	"context"
	"fmt"

	"github.com/helixcard/helix/coupon"
	"github.com/helixcard/helix/subscription"
	"github.com/helixcard/helix/user"

	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// EntitlementStore is the user store the reconciler reads and writes
type EntitlementStore interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
	GetByCustomerID(ctx context.Context, customerID string) (*user.User, error)
	ApplySubscription(ctx context.Context, state user.SubscriptionState) error
	GrantLifetime(ctx context.Context, grant user.LifetimeGrant) error
	RevokeByCustomerID(ctx context.Context, customerID string) (string, error)
}

// Ledger records coupon redemptions observed in confirmed payments
type Ledger interface {
	HasUserRedeemed(ctx context.Context, code, uid string) (bool, error)
	Record(ctx context.Context, opt coupon.RecordOptions) error
}

// Propagator makes downstream authorization and card visibility consistent
// with the entitlement flag
type Propagator interface {
	Propagate(ctx context.Context, uid string, pro bool) error
}

// Gateway is the read-only slice of the payment gateway the reconciler needs
// to resolve identities and coupon codes not carried on the event itself
type Gateway interface {
	CustomerMetadata(ctx context.Context, customerID string) (map[string]string, error)
	PromotionCodeByCouponID(ctx context.Context, couponID string) (string, error)
}

// ReconcilerOptions contains the configuration for the Reconciler
type ReconcilerOptions struct {
	Users      EntitlementStore
	Ledger     Ledger
	Propagator Propagator
	Gateway    Gateway
	Plans      *subscription.PlanIndex
	Coupons    *coupon.Config
	Logger     *zap.Logger
}

// Reconciler applies verified gateway events to the entitlement store. The
// event stream is the source of truth: handlers are written to be idempotent
// because the gateway redelivers on timeout and may reorder
type Reconciler struct {
	ReconcilerOptions
}

// NewReconciler returns a new webhook Reconciler
func NewReconciler(option ReconcilerOptions) (*Reconciler, error) {
	if option.Users == nil {
		return nil, fmt.Errorf("nil Users is invalid")
	}
	if option.Ledger == nil {
		return nil, fmt.Errorf("nil Ledger is invalid")
	}
	if option.Propagator == nil {
		return nil, fmt.Errorf("nil Propagator is invalid")
	}
	if option.Gateway == nil {
		return nil, fmt.Errorf("nil Gateway is invalid")
	}
	if option.Plans == nil {
		return nil, fmt.Errorf("nil Plans is invalid")
	}
	if option.Coupons == nil {
		return nil, fmt.Errorf("nil Coupons is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Reconciler{
		ReconcilerOptions: option,
	}, nil
}

// Result reports the outcome of handling one event. NonFatal carries failures
// of side effects (ledger writes, propagation) that must not cause the event
// to be redelivered because the entitlement write already succeeded
type Result struct {
	Handled  bool
	NonFatal []error
}

func (r *Result) addNonFatal(err error) {
	r.NonFatal = append(r.NonFatal, err)
}

// Handle applies one verified event to the entitlement store. Returning a nil
// error acknowledges the event to the gateway
func (c *Reconciler) Handle(ctx context.Context, event *Event) (*Result, error) {
	switch event.Kind {
	case KindSubscriptionCreated, KindSubscriptionUpdated:
		return c.handleSubscriptionChange(ctx, event.Subscription)
	case KindSubscriptionDeleted:
		return c.handleSubscriptionDeleted(ctx, event.Subscription)
	case KindInvoicePaid:
		return c.handleInvoicePaid(ctx, event.Invoice)
	case KindPaymentSucceeded:
		return c.handlePaymentSucceeded(ctx, event.PaymentIntent)
	default:
		return &Result{Handled: false}, nil
	}
}

// resolveUserID finds the account the event is about. Subscription metadata is
// checked first, then the local store by customer id, then the gateway's
// customer metadata as a last resort
func (c *Reconciler) resolveUserID(ctx context.Context, metadata map[string]string, customerID string) (string, error) {
	if uid, ok := metadata["uid"]; ok && len(uid) > 0 {
		return uid, nil
	}
	if len(customerID) > 0 {
		u, err := c.Users.GetByCustomerID(ctx, customerID)
		if err != nil {
			return "", err
		}
		if u != nil {
			return u.ID, nil
		}
		gwMetadata, err := c.Gateway.CustomerMetadata(ctx, customerID)
		if err != nil {
			return "", err
		}
		if uid, ok := gwMetadata["uid"]; ok && len(uid) > 0 {
			return uid, nil
		}
	}
	return "", nil
}

// resolveCouponCode recovers the human-facing code for the discount attached
// to a subscription. The event only carries the coupon object id, so the
// promotion code index is consulted. Resolution failure degrades to empty:
// attribution is best-effort, entitlement is not
func (c *Reconciler) resolveCouponCode(ctx context.Context, sub *stripe.Subscription) string {
	if fromMetadata, ok := sub.Metadata["couponCode"]; ok && len(fromMetadata) > 0 {
		return fromMetadata
	}
	if sub.Discount == nil || sub.Discount.Coupon == nil {
		return ""
	}
	code, err := c.Gateway.PromotionCodeByCouponID(ctx, sub.Discount.Coupon.ID)
	if err != nil {
		c.Logger.Error("Unable to resolve coupon code from discount",
			zap.String("CouponID", sub.Discount.Coupon.ID),
			zap.Error(err),
		)
		return ""
	}
	return code
}

func (c *Reconciler) handleSubscriptionChange(ctx context.Context, sub *stripe.Subscription) (*Result, error) {
	result := &Result{Handled: true}

	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	uid, err := c.resolveUserID(ctx, sub.Metadata, customerID)
	if err != nil {
		return nil, err
	}
	if len(uid) == 0 {
		// not one of ours; acknowledge and move on
		c.Logger.Info("Subscription event has no resolvable user",
			zap.String("SubscriptionID", sub.ID),
			zap.String("CustomerID", customerID),
		)
		return result, nil
	}

	pro := sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing

	var planType subscription.PlanType
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		planType, _ = c.Plans.TypeOf(sub.Items.Data[0].Price.ID)
	}

	couponCode := c.resolveCouponCode(ctx, sub)
	group := c.Coupons.DetermineGroup(couponCode, sub.Metadata["source"])
	if len(group) == 0 {
		group = sub.Metadata["group"]
	}

	state := user.SubscriptionState{
		UserID:               uid,
		IsPro:                pro,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: sub.ID,
		Status:               string(sub.Status),
		CouponCode:           couponCode,
		Group:                group,
	}
	if pro {
		state.ProType = string(planType)
	}
	if err := c.Users.ApplySubscription(ctx, state); err != nil {
		return nil, err
	}

	if pro && len(couponCode) > 0 {
		c.recordRedemption(ctx, result, couponCode, uid, sub, planType)
	}

	if err := c.Propagator.Propagate(ctx, uid, pro); err != nil {
		result.addNonFatal(err)
	}
	return result, nil
}

func (c *Reconciler) handleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) (*Result, error) {
	result := &Result{Handled: true}

	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	uid, err := c.Users.RevokeByCustomerID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(uid) == 0 {
		// already revoked or never ours; deletion replays land here
		return result, nil
	}

	if err := c.Propagator.Propagate(ctx, uid, false); err != nil {
		result.addNonFatal(err)
	}
	return result, nil
}

// handleInvoicePaid confirms a recurring payment. The subscription object on
// the invoice is not expanded, so entitlement details come from the local
// record written at checkout; the invoice only flips the status
func (c *Reconciler) handleInvoicePaid(ctx context.Context, inv *stripe.Invoice) (*Result, error) {
	result := &Result{Handled: true}

	if inv.Subscription == nil {
		return result, nil
	}
	customerID := ""
	if inv.Customer != nil {
		customerID = inv.Customer.ID
	}
	uid, err := c.resolveUserID(ctx, inv.Metadata, customerID)
	if err != nil {
		return nil, err
	}
	if len(uid) == 0 {
		return result, nil
	}

	u, err := c.Users.GetByID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return result, nil
	}

	proType := ""
	if u.ProType != nil {
		proType = *u.ProType
	}
	couponCode := ""
	if u.CouponUsed != nil {
		couponCode = *u.CouponUsed
	}
	group := ""
	if u.Group != nil {
		group = *u.Group
	}
	if err := c.Users.ApplySubscription(ctx, user.SubscriptionState{
		UserID:               uid,
		IsPro:                true,
		ProType:              proType,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: inv.Subscription.ID,
		Status:               string(stripe.SubscriptionStatusActive),
		CouponCode:           couponCode,
		Group:                group,
	}); err != nil {
		return nil, err
	}

	if err := c.Propagator.Propagate(ctx, uid, true); err != nil {
		result.addNonFatal(err)
	}
	return result, nil
}

// handlePaymentSucceeded grants lifetime entitlement for confirmed one-time
// charges. Only intents tagged as lifetime purchases are acted on; all other
// payment intents (including subscription invoices) are acknowledged untouched
func (c *Reconciler) handlePaymentSucceeded(ctx context.Context, pi *stripe.PaymentIntent) (*Result, error) {
	result := &Result{Handled: true}

	if pi.Metadata["type"] != string(subscription.TypeLifetime) {
		return result, nil
	}
	customerID := ""
	if pi.Customer != nil {
		customerID = pi.Customer.ID
	}
	uid, err := c.resolveUserID(ctx, pi.Metadata, customerID)
	if err != nil {
		return nil, err
	}
	if len(uid) == 0 {
		c.Logger.Info("Lifetime payment has no resolvable user",
			zap.String("PaymentIntentID", pi.ID),
			zap.String("CustomerID", customerID),
		)
		return result, nil
	}

	couponCode := pi.Metadata["couponCode"]
	group := pi.Metadata["group"]
	if len(group) == 0 {
		group = c.Coupons.GroupFromCoupon(couponCode)
	}
	if err := c.Users.GrantLifetime(ctx, user.LifetimeGrant{
		UserID:           uid,
		StripeCustomerID: customerID,
		CouponCode:       couponCode,
		Group:            group,
	}); err != nil {
		return nil, err
	}

	if len(couponCode) > 0 {
		c.recordLifetimeRedemption(ctx, result, couponCode, uid)
	}

	if err := c.Propagator.Propagate(ctx, uid, true); err != nil {
		result.addNonFatal(err)
	}
	return result, nil
}

// recordRedemption writes the ledger entry for a coupon observed on an active
// subscription. Replays are filtered with an existence check first; a ledger
// failure never fails the event because the entitlement write already happened
func (c *Reconciler) recordRedemption(ctx context.Context, result *Result, code, uid string, sub *stripe.Subscription, planType subscription.PlanType) {
	redeemed, err := c.Ledger.HasUserRedeemed(ctx, code, uid)
	if err != nil {
		result.addNonFatal(err)
		return
	}
	if redeemed {
		return
	}

	u, err := c.Users.GetByID(ctx, uid)
	if err != nil {
		result.addNonFatal(err)
		return
	}
	email, name := "", ""
	if u != nil {
		email, name = u.Email, u.Name
	}
	priceID := ""
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}
	if err := c.Ledger.Record(ctx, coupon.RecordOptions{
		CouponCode:       code,
		UserID:           uid,
		Email:            email,
		Name:             name,
		PriceID:          priceID,
		SubscriptionType: string(planType),
	}); err != nil && err != coupon.ErrAlreadyRedeemed {
		result.addNonFatal(err)
	}
}

func (c *Reconciler) recordLifetimeRedemption(ctx context.Context, result *Result, code, uid string) {
	redeemed, err := c.Ledger.HasUserRedeemed(ctx, code, uid)
	if err != nil {
		result.addNonFatal(err)
		return
	}
	if redeemed {
		return
	}
	u, err := c.Users.GetByID(ctx, uid)
	if err != nil {
		result.addNonFatal(err)
		return
	}
	email, name := "", ""
	if u != nil {
		email, name = u.Email, u.Name
	}
	if err := c.Ledger.Record(ctx, coupon.RecordOptions{
		CouponCode:       code,
		UserID:           uid,
		Email:            email,
		Name:             name,
		SubscriptionType: string(subscription.TypeLifetime),
	}); err != nil && err != coupon.ErrAlreadyRedeemed {
		result.addNonFatal(err)
	}
}
