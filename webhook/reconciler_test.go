package webhook

import (
	"context"
	"errors"
	"testing"

	"github.com/helixcard/helix/coupon"
	"github.com/helixcard/helix/subscription"
	"github.com/helixcard/helix/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap/zaptest"
)

type fakeUsers struct {
	users        map[string]*user.User
	byCustomerID map[string]*user.User
	states       []user.SubscriptionState
	grants       []user.LifetimeGrant
	revoked      []string
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*user.User, error) {
	return f.users[id], nil
}

func (f *fakeUsers) GetByCustomerID(ctx context.Context, customerID string) (*user.User, error) {
	return f.byCustomerID[customerID], nil
}

func (f *fakeUsers) ApplySubscription(ctx context.Context, state user.SubscriptionState) error {
	f.states = append(f.states, state)
	if u, ok := f.users[state.UserID]; ok {
		u.IsPro = state.IsPro
	}
	return nil
}

func (f *fakeUsers) GrantLifetime(ctx context.Context, grant user.LifetimeGrant) error {
	f.grants = append(f.grants, grant)
	if u, ok := f.users[grant.UserID]; ok {
		u.IsPro = true
	}
	return nil
}

func (f *fakeUsers) RevokeByCustomerID(ctx context.Context, customerID string) (string, error) {
	u, ok := f.byCustomerID[customerID]
	if !ok || !u.IsPro {
		return "", nil
	}
	u.IsPro = false
	f.revoked = append(f.revoked, u.ID)
	return u.ID, nil
}

type fakeLedger struct {
	redeemed  map[string]bool
	records   []coupon.RecordOptions
	recordErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{redeemed: map[string]bool{}}
}

func (f *fakeLedger) HasUserRedeemed(ctx context.Context, code, uid string) (bool, error) {
	return f.redeemed[code+"/"+uid], nil
}

func (f *fakeLedger) Record(ctx context.Context, opt coupon.RecordOptions) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.redeemed[opt.CouponCode+"/"+opt.UserID] = true
	f.records = append(f.records, opt)
	return nil
}

type fakePropagator struct {
	calls []bool
	err   error
}

func (f *fakePropagator) Propagate(ctx context.Context, uid string, pro bool) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, pro)
	return nil
}

type fakeGateway struct {
	customerMetadata map[string]map[string]string
	codesByCouponID  map[string]string
}

func (f *fakeGateway) CustomerMetadata(ctx context.Context, customerID string) (map[string]string, error) {
	return f.customerMetadata[customerID], nil
}

func (f *fakeGateway) PromotionCodeByCouponID(ctx context.Context, couponID string) (string, error) {
	return f.codesByCouponID[couponID], nil
}

func testReconciler(t *testing.T, users *fakeUsers, ledger *fakeLedger, propagator *fakePropagator, gateway *fakeGateway) *Reconciler {
	index, err := subscription.NewPlanIndex([]subscription.Plan{
		{
			PriceID:       "price_yearly",
			Name:          "Pro Yearly",
			Type:          subscription.TypeYearly,
			AmountInCents: 2499,
			Currency:      "usd",
		},
	})
	require.NoError(t, err)

	reconciler, err := NewReconciler(ReconcilerOptions{
		Users:      users,
		Ledger:     ledger,
		Propagator: propagator,
		Gateway:    gateway,
		Plans:      index,
		Coupons: &coupon.Config{
			Coupons: map[string]coupon.Rule{
				"PARTNER50": {
					Group: "partnerA",
				},
			},
			SourceGroups: map[string]string{},
		},
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return reconciler
}

func activeYearlySubscription() *stripe.Subscription {
	return &stripe.Subscription{
		ID:       "sub_1",
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: "cus_1"},
		Metadata: map[string]string{"uid": "user-1"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: "price_yearly"}},
			},
		},
	}
}

func TestHandleSubscriptionActive(t *testing.T) {
	users := &fakeUsers{
		users: map[string]*user.User{
			"user-1": {ID: "user-1", Email: "one@example.com"},
		},
		byCustomerID: map[string]*user.User{},
	}
	propagator := &fakePropagator{}
	reconciler := testReconciler(t, users, newFakeLedger(), propagator, &fakeGateway{})

	result, err := reconciler.Handle(context.Background(), &Event{
		ID:           "evt_1",
		Kind:         KindSubscriptionCreated,
		Subscription: activeYearlySubscription(),
	})
	require.NoError(t, err)
	assert.True(t, result.Handled)
	assert.Empty(t, result.NonFatal)

	require.Len(t, users.states, 1)
	state := users.states[0]
	assert.True(t, state.IsPro)
	assert.Equal(t, string(subscription.TypeYearly), state.ProType)
	assert.Equal(t, "cus_1", state.StripeCustomerID)
	assert.Equal(t, "sub_1", state.StripeSubscriptionID)
	assert.Equal(t, "active", state.Status)

	require.Len(t, propagator.calls, 1)
	assert.True(t, propagator.calls[0])
}

func TestHandleSubscriptionResolvesUserByCustomer(t *testing.T) {
	u := &user.User{ID: "user-1", Email: "one@example.com"}
	users := &fakeUsers{
		users:        map[string]*user.User{"user-1": u},
		byCustomerID: map[string]*user.User{"cus_1": u},
	}
	reconciler := testReconciler(t, users, newFakeLedger(), &fakePropagator{}, &fakeGateway{})

	sub := activeYearlySubscription()
	sub.Metadata = map[string]string{}

	result, err := reconciler.Handle(context.Background(), &Event{
		ID:           "evt_1",
		Kind:         KindSubscriptionUpdated,
		Subscription: sub,
	})
	require.NoError(t, err)
	assert.True(t, result.Handled)
	require.Len(t, users.states, 1)
	assert.Equal(t, "user-1", users.states[0].UserID)
}

func TestHandleSubscriptionResolvesUserFromGatewayMetadata(t *testing.T) {
	users := &fakeUsers{
		users: map[string]*user.User{
			"user-1": {ID: "user-1", Email: "one@example.com"},
		},
		byCustomerID: map[string]*user.User{},
	}
	gateway := &fakeGateway{
		customerMetadata: map[string]map[string]string{
			"cus_1": {"uid": "user-1"},
		},
	}
	reconciler := testReconciler(t, users, newFakeLedger(), &fakePropagator{}, gateway)

	sub := activeYearlySubscription()
	sub.Metadata = map[string]string{}

	result, err := reconciler.Handle(context.Background(), &Event{
		ID:           "evt_1",
		Kind:         KindSubscriptionCreated,
		Subscription: sub,
	})
	require.NoError(t, err)
	assert.True(t, result.Handled)
	require.Len(t, users.states, 1)
	assert.Equal(t, "user-1", users.states[0].UserID)
}

func TestHandleSubscriptionUnresolvableUser(t *testing.T) {
	users := &fakeUsers{
		users:        map[string]*user.User{},
		byCustomerID: map[string]*user.User{},
	}
	reconciler := testReconciler(t, users, newFakeLedger(), &fakePropagator{}, &fakeGateway{})

	sub := activeYearlySubscription()
	sub.Metadata = map[string]string{}

	result, err := reconciler.Handle(context.Background(), &Event{
		ID:           "evt_1",
		Kind:         KindSubscriptionCreated,
		Subscription: sub,
	})
	require.NoError(t, err)
	assert.True(t, result.Handled)
	assert.Empty(t, users.states)
}

func TestHandleSubscriptionRecordsCoupon(t *testing.T) {
	users := &fakeUsers{
		users: map[string]*user.User{
			"user-1": {ID: "user-1", Email: "one@example.com", Name: "User One"},
		},
		byCustomerID: map[string]*user.User{},
	}
	ledger := newFakeLedger()
	gateway := &fakeGateway{
		codesByCouponID: map[string]string{"co_1": "PARTNER50"},
	}
	reconciler := testReconciler(t, users, ledger, &fakePropagator{}, gateway)

	sub := activeYearlySubscription()
	sub.Discount = &stripe.Discount{Coupon: &stripe.Coupon{ID: "co_1"}}

	result, err := reconciler.Handle(context.Background(), &Event{
		ID:           "evt_1",
		Kind:         KindSubscriptionCreated,
		Subscription: sub,
	})
	require.NoError(t, err)
	assert.Empty(t, result.NonFatal)

	require.Len(t, ledger.records, 1)
	assert.Equal(t, "PARTNER50", ledger.records[0].CouponCode)
	assert.Equal(t, "one@example.com", ledger.records[0].Email)
	assert.Equal(t, "price_yearly", ledger.records[0].PriceID)

	require.Len(t, users.states, 1)
	assert.Equal(t, "PARTNER50", users.states[0].CouponCode)
	assert.Equal(t, "partnerA", users.states[0].Group)

	// a redelivery of the same event must not append a second ledger entry
	result, err = reconciler.Handle(context.Background(), &Event{
		ID:           "evt_1",
		Kind:         KindSubscriptionCreated,
		Subscription: sub,
	})
	require.NoError(t, err)
	assert.Empty(t, result.NonFatal)
	assert.Len(t, ledger.records, 1)
}

func TestHandleSubscriptionLedgerFailureIsNonFatal(t *testing.T) {
	users := &fakeUsers{
		users: map[string]*user.User{
			"user-1": {ID: "user-1", Email: "one@example.com"},
		},
		byCustomerID: map[string]*user.User{},
	}
	ledger := newFakeLedger()
	ledger.recordErr = errors.New("ledger unavailable")
	gateway := &fakeGateway{
		codesByCouponID: map[string]string{"co_1": "PARTNER50"},
	}
	propagator := &fakePropagator{}
	reconciler := testReconciler(t, users, ledger, propagator, gateway)

	sub := activeYearlySubscription()
	sub.Discount = &stripe.Discount{Coupon: &stripe.Coupon{ID: "co_1"}}

	result, err := reconciler.Handle(context.Background(), &Event{
		ID:           "evt_1",
		Kind:         KindSubscriptionCreated,
		Subscription: sub,
	})

	// the entitlement write succeeded, so the event is acknowledged
	require.NoError(t, err)
	assert.True(t, result.Handled)
	assert.NotEmpty(t, result.NonFatal)
	require.Len(t, users.states, 1)
	assert.True(t, users.states[0].IsPro)
	require.Len(t, propagator.calls, 1)
}

func TestHandleSubscriptionDeleted(t *testing.T) {
	u := &user.User{ID: "user-1", Email: "one@example.com", IsPro: true}
	users := &fakeUsers{
		users:        map[string]*user.User{"user-1": u},
		byCustomerID: map[string]*user.User{"cus_1": u},
	}
	propagator := &fakePropagator{}
	reconciler := testReconciler(t, users, newFakeLedger(), propagator, &fakeGateway{})

	event := &Event{
		ID:   "evt_2",
		Kind: KindSubscriptionDeleted,
		Subscription: &stripe.Subscription{
			ID:       "sub_1",
			Status:   stripe.SubscriptionStatusCanceled,
			Customer: &stripe.Customer{ID: "cus_1"},
		},
	}

	result, err := reconciler.Handle(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, result.Handled)
	assert.Equal(t, []string{"user-1"}, users.revoked)
	require.Len(t, propagator.calls, 1)
	assert.False(t, propagator.calls[0])

	// replayed deletion finds nothing to revoke and stays silent
	result, err = reconciler.Handle(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, result.Handled)
	assert.Len(t, users.revoked, 1)
	assert.Len(t, propagator.calls, 1)
}

func TestHandleInvoicePaid(t *testing.T) {
	proType := string(subscription.TypeYearly)
	u := &user.User{ID: "user-1", Email: "one@example.com", ProType: &proType}
	users := &fakeUsers{
		users:        map[string]*user.User{"user-1": u},
		byCustomerID: map[string]*user.User{"cus_1": u},
	}
	propagator := &fakePropagator{}
	reconciler := testReconciler(t, users, newFakeLedger(), propagator, &fakeGateway{})

	result, err := reconciler.Handle(context.Background(), &Event{
		ID:   "evt_3",
		Kind: KindInvoicePaid,
		Invoice: &stripe.Invoice{
			Customer:     &stripe.Customer{ID: "cus_1"},
			Subscription: &stripe.Subscription{ID: "sub_1"},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Handled)

	require.Len(t, users.states, 1)
	assert.True(t, users.states[0].IsPro)
	assert.Equal(t, proType, users.states[0].ProType)
	assert.Equal(t, "active", users.states[0].Status)
}

func TestHandlePaymentSucceededLifetime(t *testing.T) {
	users := &fakeUsers{
		users: map[string]*user.User{
			"user-1": {ID: "user-1", Email: "one@example.com"},
		},
		byCustomerID: map[string]*user.User{},
	}
	ledger := newFakeLedger()
	propagator := &fakePropagator{}
	reconciler := testReconciler(t, users, ledger, propagator, &fakeGateway{})

	result, err := reconciler.Handle(context.Background(), &Event{
		ID:   "evt_4",
		Kind: KindPaymentSucceeded,
		PaymentIntent: &stripe.PaymentIntent{
			ID:       "pi_1",
			Customer: &stripe.Customer{ID: "cus_1"},
			Metadata: map[string]string{
				"uid":        "user-1",
				"type":       "lifetime",
				"couponCode": "PARTNER50",
			},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Handled)

	require.Len(t, users.grants, 1)
	assert.Equal(t, "cus_1", users.grants[0].StripeCustomerID)
	assert.Equal(t, "PARTNER50", users.grants[0].CouponCode)
	assert.Equal(t, "partnerA", users.grants[0].Group)

	require.Len(t, ledger.records, 1)
	assert.Equal(t, string(subscription.TypeLifetime), ledger.records[0].SubscriptionType)

	require.Len(t, propagator.calls, 1)
	assert.True(t, propagator.calls[0])
}

func TestHandlePaymentSucceededIgnoresNonLifetime(t *testing.T) {
	users := &fakeUsers{
		users:        map[string]*user.User{},
		byCustomerID: map[string]*user.User{},
	}
	reconciler := testReconciler(t, users, newFakeLedger(), &fakePropagator{}, &fakeGateway{})

	result, err := reconciler.Handle(context.Background(), &Event{
		ID:   "evt_5",
		Kind: KindPaymentSucceeded,
		PaymentIntent: &stripe.PaymentIntent{
			ID:       "pi_2",
			Customer: &stripe.Customer{ID: "cus_1"},
			Metadata: map[string]string{},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Handled)
	assert.Empty(t, users.grants)
}

func TestHandleIgnoredKind(t *testing.T) {
	users := &fakeUsers{
		users:        map[string]*user.User{},
		byCustomerID: map[string]*user.User{},
	}
	reconciler := testReconciler(t, users, newFakeLedger(), &fakePropagator{}, &fakeGateway{})

	result, err := reconciler.Handle(context.Background(), &Event{
		ID:   "evt_6",
		Kind: KindIgnored,
	})
	require.NoError(t, err)
	assert.False(t, result.Handled)
	assert.Empty(t, users.states)
	assert.Empty(t, users.grants)
}
