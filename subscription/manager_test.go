package subscription

import (
	"context"
	"errors"
	"testing"

	"github.com/helixcard/helix/coupon"
	"github.com/helixcard/helix/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap/zaptest"
)

type fakeUsers struct {
	users  map[string]*user.User
	grants []user.LifetimeGrant
	states []user.SubscriptionState
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*user.User, error) {
	return f.users[id], nil
}

func (f *fakeUsers) GrantLifetime(ctx context.Context, grant user.LifetimeGrant) error {
	f.grants = append(f.grants, grant)
	if u, ok := f.users[grant.UserID]; ok {
		u.IsPro = true
	}
	return nil
}

func (f *fakeUsers) ApplySubscription(ctx context.Context, state user.SubscriptionState) error {
	f.states = append(f.states, state)
	if u, ok := f.users[state.UserID]; ok {
		u.IsPro = state.IsPro
	}
	return nil
}

type fakeLedger struct {
	redeemedByUser  map[string]bool
	redeemedByEmail map[string]bool
	records         []coupon.RecordOptions
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		redeemedByUser:  map[string]bool{},
		redeemedByEmail: map[string]bool{},
	}
}

func (f *fakeLedger) HasUserRedeemed(ctx context.Context, code, uid string) (bool, error) {
	return f.redeemedByUser[code+"/"+uid], nil
}

func (f *fakeLedger) HasEmailRedeemed(ctx context.Context, code, email string) (bool, error) {
	return f.redeemedByEmail[code+"/"+email], nil
}

func (f *fakeLedger) Record(ctx context.Context, opt coupon.RecordOptions) error {
	key := opt.CouponCode + "/" + opt.UserID
	if f.redeemedByUser[key] {
		return coupon.ErrAlreadyRedeemed
	}
	f.redeemedByUser[key] = true
	f.redeemedByEmail[opt.CouponCode+"/"+opt.Email] = true
	f.records = append(f.records, opt)
	return nil
}

type fakePropagator struct {
	calls []bool
}

func (f *fakePropagator) Propagate(ctx context.Context, uid string, pro bool) error {
	f.calls = append(f.calls, pro)
	return nil
}

func testManager(t *testing.T, users *fakeUsers, ledger *fakeLedger, propagator *fakePropagator) *Manager {
	index, err := NewPlanIndex(definedPlans())
	require.NoError(t, err)

	manager, err := NewManager(ManagerOptions{
		StripeClient: &client.API{},
		Users:        users,
		Ledger:       ledger,
		Plans:        index,
		Coupons: &coupon.Config{
			Coupons: map[string]coupon.Rule{
				"FREELIFE": {
					Group:        "ambassadors",
					FreeLifetime: true,
				},
				"PARTNER50": {
					AllowedPriceIDs: []string{"price_yearly"},
					Group:           "partnerA",
				},
			},
			SourceGroups: map[string]string{},
		},
		Propagator: propagator,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return manager
}

func TestCreateRejectsUnknownPlan(t *testing.T) {
	manager := testManager(t, &fakeUsers{users: map[string]*user.User{}}, newFakeLedger(), &fakePropagator{})

	_, err := manager.Create(context.Background(), CreateOptions{
		UserID:  "user-1",
		PriceID: "price_unknown",
	})
	assert.Equal(t, ErrInvalidPlan, err)
}

func TestCreateFreeLifetime(t *testing.T) {
	users := &fakeUsers{
		users: map[string]*user.User{
			"user-1": {
				ID:    "user-1",
				Email: "one@example.com",
				Name:  "User One",
			},
		},
	}
	ledger := newFakeLedger()
	propagator := &fakePropagator{}
	manager := testManager(t, users, ledger, propagator)

	result, err := manager.Create(context.Background(), CreateOptions{
		UserID:       "user-1",
		PriceID:      "price_lifetime",
		CouponCode:   "FREELIFE",
		FreeLifetime: true,
	})
	require.NoError(t, err)

	assert.Equal(t, TypeLifetime, result.SubscriptionType)
	assert.True(t, result.Active)

	require.Len(t, users.grants, 1)
	assert.Equal(t, "FREELIFE", users.grants[0].CouponCode)
	assert.Equal(t, "ambassadors", users.grants[0].Group)

	require.Len(t, ledger.records, 1)
	assert.Equal(t, "one@example.com", ledger.records[0].Email)
	assert.Equal(t, string(TypeLifetime), ledger.records[0].SubscriptionType)

	require.Len(t, propagator.calls, 1)
	assert.True(t, propagator.calls[0])
}

func TestCreateFreeLifetimeDoubleRedemption(t *testing.T) {
	users := &fakeUsers{
		users: map[string]*user.User{
			"user-1": {
				ID:    "user-1",
				Email: "one@example.com",
			},
		},
	}
	ledger := newFakeLedger()
	ledger.redeemedByUser["FREELIFE/user-1"] = true
	propagator := &fakePropagator{}
	manager := testManager(t, users, ledger, propagator)

	_, err := manager.Create(context.Background(), CreateOptions{
		UserID:       "user-1",
		PriceID:      "price_lifetime",
		CouponCode:   "FREELIFE",
		FreeLifetime: true,
	})
	assert.Equal(t, coupon.ErrAlreadyRedeemed, err)

	// the failed attempt must not grant anything
	assert.Empty(t, users.grants)
	assert.False(t, users.users["user-1"].IsPro)
	assert.Empty(t, propagator.calls)
}

func TestCreateFreeLifetimeSameEmailDifferentAccount(t *testing.T) {
	users := &fakeUsers{
		users: map[string]*user.User{
			"user-2": {
				ID:    "user-2",
				Email: "one@example.com",
			},
		},
	}
	ledger := newFakeLedger()
	ledger.redeemedByEmail["FREELIFE/one@example.com"] = true
	manager := testManager(t, users, ledger, &fakePropagator{})

	_, err := manager.Create(context.Background(), CreateOptions{
		UserID:       "user-2",
		PriceID:      "price_lifetime",
		CouponCode:   "FREELIFE",
		FreeLifetime: true,
	})
	assert.Equal(t, coupon.ErrEmailAlreadyRedeemed, err)
	assert.Empty(t, users.grants)
}

func TestCreateFreeLifetimeRequiresEligibleCoupon(t *testing.T) {
	users := &fakeUsers{
		users: map[string]*user.User{
			"user-1": {ID: "user-1", Email: "one@example.com"},
		},
	}
	manager := testManager(t, users, newFakeLedger(), &fakePropagator{})

	// coupon is real but not flagged free
	_, err := manager.Create(context.Background(), CreateOptions{
		UserID:       "user-1",
		PriceID:      "price_lifetime",
		CouponCode:   "PARTNER50",
		FreeLifetime: true,
	})
	assert.Equal(t, ErrCouponInvalid, err)

	// free coupon on a recurring plan
	_, err = manager.Create(context.Background(), CreateOptions{
		UserID:       "user-1",
		PriceID:      "price_monthly",
		CouponCode:   "FREELIFE",
		FreeLifetime: true,
	})
	assert.Equal(t, ErrCouponInvalid, err)
}

func TestCreateFreeLifetimeAlreadyEntitled(t *testing.T) {
	users := &fakeUsers{
		users: map[string]*user.User{
			"user-1": {ID: "user-1", Email: "one@example.com", IsPro: true},
		},
	}
	manager := testManager(t, users, newFakeLedger(), &fakePropagator{})

	_, err := manager.Create(context.Background(), CreateOptions{
		UserID:       "user-1",
		PriceID:      "price_lifetime",
		CouponCode:   "FREELIFE",
		FreeLifetime: true,
	})
	assert.Equal(t, ErrAlreadyEntitled, err)
}

func TestCancelRequiresOwnership(t *testing.T) {
	subID := "sub_other"
	users := &fakeUsers{
		users: map[string]*user.User{
			"user-1": {
				ID:                   "user-1",
				Email:                "one@example.com",
				StripeSubscriptionID: &subID,
			},
		},
	}
	manager := testManager(t, users, newFakeLedger(), &fakePropagator{})

	err := manager.Cancel(context.Background(), "user-1", "sub_mine")
	assert.Equal(t, ErrUserNotFound, err)
}

func TestUserError(t *testing.T) {
	manager := testManager(t, &fakeUsers{users: map[string]*user.User{}}, newFakeLedger(), &fakePropagator{})

	for _, sentinel := range []error{
		ErrInvalidPlan,
		ErrAlreadyEntitled,
		ErrCouponInvalid,
		ErrCouponExpired,
		ErrCouponRestricted,
		coupon.ErrAlreadyRedeemed,
		coupon.ErrEmailAlreadyRedeemed,
	} {
		msg, ok := manager.UserError(sentinel)
		assert.True(t, ok)
		assert.NotEmpty(t, msg)
	}

	msg, ok := manager.UserError(&stripe.Error{
		Type: stripe.ErrorTypeCard,
		Msg:  "Your card was declined.",
	})
	assert.True(t, ok)
	assert.Equal(t, "Your card was declined.", msg)

	_, ok = manager.UserError(&stripe.Error{
		Type: stripe.ErrorTypeAPI,
		Msg:  "internal",
	})
	assert.False(t, ok)

	_, ok = manager.UserError(errors.New("database on fire"))
	assert.False(t, ok)
}
