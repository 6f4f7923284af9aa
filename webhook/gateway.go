package webhook

import (
	"context"
	"fmt"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// StripeResolver implements Gateway against the Stripe API
type StripeResolver struct {
	client *client.API
}

// NewStripeResolver returns a Gateway backed by the Stripe client
func NewStripeResolver(stripeClient *client.API) (*StripeResolver, error) {
	if stripeClient == nil {
		return nil, fmt.Errorf("nil stripeClient is invalid")
	}
	return &StripeResolver{
		client: stripeClient,
	}, nil
}

// CustomerMetadata fetches the metadata attached to a gateway customer
func (s *StripeResolver) CustomerMetadata(ctx context.Context, customerID string) (map[string]string, error) {
	cust, err := s.client.Customers.Get(customerID, &stripe.CustomerParams{
		Params: stripe.Params{
			Context: ctx,
		},
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot look up customer")
	}
	return cust.Metadata, nil
}

// PromotionCodeByCouponID returns the human-facing code of the promotion code
// attached to the coupon, or empty when the coupon has none
func (s *StripeResolver) PromotionCodeByCouponID(ctx context.Context, couponID string) (string, error) {
	listParams := &stripe.PromotionCodeListParams{
		ListParams: stripe.ListParams{
			Context: ctx,
		},
		Coupon: stripe.String(couponID),
	}
	iter := s.client.PromotionCodes.List(listParams)
	for iter.Next() {
		return iter.PromotionCode().Code, nil
	}
	if iter.Err() != nil {
		return "", extErrors.Wrap(iter.Err(), "Cannot look up promotion code by coupon")
	}
	return "", nil
}
