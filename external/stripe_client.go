package external

import "github.com/stripe/stripe-go/v72/client"

// NewStripeClient returns an initialized Stripe API client with the given secret key
func NewStripeClient(key string) *client.API {
	sc := &client.API{}
	sc.Init(key, nil)
	return sc
}
