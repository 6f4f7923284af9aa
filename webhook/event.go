package webhook

import (
	"encoding/json"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
)

// Kind enumerates the event types the reconciler acts on
type Kind string

// Defining constants
const (
	KindSubscriptionCreated Kind = "customer.subscription.created"
	KindSubscriptionUpdated Kind = "customer.subscription.updated"
	KindSubscriptionDeleted Kind = "customer.subscription.deleted"
	KindInvoicePaid         Kind = "invoice.paid"
	KindPaymentSucceeded    Kind = "payment_intent.succeeded"
	KindIgnored             Kind = ""
)

// Event is the verified, decoded form of a gateway notification. Exactly one
// of the payload fields is set, matching Kind; an Event with KindIgnored
// carries no payload and must be acknowledged without action
type Event struct {
	ID            string
	Kind          Kind
	Subscription  *stripe.Subscription
	Invoice       *stripe.Invoice
	PaymentIntent *stripe.PaymentIntent
}

// Decode verifies the payload signature against the endpoint secret and
// decodes the payload into a typed Event. A signature failure is returned as
// an error; an event type outside the handled set decodes to KindIgnored
func Decode(payload []byte, sigHeader, secret string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, sigHeader, secret)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot verify webhook signature")
	}

	event := &Event{
		ID:   stripeEvent.ID,
		Kind: KindIgnored,
	}

	switch Kind(stripeEvent.Type) {
	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sub); err != nil {
			return nil, extErrors.Wrap(err, "Cannot decode subscription event")
		}
		event.Kind = Kind(stripeEvent.Type)
		event.Subscription = &sub
	case KindInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(stripeEvent.Data.Raw, &inv); err != nil {
			return nil, extErrors.Wrap(err, "Cannot decode invoice event")
		}
		event.Kind = KindInvoicePaid
		event.Invoice = &inv
	case KindPaymentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(stripeEvent.Data.Raw, &pi); err != nil {
			return nil, extErrors.Wrap(err, "Cannot decode payment intent event")
		}
		event.Kind = KindPaymentSucceeded
		event.PaymentIntent = &pi
	}

	return event, nil
}
