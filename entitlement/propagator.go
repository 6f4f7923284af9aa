package entitlement

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Authorizer is the downstream claims store that gates pro-only features
type Authorizer interface {
	SetPro(uid string, pro bool) error
}

// CardStore flips the public visibility of a user's cards
type CardStore interface {
	SetActiveForUser(ctx context.Context, userID string, active bool) error
}

// Notifier publishes Change notifications for out-of-process consumers
type Notifier interface {
	PublishChange(change Change) error
}

// PropagatorOptions contains the collaborators for the Propagator
type PropagatorOptions struct {
	Authorizer Authorizer
	Cards      CardStore
	Notifier   Notifier // optional
	Logger     *zap.Logger
}

// Propagator makes downstream authorization and card-visibility state
// consistent with a user's entitlement flag. Both the subscription
// orchestrator and the webhook reconciler call this after every write
type Propagator struct {
	PropagatorOptions
}

// NewPropagator will create an instance of the entitlement Propagator
func NewPropagator(option PropagatorOptions) (*Propagator, error) {
	if option.Authorizer == nil {
		return nil, fmt.Errorf("nil Authorizer is invalid")
	}
	if option.Cards == nil {
		return nil, fmt.Errorf("nil Cards is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Propagator{
		PropagatorOptions: option,
	}, nil
}

// Propagate applies the entitlement flag to the claims store and card
// visibility, then notifies out-of-process consumers. The notification is best
// effort: the worker re-applies card visibility from it, so a lost message only
// loses the redundancy, not the state
func (p *Propagator) Propagate(ctx context.Context, uid string, pro bool) error {
	if err := p.Authorizer.SetPro(uid, pro); err != nil {
		return extErrors.Wrap(err, "Cannot propagate entitlement to claims")
	}
	if err := p.Cards.SetActiveForUser(ctx, uid, pro); err != nil {
		return extErrors.Wrap(err, "Cannot propagate entitlement to cards")
	}
	if p.Notifier != nil {
		if err := p.Notifier.PublishChange(Change{
			UserID: uid,
			IsPro:  pro,
			At:     time.Now(),
		}); err != nil {
			p.Logger.Error("Unable to publish entitlement change",
				zap.String("UserID", uid),
				zap.Error(err),
			)
		}
	}
	return nil
}
