package broker

import (
	"context"

	"github.com/helixcard/helix/entitlement"
)

// Producer publishes entitlement change notifications
type Producer interface {
	PublishChange(change entitlement.Change) error
}

// Consumer receives entitlement change notifications
type Consumer interface {
	ReceiveChanges(ctx context.Context) (<-chan entitlement.Change, error)
}
