package entitlement

import "time"

// Change is the notification published whenever a user's entitlement flag is
// re-derived, either by the subscription orchestrator or the webhook reconciler
type Change struct {
	UserID string    `json:"userId"`
	IsPro  bool      `json:"isPro"`
	At     time.Time `json:"at"`
}
