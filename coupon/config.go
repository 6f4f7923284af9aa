package coupon

import (
	"encoding/json"
	"io/ioutil"

	extErrors "github.com/pkg/errors"
)

// Rule describes the deployment-time policy attached to a coupon code.
// AllowedPriceIDs is enforced independently of whatever restriction the payment
// gateway's own coupon object carries; an empty list means unrestricted
type Rule struct {
	AllowedPriceIDs []string `json:"allowedPriceIds"`
	Group           string   `json:"group"`        // partner group for reporting attribution
	FreeLifetime    bool     `json:"freeLifetime"` // redeemable for a lifetime entitlement without payment
}

// Config holds the static coupon tables. It is loaded once at process start and
// passed explicitly into the orchestrator and reconciler
type Config struct {
	Coupons      map[string]Rule   `json:"coupons"`
	SourceGroups map[string]string `json:"sourceGroups"` // acquisition-source tag -> partner group
}

// LoadConfigFromFile reads the coupon tables from a JSON file.
// Changing them is a deployment-time config change, not a runtime API
func LoadConfigFromFile(filename string) (*Config, error) {
	jsonBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open coupon config file")
	}
	var cfg Config
	if err := json.Unmarshal(jsonBytes, &cfg); err != nil {
		return nil, extErrors.Wrap(err, "Invalid coupon config file")
	}
	if cfg.Coupons == nil {
		cfg.Coupons = map[string]Rule{}
	}
	if cfg.SourceGroups == nil {
		cfg.SourceGroups = map[string]string{}
	}
	return &cfg, nil
}

// GroupFromCoupon returns the partner group mapped to a coupon code, or empty
// for unmapped codes
func (c *Config) GroupFromCoupon(code string) string {
	return c.Coupons[code].Group
}

// GroupFromSource returns the partner group mapped to an acquisition-source
// tag, or empty for unmapped tags
func (c *Config) GroupFromSource(source string) string {
	return c.SourceGroups[source]
}

// DetermineGroup resolves the reporting group for a user, preferring the
// coupon-derived group over the source-derived group when both are present
func (c *Config) DetermineGroup(couponCode, source string) string {
	if group := c.GroupFromCoupon(couponCode); len(group) > 0 {
		return group
	}
	return c.GroupFromSource(source)
}

// AllowsPrice reports whether the static allow-list permits the coupon to be
// applied to the given price. Codes without an allow-list are unrestricted
func (c *Config) AllowsPrice(code, priceID string) bool {
	rule, ok := c.Coupons[code]
	if !ok || len(rule.AllowedPriceIDs) == 0 {
		return true
	}
	for _, allowed := range rule.AllowedPriceIDs {
		if allowed == priceID {
			return true
		}
	}
	return false
}

// IsFreeLifetime reports whether the code grants a lifetime entitlement
// without touching the payment gateway
func (c *Config) IsFreeLifetime(code string) bool {
	return c.Coupons[code].FreeLifetime
}
