package subscription

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	extErrors "github.com/pkg/errors"
)

// PlanType is the custom type for the entitlement granted by a plan
type PlanType string

// Defining constants
const (
	TypeMonthly  PlanType = "monthly"
	TypeYearly   PlanType = "yearly"
	TypeLifetime PlanType = "lifetime"
)

// Plan maps a gateway price identifier to the entitlement it grants.
// AmountInCents is the fixed base price used to compute one-time lifetime
// charges; recurring plans are billed by the gateway from the price itself
type Plan struct {
	PriceID       string   `json:"priceId"` // Corresponds to Stripe's Price ID
	Name          string   `json:"name"`    // Shown to the customer
	Type          PlanType `json:"type"`    // monthly, yearly, or lifetime
	AmountInCents int64    `json:"amountInCents"`
	Currency      string   `json:"currency"` // The ISO currency code (e.g. usd)
}

// LoadPlansFromFile will read from the plan JSON file to define what plans are
// available for purchase. Changing it is a deployment-time config change
func LoadPlansFromFile(filename string) ([]Plan, error) {
	jsonBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open plans JSON file")
	}
	plans := make([]Plan, 0, 1)
	if err := json.Unmarshal(jsonBytes, &plans); err != nil {
		return nil, extErrors.Wrap(err, "Invalid plan JSON file")
	}
	return plans, nil
}

// PlanIndex is the immutable priceID -> Plan lookup, built once at process
// start and passed explicitly into the orchestrator and reconciler
type PlanIndex struct {
	planArray      []Plan
	priceIDIndexMap map[string]int
}

// NewPlanIndex validates the defined plans and builds the lookup
func NewPlanIndex(plans []Plan) (*PlanIndex, error) {
	indexMap := make(map[string]int)
	for index, p := range plans {
		if len(p.PriceID) == 0 {
			return nil, fmt.Errorf("Plan %q has no price id", p.Name)
		}
		switch p.Type {
		case TypeMonthly, TypeYearly, TypeLifetime:
		default:
			return nil, fmt.Errorf("Plan %q has invalid type %q", p.Name, p.Type)
		}
		if indexMap[p.PriceID] != 0 {
			return nil, fmt.Errorf("Duplicate plan with price id %s", p.PriceID)
		}
		indexMap[p.PriceID] = index + 1
	}
	return &PlanIndex{
		planArray:       plans,
		priceIDIndexMap: indexMap,
	}, nil
}

// ListDefinedPlans returns all defined plans
func (i *PlanIndex) ListDefinedPlans() []Plan {
	return i.planArray
}

// ByPriceID returns the plan selling the given price
func (i *PlanIndex) ByPriceID(priceID string) (Plan, bool) {
	index := i.priceIDIndexMap[priceID]
	if index == 0 {
		return Plan{}, false
	}
	return i.planArray[index-1], true
}

// TypeOf returns the entitlement type granted by the given price
func (i *PlanIndex) TypeOf(priceID string) (PlanType, bool) {
	plan, ok := i.ByPriceID(priceID)
	if !ok {
		return "", false
	}
	return plan.Type, true
}
