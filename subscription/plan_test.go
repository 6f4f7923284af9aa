package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func definedPlans() []Plan {
	return []Plan{
		{
			PriceID:       "price_monthly",
			Name:          "Pro Monthly",
			Type:          TypeMonthly,
			AmountInCents: 299,
			Currency:      "usd",
		},
		{
			PriceID:       "price_yearly",
			Name:          "Pro Yearly",
			Type:          TypeYearly,
			AmountInCents: 2499,
			Currency:      "usd",
		},
		{
			PriceID:       "price_lifetime",
			Name:          "Pro Lifetime",
			Type:          TypeLifetime,
			AmountInCents: 9999,
			Currency:      "usd",
		},
	}
}

func TestPlanIndexLookup(t *testing.T) {
	index, err := NewPlanIndex(definedPlans())
	require.NoError(t, err)

	plan, ok := index.ByPriceID("price_yearly")
	require.True(t, ok)
	assert.Equal(t, TypeYearly, plan.Type)
	assert.Equal(t, int64(2499), plan.AmountInCents)

	planType, ok := index.TypeOf("price_lifetime")
	require.True(t, ok)
	assert.Equal(t, TypeLifetime, planType)

	_, ok = index.ByPriceID("price_unknown")
	assert.False(t, ok)

	assert.Len(t, index.ListDefinedPlans(), 3)
}

func TestPlanIndexRejectsInvalidType(t *testing.T) {
	_, err := NewPlanIndex([]Plan{
		{
			PriceID: "price_weird",
			Name:    "Weird",
			Type:    PlanType("weekly"),
		},
	})
	assert.Error(t, err)
}

func TestPlanIndexRejectsDuplicatePriceID(t *testing.T) {
	plans := definedPlans()
	plans = append(plans, plans[0])
	_, err := NewPlanIndex(plans)
	assert.Error(t, err)
}

func TestPlanIndexRejectsMissingPriceID(t *testing.T) {
	_, err := NewPlanIndex([]Plan{
		{
			Name: "No Price",
			Type: TypeMonthly,
		},
	})
	assert.Error(t, err)
}
