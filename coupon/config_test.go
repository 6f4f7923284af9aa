package coupon

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Coupons: map[string]Rule{
			"PARTNER50": {
				AllowedPriceIDs: []string{"price_yearly"},
				Group:           "partnerA",
			},
			"FREELIFE": {
				Group:        "ambassadors",
				FreeLifetime: true,
			},
			"ANYPLAN": {},
		},
		SourceGroups: map[string]string{
			"campaign-2026": "partnerB",
		},
	}
}

func TestDetermineGroup(t *testing.T) {
	cfg := testConfig()

	// coupon-derived group wins over source-derived
	assert.Equal(t, "partnerA", cfg.DetermineGroup("PARTNER50", "campaign-2026"))
	assert.Equal(t, "partnerB", cfg.DetermineGroup("", "campaign-2026"))
	assert.Equal(t, "partnerB", cfg.DetermineGroup("ANYPLAN", "campaign-2026"))

	// unmapped stays empty, not an error
	assert.Equal(t, "", cfg.DetermineGroup("UNKNOWN", "unknown-source"))
	assert.Equal(t, "", cfg.DetermineGroup("", ""))
}

func TestAllowsPrice(t *testing.T) {
	cfg := testConfig()

	assert.True(t, cfg.AllowsPrice("PARTNER50", "price_yearly"))
	assert.False(t, cfg.AllowsPrice("PARTNER50", "price_monthly"))

	// empty allow-list means unrestricted
	assert.True(t, cfg.AllowsPrice("ANYPLAN", "price_monthly"))
	// codes outside the table are not restricted by the static policy
	assert.True(t, cfg.AllowsPrice("UNKNOWN", "price_monthly"))
}

func TestIsFreeLifetime(t *testing.T) {
	cfg := testConfig()

	assert.True(t, cfg.IsFreeLifetime("FREELIFE"))
	assert.False(t, cfg.IsFreeLifetime("PARTNER50"))
	assert.False(t, cfg.IsFreeLifetime("UNKNOWN"))
}

func TestLoadConfigFromFile(t *testing.T) {
	file, err := ioutil.TempFile("", "coupons-*.json")
	require.NoError(t, err)
	defer os.Remove(file.Name())

	_, err = file.WriteString(`{
		"coupons": {
			"PARTNER50": {
				"allowedPriceIds": ["price_yearly"],
				"group": "partnerA"
			}
		}
	}`)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	cfg, err := LoadConfigFromFile(file.Name())
	require.NoError(t, err)

	assert.Equal(t, "partnerA", cfg.GroupFromCoupon("PARTNER50"))
	// omitted tables default to empty maps
	assert.NotNil(t, cfg.SourceGroups)
	assert.Equal(t, "", cfg.GroupFromSource("campaign-2026"))
}

func TestLoadConfigFromFileMissing(t *testing.T) {
	_, err := LoadConfigFromFile("/nonexistent/coupons.json")
	assert.Error(t, err)
}
