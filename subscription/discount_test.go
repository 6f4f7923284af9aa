package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscountedAmountPercentOff(t *testing.T) {
	assert.Equal(t, int64(1499), DiscountedAmount(1999, 25, 0))
	assert.Equal(t, int64(0), DiscountedAmount(1999, 100, 0))
	assert.Equal(t, int64(1000), DiscountedAmount(2000, 50, 0))
	// rounds to the nearest cent
	assert.Equal(t, int64(67), DiscountedAmount(100, 33, 0))
}

func TestDiscountedAmountAmountOff(t *testing.T) {
	assert.Equal(t, int64(1499), DiscountedAmount(1999, 0, 500))
	// never goes negative
	assert.Equal(t, int64(0), DiscountedAmount(300, 0, 500))
	assert.Equal(t, int64(0), DiscountedAmount(500, 0, 500))
}

func TestDiscountedAmountNoDiscount(t *testing.T) {
	assert.Equal(t, int64(1999), DiscountedAmount(1999, 0, 0))
}
