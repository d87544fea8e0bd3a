package seed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/backend/internal/domain"
)

func TestDefaultCatalog(t *testing.T) {
	catalog := Default()

	require.Len(t, catalog.Sellers, 2)
	require.Len(t, catalog.Templates, 2)
	assert.True(t, catalog.Templates[0].IsDefault)
	assert.Nil(t, catalog.Templates[0].Ranges[1].MaxPrice)
	assert.Equal(t, domain.MarkupModePercentage, catalog.Templates[0].Ranges[1].Mode)

	var inactive int
	for _, p := range catalog.Products {
		if !p.Active {
			inactive++
		}
	}
	assert.Equal(t, 1, inactive)
}

func TestLoadFileWithCoupons(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := `
coupons:
  - code: " save10 "
    discount_type: percentage
    discount_value: "10"
    min_order_amount: "5000"
    max_discount_amount: "25000"
    usage_limit_per_user: 1
    start_date: 2026-01-01T00:00:00Z
    end_date: 2026-12-31T23:59:59Z
promotions:
  - id: promo-apparel
    name: Apparel week
    type: system
    discount_type: percentage
    discount_value: "15"
    scope: {type: category, id: apparel}
    start_date: 2026-01-01T00:00:00Z
    end_date: 2026-12-31T23:59:59Z
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	catalog, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, catalog.Coupons, 1)
	coupon := catalog.Coupons[0]
	assert.Equal(t, "SAVE10", coupon.Code)
	require.NotNil(t, coupon.MaxDiscountAmount)
	assert.Equal(t, "25000", coupon.MaxDiscountAmount.String())
	assert.Equal(t, 2026, coupon.EndDate.Year())

	require.Len(t, catalog.Promotions, 1)
	assert.Equal(t, domain.ScopeCategory, catalog.Promotions[0].Scope.Kind)
	assert.Equal(t, "apparel", catalog.Promotions[0].Scope.ID)
}

func TestParseRejectsBadAmount(t *testing.T) {
	_, err := Parse([]byte("products:\n  - id: p1\n    base_price: cheap\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "product p1 base_price")
}
