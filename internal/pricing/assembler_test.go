package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/backend/internal/domain"
)

func flatTemplate(value string) *domain.MarkupTemplate {
	return &domain.MarkupTemplate{
		ID: "tpl-flat",
		Ranges: []domain.MarkupRange{
			{MinPrice: dec("0"), Mode: domain.MarkupModeFixed, Value: dec(value)},
		},
		IsActive: true,
	}
}

func TestAssembleSingleLineScenario(t *testing.T) {
	in := AssembleInput{
		Lines:     []CartLine{{Product: shoe(), Qty: 1}},
		Templates: map[string]*domain.MarkupTemplate{"sel-a": flatTemplate("1000")},
		Promotions: []domain.Promotion{
			activePromotion("promo-cat5", domain.DiscountPercentage, "15", domain.Scope{Kind: domain.ScopeCategory, ID: "5"}),
		},
		Coupon: save10(),
		Now:    testNow,
	}

	assembly, err := Assemble(in)
	require.NoError(t, err)
	require.Len(t, assembly.Lines, 1)

	line := assembly.Lines[0]
	assertDecimal(t, "5900", line.BasePrice)
	assertDecimal(t, "1000", line.MarkupAmount)
	assertDecimal(t, "6900", line.DisplayPrice)
	assertDecimal(t, "1621.5", line.DiscountAmount)
	assertDecimal(t, "5278.5", line.LineTotal)
	assert.Equal(t, "promo-cat5", line.PromotionID)
	assert.True(t, line.CouponApplied)

	assertDecimal(t, "6900", assembly.Subtotal)
	assertDecimal(t, "5278.5", assembly.Total)
	assertDecimal(t, "5900", assembly.SellerPayout)
	assertDecimal(t, "-621.5", assembly.PlatformRevenue)
}

func TestAssembleLineTotalIdentity(t *testing.T) {
	second := shoe()
	second.ID = "prd-cap"
	second.SellerID = "sel-b"
	second.BasePrice = dec("1250.50")
	second.CategoryID = "7"

	in := AssembleInput{
		Lines: []CartLine{{Product: shoe(), Qty: 2}, {Product: second, Qty: 3}},
		Templates: map[string]*domain.MarkupTemplate{
			"sel-a": flatTemplate("100"),
			"sel-b": {Ranges: []domain.MarkupRange{{MinPrice: dec("0"), Mode: domain.MarkupModePercentage, Value: dec("12.5")}}},
		},
		Promotions: []domain.Promotion{
			activePromotion("promo-all", domain.DiscountPercentage, "5", domain.Scope{Kind: domain.ScopeAll}),
		},
		Now: testNow,
	}

	assembly, err := Assemble(in)
	require.NoError(t, err)
	require.Len(t, assembly.Groups, 2)
	assert.Equal(t, "sel-a", assembly.Groups[0].SellerID)
	assert.Equal(t, "sel-b", assembly.Groups[1].SellerID)

	for _, line := range assembly.Lines {
		gross := line.DisplayPrice.Mul(decimal.NewFromInt(int64(line.Qty)))
		assert.True(t, gross.Sub(line.DiscountAmount).Equal(line.LineTotal), "line %s", line.ProductID)
		assert.True(t, line.DisplayPrice.Equal(line.BasePrice.Add(line.MarkupAmount)), "line %s", line.ProductID)
	}
	assertDecimal(t, "11800", assembly.Groups[0].Payout)
	assertDecimal(t, "3751.5", assembly.Groups[1].Payout)
	assert.True(t, assembly.Total.Sub(assembly.SellerPayout).Equal(assembly.PlatformRevenue))
}

func TestAssembleCouponCapSpansCart(t *testing.T) {
	coupon := save10()
	coupon.DiscountValue = dec("50")
	coupon.MinOrderAmount = dec("0")
	coupon.MaxDiscountAmount = decPtr("100")

	cheap := shoe()
	cheap.BasePrice = dec("150")

	in := AssembleInput{
		Lines:  []CartLine{{Product: cheap, Qty: 1}, {Product: cheap, Qty: 1}},
		Coupon: coupon,
		Now:    testNow,
	}

	assembly, err := Assemble(in)
	require.NoError(t, err)
	assertDecimal(t, "75", assembly.Lines[0].CouponDiscount)
	assertDecimal(t, "25", assembly.Lines[1].CouponDiscount)
	assertDecimal(t, "100", assembly.DiscountTotal)
	assertDecimal(t, "200", assembly.Total)
}

func TestAssembleCouponWithoutEligibleLineFails(t *testing.T) {
	coupon := save10()
	coupon.MinOrderAmount = dec("0")
	coupon.Scope = domain.Scope{Kind: domain.ScopeBrand, ID: "brand-x"}

	_, err := Assemble(AssembleInput{
		Lines:  []CartLine{{Product: shoe(), Qty: 1}},
		Coupon: coupon,
		Now:    testNow,
	})
	assert.True(t, errors.Is(err, domain.ErrCouponNotApplicable))
	assert.True(t, errors.Is(err, domain.ErrNotApplicable))
}

func TestAssembleMinOrderUsesDisplaySubtotal(t *testing.T) {
	cheap := shoe()
	cheap.BasePrice = dec("4500")

	in := AssembleInput{
		Lines:  []CartLine{{Product: cheap, Qty: 1}},
		Coupon: save10(),
		Now:    testNow,
	}
	_, err := Assemble(in)
	assert.True(t, errors.Is(err, domain.ErrCouponMinOrder))

	in.Templates = map[string]*domain.MarkupTemplate{"sel-a": flatTemplate("500")}
	assembly, err := Assemble(in)
	require.NoError(t, err)
	assertDecimal(t, "4500", assembly.Total)
}

func TestAssembleDiscountFloorsAtZero(t *testing.T) {
	cheap := shoe()
	cheap.BasePrice = dec("300")

	assembly, err := Assemble(AssembleInput{
		Lines:      []CartLine{{Product: cheap, Qty: 2}},
		Promotions: []domain.Promotion{activePromotion("promo-big", domain.DiscountFixed, "500", domain.Scope{Kind: domain.ScopeAll})},
		Now:        testNow,
	})
	require.NoError(t, err)
	assertDecimal(t, "0", assembly.Total)
	assertDecimal(t, "600", assembly.DiscountTotal)
	assertDecimal(t, "-600", assembly.PlatformRevenue)
}

func TestAssembleRejectsBadLines(t *testing.T) {
	_, err := Assemble(AssembleInput{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = Assemble(AssembleInput{Lines: []CartLine{{Product: shoe(), Qty: 0}}})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	inactive := shoe()
	inactive.Active = false
	_, err = Assemble(AssembleInput{Lines: []CartLine{{Product: inactive, Qty: 1}}})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
