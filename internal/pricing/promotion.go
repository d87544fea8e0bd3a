package pricing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"marketplace/backend/internal/domain"
)

// CartContext carries the cart-level facts that coupon eligibility depends on.
type CartContext struct {
	Subtotal decimal.Decimal
	Buyer    domain.BuyerContext
	// UserRedemptions is how often the buyer already redeemed the coupon.
	UserRedemptions int
	Now             time.Time
}

// Resolution is the per-unit discount breakdown for one product.
type Resolution struct {
	PromotionDiscount decimal.Decimal
	CouponDiscount    decimal.Decimal
	DiscountAmount    decimal.Decimal
	FinalPrice        decimal.Decimal
	AppliedPromotion  *domain.Promotion
	AppliedCoupon     *domain.Coupon
	// CouponSkipped explains why a supplied coupon did not apply to this
	// product. It never fails the cart on its own.
	CouponSkipped error
}

// ResolveDiscounts applies the best eligible promotion to displayPrice and the
// coupon on top of the promotional price. Cart-level coupon failures are
// returned as errors; a scope miss only sets CouponSkipped.
func ResolveDiscounts(product domain.Product, displayPrice decimal.Decimal, cart CartContext, promotions []domain.Promotion, coupon *domain.Coupon) (Resolution, error) {
	res := Resolution{
		PromotionDiscount: decimal.Zero,
		CouponDiscount:    decimal.Zero,
		DiscountAmount:    decimal.Zero,
		FinalPrice:        displayPrice,
	}

	if promo := SelectPromotion(promotions, product, cart.Now); promo != nil {
		res.AppliedPromotion = promo
		res.PromotionDiscount = ComputeDiscount(promo.DiscountType, promo.DiscountValue, displayPrice, nil)
	}
	afterPromotion := displayPrice.Sub(res.PromotionDiscount)

	if coupon != nil {
		if err := CheckCoupon(*coupon, cart); err != nil {
			return Resolution{}, err
		}
		if ScopeMatches(coupon.Scope, product) {
			res.AppliedCoupon = coupon
			res.CouponDiscount = ComputeDiscount(coupon.DiscountType, coupon.DiscountValue, afterPromotion, coupon.MaxDiscountAmount)
		} else {
			res.CouponSkipped = domain.ErrScopeMismatch.Withf("coupon %s does not cover product %s", coupon.Code, product.ID)
		}
	}

	res.DiscountAmount = res.PromotionDiscount.Add(res.CouponDiscount)
	res.FinalPrice = displayPrice.Sub(res.DiscountAmount)
	if res.FinalPrice.IsNegative() {
		res.FinalPrice = decimal.Zero
	}
	return res, nil
}

func PromotionEligible(promo domain.Promotion, product domain.Product, now time.Time) bool {
	if !promo.IsActive {
		return false
	}
	if !withinWindow(promo.StartDate, promo.EndDate, now) {
		return false
	}
	if promo.Type == domain.PromotionSeller && promo.SellerID != product.SellerID {
		return false
	}
	return ScopeMatches(promo.Scope, product)
}

// SelectPromotion picks the single winning promotion for product: highest
// priority, then the most recently created, then the lowest id.
func SelectPromotion(promotions []domain.Promotion, product domain.Product, now time.Time) *domain.Promotion {
	eligible := make([]domain.Promotion, 0, len(promotions))
	for _, promo := range promotions {
		if PromotionEligible(promo, product, now) {
			eligible = append(eligible, promo)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	winner := eligible[0]
	return &winner
}

// ComputeDiscount returns the discount on base, never more than base. The
// ceiling only bounds percentage discounts.
func ComputeDiscount(discountType domain.DiscountType, value decimal.Decimal, base decimal.Decimal, ceiling *decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() || !value.IsPositive() {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch discountType {
	case domain.DiscountPercentage:
		discount = RoundCurrency(value.Mul(base).Div(hundred))
		if ceiling != nil && discount.GreaterThan(*ceiling) {
			discount = *ceiling
		}
	case domain.DiscountFixed:
		discount = value
	default:
		return decimal.Zero
	}
	return clamp(discount, base)
}

func withinWindow(start, end, now time.Time) bool {
	if !start.IsZero() && now.Before(start) {
		return false
	}
	if !end.IsZero() && now.After(end) {
		return false
	}
	return true
}
