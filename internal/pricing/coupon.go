package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"marketplace/backend/internal/domain"
)

// CheckCoupon evaluates the cart-level coupon conditions. Scope is checked
// per line by ResolveDiscounts.
func CheckCoupon(coupon domain.Coupon, cart CartContext) error {
	if !coupon.IsActive {
		return domain.ErrCouponInactive.Withf("coupon %s is disabled", coupon.Code)
	}
	if !withinWindow(coupon.StartDate, coupon.EndDate, cart.Now) {
		return domain.ErrCouponInactive.Withf("coupon %s is outside its validity window", coupon.Code)
	}
	if coupon.RequiresAuth && !cart.Buyer.Authenticated {
		return domain.ErrCouponAuthRequired.Withf("coupon %s requires a signed-in buyer", coupon.Code)
	}
	if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
		return domain.ErrCouponExhausted.Withf("coupon %s reached its usage limit of %d", coupon.Code, coupon.UsageLimit)
	}
	if coupon.UsageLimitPerUser > 0 {
		if strings.TrimSpace(cart.Buyer.UserID) == "" {
			return domain.ErrCouponAuthRequired.Withf("coupon %s is limited per buyer and needs a buyer id", coupon.Code)
		}
		if cart.UserRedemptions >= coupon.UsageLimitPerUser {
			return domain.ErrCouponUserLimit.Withf("coupon %s already used %d times by this buyer", coupon.Code, cart.UserRedemptions)
		}
	}
	if cart.Subtotal.LessThan(coupon.MinOrderAmount) {
		return domain.ErrCouponMinOrder.Withf("coupon %s needs a subtotal of %s, cart has %s", coupon.Code, coupon.MinOrderAmount, cart.Subtotal)
	}
	return nil
}

func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateDiscount checks a promotion or coupon discount definition.
func ValidateDiscount(discountType domain.DiscountType, value decimal.Decimal) error {
	switch discountType {
	case domain.DiscountPercentage, domain.DiscountFixed:
	default:
		return domain.ErrInvalidInput.Withf("unknown discount type %q", discountType)
	}
	if !value.IsPositive() {
		return domain.ErrInvalidInput.Withf("discount value must be positive")
	}
	if discountType == domain.DiscountPercentage && value.GreaterThan(hundred) {
		return domain.ErrInvalidInput.Withf("percentage discount cannot exceed 100")
	}
	return nil
}
