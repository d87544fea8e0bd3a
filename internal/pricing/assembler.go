package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"marketplace/backend/internal/domain"
)

type CartLine struct {
	Product domain.Product
	Qty     int
}

type AssembleInput struct {
	Lines []CartLine
	// Templates maps a seller id to its effective markup template. A missing
	// or nil entry means no markup for that seller.
	Templates  map[string]*domain.MarkupTemplate
	Promotions []domain.Promotion
	Coupon     *domain.Coupon
	Buyer      domain.BuyerContext
	// UserRedemptions is how often the buyer already redeemed Coupon.
	UserRedemptions int
	Now             time.Time
}

// Line amounts are totals for the whole quantity.
type Line struct {
	ProductID         string
	SellerID          string
	Qty               int
	BasePrice         decimal.Decimal
	MarkupAmount      decimal.Decimal
	DisplayPrice      decimal.Decimal
	PromotionID       string
	PromotionDiscount decimal.Decimal
	CouponDiscount    decimal.Decimal
	DiscountAmount    decimal.Decimal
	LineTotal         decimal.Decimal
	CouponApplied     bool
}

type SellerLines struct {
	SellerID string
	Lines    []Line
	Subtotal decimal.Decimal
	Payout   decimal.Decimal
}

type Assembly struct {
	Lines           []Line
	Groups          []SellerLines
	Subtotal        decimal.Decimal
	DiscountTotal   decimal.Decimal
	Total           decimal.Decimal
	SellerPayout    decimal.Decimal
	PlatformRevenue decimal.Decimal
	Coupon          *domain.Coupon
}

// Assemble prices a cart: markup first, then promotion and coupon per line.
// The coupon's max discount amount is a budget for the whole cart and is
// consumed line by line in cart order.
func Assemble(in AssembleInput) (Assembly, error) {
	if len(in.Lines) == 0 {
		return Assembly{}, domain.ErrInvalidInput.Withf("cart is empty")
	}

	lines := make([]Line, 0, len(in.Lines))
	subtotal := decimal.Zero
	for i, cartLine := range in.Lines {
		product := cartLine.Product
		if cartLine.Qty < 1 {
			return Assembly{}, domain.ErrInvalidInput.Withf("line %d: qty must be at least 1", i)
		}
		if !product.Active {
			return Assembly{}, domain.ErrInvalidInput.Withf("product %s is not available", product.ID)
		}
		if product.BasePrice.IsNegative() {
			return Assembly{}, domain.ErrInvalidInput.Withf("product %s has a negative base price", product.ID)
		}

		markup := Resolve(product.BasePrice, in.Templates[product.SellerID])
		lines = append(lines, Line{
			ProductID:    product.ID,
			SellerID:     product.SellerID,
			Qty:          cartLine.Qty,
			BasePrice:    product.BasePrice,
			MarkupAmount: markup.MarkupAmount,
			DisplayPrice: markup.DisplayPrice,
		})
		subtotal = subtotal.Add(markup.DisplayPrice.Mul(decimal.NewFromInt(int64(cartLine.Qty))))
	}

	cart := CartContext{
		Subtotal:        subtotal,
		Buyer:           in.Buyer,
		UserRedemptions: in.UserRedemptions,
		Now:             in.Now,
	}

	var couponBudget *decimal.Decimal
	if in.Coupon != nil && in.Coupon.MaxDiscountAmount != nil {
		budget := *in.Coupon.MaxDiscountAmount
		couponBudget = &budget
	}

	eligibleLines := 0
	for i := range lines {
		line := &lines[i]
		qty := decimal.NewFromInt(int64(line.Qty))

		res, err := ResolveDiscounts(in.Lines[i].Product, line.DisplayPrice, cart, in.Promotions, in.Coupon)
		if err != nil {
			return Assembly{}, err
		}

		line.PromotionDiscount = res.PromotionDiscount.Mul(qty)
		if res.AppliedPromotion != nil {
			line.PromotionID = res.AppliedPromotion.ID
		}

		couponDiscount := res.CouponDiscount.Mul(qty)
		if res.AppliedCoupon != nil {
			eligibleLines++
			if couponBudget != nil {
				couponDiscount = decimal.Min(couponDiscount, *couponBudget)
				remaining := couponBudget.Sub(couponDiscount)
				couponBudget = &remaining
			}
			line.CouponApplied = couponDiscount.IsPositive()
		}
		line.CouponDiscount = couponDiscount

		gross := line.DisplayPrice.Mul(qty)
		line.DiscountAmount = clamp(line.PromotionDiscount.Add(line.CouponDiscount), gross)
		line.LineTotal = gross.Sub(line.DiscountAmount)
	}

	if in.Coupon != nil && eligibleLines == 0 {
		return Assembly{}, domain.ErrCouponNotApplicable.Withf("coupon %s does not cover any product in the cart", in.Coupon.Code)
	}

	assembly := Assembly{
		Lines:         lines,
		Subtotal:      subtotal,
		DiscountTotal: decimal.Zero,
		Total:         decimal.Zero,
		SellerPayout:  decimal.Zero,
		Coupon:        in.Coupon,
	}

	groupIndex := make(map[string]int)
	for _, line := range lines {
		payout := line.BasePrice.Mul(decimal.NewFromInt(int64(line.Qty)))
		assembly.DiscountTotal = assembly.DiscountTotal.Add(line.DiscountAmount)
		assembly.Total = assembly.Total.Add(line.LineTotal)
		assembly.SellerPayout = assembly.SellerPayout.Add(payout)

		idx, ok := groupIndex[line.SellerID]
		if !ok {
			idx = len(assembly.Groups)
			groupIndex[line.SellerID] = idx
			assembly.Groups = append(assembly.Groups, SellerLines{
				SellerID: line.SellerID,
				Subtotal: decimal.Zero,
				Payout:   decimal.Zero,
			})
		}
		group := &assembly.Groups[idx]
		group.Lines = append(group.Lines, line)
		group.Subtotal = group.Subtotal.Add(line.LineTotal)
		group.Payout = group.Payout.Add(payout)
	}
	assembly.PlatformRevenue = assembly.Total.Sub(assembly.SellerPayout)

	return assembly, nil
}
