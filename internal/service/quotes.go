package service

import (
	"context"
	"errors"
	"strings"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/pricing"
	"marketplace/backend/internal/quote"
	"marketplace/backend/internal/store"
)

// Quote prices a cart for the buyer without redeeming the coupon.
func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (domain.QuoteResponse, error) {
	assembly, err := s.assemble(ctx, req.Buyer, req.CouponCode, req.Items)
	if err != nil {
		return domain.QuoteResponse{}, err
	}
	return quote.BuyerView(assembly, s.currency), nil
}

// ProductPrices returns catalog display and sale prices. No ids means every
// active product.
func (s *Service) ProductPrices(ctx context.Context, productIDs []string) (domain.ProductPriceResponse, error) {
	var products []domain.Product
	if len(productIDs) == 0 {
		all, err := s.repo.ListProducts(ctx)
		if err != nil {
			return domain.ProductPriceResponse{}, err
		}
		for _, product := range all {
			if product.Active {
				products = append(products, product)
			}
		}
	} else {
		ids := uniqueIDs(productIDs)
		byID, err := s.repo.GetProductsByIDs(ctx, ids)
		if err != nil {
			return domain.ProductPriceResponse{}, err
		}
		for _, id := range ids {
			product, ok := byID[id]
			if !ok {
				return domain.ProductPriceResponse{}, store.ErrNotFound.Withf("product %s", id)
			}
			products = append(products, product)
		}
	}

	sellerIDs := make([]string, 0, len(products))
	for _, product := range products {
		sellerIDs = append(sellerIDs, product.SellerID)
	}
	templates, err := s.sellerTemplates(ctx, sellerIDs)
	if err != nil {
		return domain.ProductPriceResponse{}, err
	}
	promotions, err := s.repo.ListPromotions(ctx)
	if err != nil {
		return domain.ProductPriceResponse{}, err
	}

	prices, err := s.quotes.PriceProducts(ctx, products, templates, promotions, s.now())
	if err != nil {
		return domain.ProductPriceResponse{}, err
	}
	return domain.ProductPriceResponse{Currency: s.currency, Prices: prices}, nil
}

func (s *Service) assemble(ctx context.Context, buyer domain.BuyerContext, couponCode string, items []domain.CartItem) (pricing.Assembly, error) {
	items, err := normalizeItems(items)
	if err != nil {
		return pricing.Assembly{}, err
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return pricing.Assembly{}, err
	}

	lines := make([]pricing.CartLine, 0, len(items))
	sellerIDs := make([]string, 0, len(items))
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			return pricing.Assembly{}, store.ErrNotFound.Withf("product %s", item.ProductID)
		}
		lines = append(lines, pricing.CartLine{Product: product, Qty: item.Qty})
		sellerIDs = append(sellerIDs, product.SellerID)
	}

	templates, err := s.sellerTemplates(ctx, sellerIDs)
	if err != nil {
		return pricing.Assembly{}, err
	}
	promotions, err := s.repo.ListPromotions(ctx)
	if err != nil {
		return pricing.Assembly{}, err
	}

	buyer.UserID = strings.TrimSpace(buyer.UserID)
	in := pricing.AssembleInput{
		Lines:      lines,
		Templates:  templates,
		Promotions: promotions,
		Buyer:      buyer,
		Now:        s.now(),
	}

	if code := pricing.NormalizeCouponCode(couponCode); code != "" {
		coupon, err := s.repo.GetCouponByCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return pricing.Assembly{}, domain.ErrCouponNotApplicable.Withf("coupon %s does not exist", code)
		}
		if err != nil {
			return pricing.Assembly{}, err
		}
		in.Coupon = coupon
		if buyer.UserID != "" {
			used, err := s.repo.CountCouponRedemptions(ctx, coupon.ID, buyer.UserID)
			if err != nil {
				return pricing.Assembly{}, err
			}
			in.UserRedemptions = used
		}
	}

	return pricing.Assemble(in)
}

// normalizeItems merges repeated products and keeps first-seen order.
func normalizeItems(items []domain.CartItem) ([]domain.CartItem, error) {
	if len(items) == 0 {
		return nil, domain.ErrInvalidInput.Withf("cart is empty")
	}
	index := make(map[string]int, len(items))
	out := make([]domain.CartItem, 0, len(items))
	for i, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return nil, domain.ErrInvalidInput.Withf("item %d: product_id is required", i)
		}
		if item.Qty < 1 {
			return nil, domain.ErrInvalidInput.Withf("item %d: qty must be at least 1", i)
		}
		if pos, seen := index[id]; seen {
			out[pos].Qty += item.Qty
			continue
		}
		index[id] = len(out)
		out = append(out, domain.CartItem{ProductID: id, Qty: item.Qty})
	}
	return out, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
