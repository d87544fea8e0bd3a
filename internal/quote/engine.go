package quote

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketplace/backend/internal/cache"
	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/pricing"
)

var tracer = otel.Tracer("marketplace/backend/internal/quote")

type Engine struct {
	cache    cache.QuoteCache
	cacheTTL time.Duration
	workers  int
	logger   *zap.Logger
}

func NewEngine(cacheStore cache.QuoteCache, cacheTTL time.Duration, logger *zap.Logger) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopQuoteCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		workers:  8,
		logger:   logger,
	}
}

// PriceProducts returns the buyer-facing display and sale price of each
// product, in input order. Cache failures fall back to computing the price.
func (e *Engine) PriceProducts(
	ctx context.Context,
	products []domain.Product,
	templates map[string]*domain.MarkupTemplate,
	promotions []domain.Promotion,
	now time.Time,
) ([]domain.ProductPrice, error) {
	ctx, span := tracer.Start(ctx, "quote.PriceProducts")
	defer span.End()
	span.SetAttributes(attribute.Int("quote.products", len(products)))

	promoKey := promotionsFingerprint(promotions)
	prices := make([]domain.ProductPrice, len(products))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, product := range products {
		i, product := i, product
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			template := templates[product.SellerID]
			key := buildCacheKey(product, template, promoKey)

			cached, ok, err := e.cache.Get(gctx, key)
			if err != nil {
				e.logger.Warn("quote cache get failed", zap.String("product_id", product.ID), zap.Error(err))
			}
			if err == nil && ok {
				prices[i] = *cached
				return nil
			}

			price, err := priceProduct(product, template, promotions, now)
			if err != nil {
				return fmt.Errorf("pricing %s: %w", product.ID, err)
			}
			prices[i] = price
			if err := e.cache.Set(gctx, key, &price, e.cacheTTL); err != nil {
				e.logger.Warn("quote cache set failed", zap.String("product_id", product.ID), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return prices, nil
}

func priceProduct(product domain.Product, template *domain.MarkupTemplate, promotions []domain.Promotion, now time.Time) (domain.ProductPrice, error) {
	markup := pricing.Resolve(product.BasePrice, template)
	res, err := pricing.ResolveDiscounts(product, markup.DisplayPrice, pricing.CartContext{Now: now}, promotions, nil)
	if err != nil {
		return domain.ProductPrice{}, err
	}

	price := domain.ProductPrice{
		ProductID:    product.ID,
		SellerID:     product.SellerID,
		DisplayPrice: markup.DisplayPrice,
		SalePrice:    res.FinalPrice,
	}
	if res.AppliedPromotion != nil {
		price.PromotionID = res.AppliedPromotion.ID
	}
	return price, nil
}

// BuyerView strips seller cost and markup from an assembled cart.
func BuyerView(assembly pricing.Assembly, currency string) domain.QuoteResponse {
	resp := domain.QuoteResponse{
		Currency:      currency,
		Lines:         make([]domain.QuoteLine, 0, len(assembly.Lines)),
		Subtotal:      assembly.Subtotal,
		DiscountTotal: assembly.DiscountTotal,
		Total:         assembly.Total,
	}
	for _, line := range assembly.Lines {
		resp.Lines = append(resp.Lines, domain.QuoteLine{
			ProductID:      line.ProductID,
			SellerID:       line.SellerID,
			Qty:            line.Qty,
			DisplayPrice:   line.DisplayPrice,
			DiscountAmount: line.DiscountAmount,
			LineTotal:      line.LineTotal,
			PromotionID:    line.PromotionID,
			CouponApplied:  line.CouponApplied,
		})
	}
	if assembly.Coupon != nil {
		resp.CouponCode = assembly.Coupon.Code
	}
	return resp
}

func promotionsFingerprint(promotions []domain.Promotion) string {
	parts := make([]string, 0, len(promotions))
	for _, promo := range promotions {
		parts = append(parts, fmt.Sprintf("%s:%t:%d:%s:%s:%d:%d",
			promo.ID, promo.IsActive, promo.Priority, promo.DiscountType, promo.DiscountValue.String(),
			promo.StartDate.Unix(), promo.EndDate.Unix()))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func buildCacheKey(product domain.Product, template *domain.MarkupTemplate, promoKey string) string {
	parts := []string{product.ID, product.BasePrice.String()}
	if template != nil {
		parts = append(parts, template.ID, fmt.Sprintf("t:%d", template.UpdatedAt.UnixNano()))
	}
	parts = append(parts, promoKey)

	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "marketplace:price:" + hex.EncodeToString(hash[:])
}
