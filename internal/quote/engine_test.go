package quote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/pricing"
)

type mapCache struct {
	mu     sync.Mutex
	values map[string]domain.ProductPrice
	hits   int
	getErr error
}

func newMapCache() *mapCache {
	return &mapCache{values: map[string]domain.ProductPrice{}}
}

func (c *mapCache) Get(_ context.Context, key string) (*domain.ProductPrice, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	price, ok := c.values[key]
	if ok {
		c.hits++
	}
	return &price, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value *domain.ProductPrice, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = *value
	return nil
}

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func catalog() ([]domain.Product, map[string]*domain.MarkupTemplate, []domain.Promotion) {
	products := []domain.Product{
		{ID: "prd-a", SellerID: "sel-a", BasePrice: decimal.NewFromInt(5900), CategoryID: "apparel", Active: true},
		{ID: "prd-b", SellerID: "sel-b", BasePrice: decimal.NewFromInt(20000), CategoryID: "coffee", Active: true},
	}
	templates := map[string]*domain.MarkupTemplate{
		"sel-a": {
			ID:       "tpl-flat",
			IsActive: true,
			Ranges:   []domain.MarkupRange{{MinPrice: decimal.Zero, Mode: domain.MarkupModeFixed, Value: decimal.NewFromInt(1000)}},
		},
	}
	promotions := []domain.Promotion{{
		ID:            "promo-apparel",
		Type:          domain.PromotionSystem,
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(15),
		Scope:         domain.Scope{Kind: domain.ScopeCategory, ID: "apparel"},
		StartDate:     now.Add(-time.Hour),
		EndDate:       now.Add(time.Hour),
		IsActive:      true,
	}}
	return products, templates, promotions
}

func TestPriceProductsKeepsOrderAndAppliesPromotion(t *testing.T) {
	products, templates, promotions := catalog()
	engine := NewEngine(nil, time.Minute, nil)

	prices, err := engine.PriceProducts(context.Background(), products, templates, promotions, now)
	require.NoError(t, err)
	require.Len(t, prices, 2)

	assert.Equal(t, "prd-a", prices[0].ProductID)
	assert.Equal(t, "6900", prices[0].DisplayPrice.String())
	assert.Equal(t, "5865", prices[0].SalePrice.String())
	assert.Equal(t, "promo-apparel", prices[0].PromotionID)

	assert.Equal(t, "prd-b", prices[1].ProductID)
	assert.Equal(t, "20000", prices[1].DisplayPrice.String())
	assert.Equal(t, "20000", prices[1].SalePrice.String())
	assert.Empty(t, prices[1].PromotionID)
}

func TestPriceProductsServesFromCache(t *testing.T) {
	products, templates, promotions := catalog()
	store := newMapCache()
	engine := NewEngine(store, time.Minute, nil)

	first, err := engine.PriceProducts(context.Background(), products, templates, promotions, now)
	require.NoError(t, err)
	assert.Equal(t, 0, store.hits)

	second, err := engine.PriceProducts(context.Background(), products, templates, promotions, now)
	require.NoError(t, err)
	assert.Equal(t, 2, store.hits)
	assert.Equal(t, first, second)

	promotions[0].IsActive = false
	third, err := engine.PriceProducts(context.Background(), products, templates, promotions, now)
	require.NoError(t, err)
	assert.Equal(t, 2, store.hits)
	assert.Equal(t, "6900", third[0].SalePrice.String())
}

func TestPriceProductsIgnoresCacheErrors(t *testing.T) {
	products, templates, promotions := catalog()
	store := newMapCache()
	store.getErr = errors.New("redis down")
	engine := NewEngine(store, time.Minute, nil)

	prices, err := engine.PriceProducts(context.Background(), products, templates, promotions, now)
	require.NoError(t, err)
	assert.Equal(t, "5865", prices[0].SalePrice.String())
}

func TestBuyerViewHidesMarkup(t *testing.T) {
	products, templates, promotions := catalog()
	assembly, err := pricing.Assemble(pricing.AssembleInput{
		Lines:      []pricing.CartLine{{Product: products[0], Qty: 2}},
		Templates:  templates,
		Promotions: promotions,
		Now:        now,
	})
	require.NoError(t, err)

	view := BuyerView(assembly, "IDR")
	require.Len(t, view.Lines, 1)
	assert.Equal(t, "IDR", view.Currency)
	assert.Equal(t, "6900", view.Lines[0].DisplayPrice.String())
	assert.Equal(t, "2070", view.Lines[0].DiscountAmount.String())
	assert.Equal(t, "11730", view.Total.String())
	assert.Empty(t, view.CouponCode)
}
