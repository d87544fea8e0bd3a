// Package seed loads catalog fixtures for the stores.
package seed

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"marketplace/backend/internal/domain"
)

//go:embed default.yaml
var defaultCatalog []byte

type Catalog struct {
	Sellers    []domain.Seller
	Products   []domain.Product
	Templates  []domain.MarkupTemplate
	Promotions []domain.Promotion
	Coupons    []domain.Coupon
}

type file struct {
	Sellers    []fileSeller    `yaml:"sellers"`
	Products   []fileProduct   `yaml:"products"`
	Templates  []fileTemplate  `yaml:"markup_templates"`
	Promotions []filePromotion `yaml:"promotions"`
	Coupons    []fileCoupon    `yaml:"coupons"`
}

type fileSeller struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	MarkupTemplateID string `yaml:"markup_template_id"`
}

type fileProduct struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	SellerID   string   `yaml:"seller_id"`
	BasePrice  string   `yaml:"base_price"`
	CategoryID string   `yaml:"category_id"`
	BrandID    string   `yaml:"brand_id"`
	TagIDs     []string `yaml:"tag_ids"`
	Active     *bool    `yaml:"active"`
}

type fileRange struct {
	MinPrice string `yaml:"min_price"`
	MaxPrice string `yaml:"max_price"`
	Mode     string `yaml:"mode"`
	Value    string `yaml:"value"`
}

type fileTemplate struct {
	ID        string      `yaml:"id"`
	Name      string      `yaml:"name"`
	Currency  string      `yaml:"currency"`
	IsDefault bool        `yaml:"is_default"`
	Inactive  bool        `yaml:"inactive"`
	Ranges    []fileRange `yaml:"ranges"`
}

type fileScope struct {
	Type string `yaml:"type"`
	ID   string `yaml:"id"`
}

type filePromotion struct {
	ID            string    `yaml:"id"`
	Name          string    `yaml:"name"`
	Type          string    `yaml:"type"`
	SellerID      string    `yaml:"seller_id"`
	DiscountType  string    `yaml:"discount_type"`
	DiscountValue string    `yaml:"discount_value"`
	Scope         fileScope `yaml:"scope"`
	StartDate     time.Time `yaml:"start_date"`
	EndDate       time.Time `yaml:"end_date"`
	Priority      int       `yaml:"priority"`
}

type fileCoupon struct {
	Code              string    `yaml:"code"`
	DiscountType      string    `yaml:"discount_type"`
	DiscountValue     string    `yaml:"discount_value"`
	Scope             fileScope `yaml:"scope"`
	MinOrderAmount    string    `yaml:"min_order_amount"`
	MaxDiscountAmount string    `yaml:"max_discount_amount"`
	UsageLimit        int       `yaml:"usage_limit"`
	UsageLimitPerUser int       `yaml:"usage_limit_per_user"`
	RequiresAuth      bool      `yaml:"requires_auth"`
	StartDate         time.Time `yaml:"start_date"`
	EndDate           time.Time `yaml:"end_date"`
}

// Default returns the built-in demo catalog.
func Default() Catalog {
	catalog, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("seed: built-in catalog is invalid: %v", err))
	}
	return catalog
}

func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("reading seed file %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (Catalog, error) {
	var raw file
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Catalog{}, fmt.Errorf("parsing seed catalog: %w", err)
	}

	now := time.Now().UTC()
	var catalog Catalog
	for _, s := range raw.Sellers {
		if strings.TrimSpace(s.ID) == "" {
			return Catalog{}, fmt.Errorf("seller %q: id is required", s.Name)
		}
		catalog.Sellers = append(catalog.Sellers, domain.Seller{ID: s.ID, Name: s.Name, MarkupTemplateID: s.MarkupTemplateID})
	}

	for _, p := range raw.Products {
		price, err := amount(p.BasePrice, "product "+p.ID+" base_price")
		if err != nil {
			return Catalog{}, err
		}
		active := true
		if p.Active != nil {
			active = *p.Active
		}
		catalog.Products = append(catalog.Products, domain.Product{
			ID:         p.ID,
			Name:       p.Name,
			SellerID:   p.SellerID,
			BasePrice:  price,
			CategoryID: p.CategoryID,
			BrandID:    p.BrandID,
			TagIDs:     p.TagIDs,
			Active:     active,
		})
	}

	for _, t := range raw.Templates {
		ranges := make([]domain.MarkupRange, 0, len(t.Ranges))
		for i, r := range t.Ranges {
			label := fmt.Sprintf("template %s range %d", t.ID, i)
			minPrice, err := amount(r.MinPrice, label+" min_price")
			if err != nil {
				return Catalog{}, err
			}
			value, err := amount(r.Value, label+" value")
			if err != nil {
				return Catalog{}, err
			}
			maxPrice, err := optionalAmount(r.MaxPrice, label+" max_price")
			if err != nil {
				return Catalog{}, err
			}
			ranges = append(ranges, domain.MarkupRange{
				MinPrice: minPrice,
				MaxPrice: maxPrice,
				Mode:     domain.MarkupMode(r.Mode),
				Value:    value,
			})
		}
		catalog.Templates = append(catalog.Templates, domain.MarkupTemplate{
			ID:        t.ID,
			Name:      t.Name,
			Currency:  t.Currency,
			Ranges:    ranges,
			IsActive:  !t.Inactive,
			IsDefault: t.IsDefault,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	for _, p := range raw.Promotions {
		value, err := amount(p.DiscountValue, "promotion "+p.ID+" discount_value")
		if err != nil {
			return Catalog{}, err
		}
		catalog.Promotions = append(catalog.Promotions, domain.Promotion{
			ID:            p.ID,
			Name:          p.Name,
			Type:          domain.PromotionType(p.Type),
			SellerID:      p.SellerID,
			DiscountType:  domain.DiscountType(p.DiscountType),
			DiscountValue: value,
			Scope:         domain.Scope{Kind: domain.ScopeKind(p.Scope.Type), ID: p.Scope.ID},
			StartDate:     p.StartDate,
			EndDate:       p.EndDate,
			Priority:      p.Priority,
			IsActive:      true,
			CreatedAt:     now,
		})
	}

	for _, c := range raw.Coupons {
		label := "coupon " + c.Code
		value, err := amount(c.DiscountValue, label+" discount_value")
		if err != nil {
			return Catalog{}, err
		}
		minOrder := decimal.Zero
		if c.MinOrderAmount != "" {
			if minOrder, err = amount(c.MinOrderAmount, label+" min_order_amount"); err != nil {
				return Catalog{}, err
			}
		}
		maxDiscount, err := optionalAmount(c.MaxDiscountAmount, label+" max_discount_amount")
		if err != nil {
			return Catalog{}, err
		}
		catalog.Coupons = append(catalog.Coupons, domain.Coupon{
			Code:              strings.ToUpper(strings.TrimSpace(c.Code)),
			DiscountType:      domain.DiscountType(c.DiscountType),
			DiscountValue:     value,
			Scope:             domain.Scope{Kind: domain.ScopeKind(c.Scope.Type), ID: c.Scope.ID},
			MinOrderAmount:    minOrder,
			MaxDiscountAmount: maxDiscount,
			UsageLimit:        c.UsageLimit,
			UsageLimitPerUser: c.UsageLimitPerUser,
			RequiresAuth:      c.RequiresAuth,
			StartDate:         c.StartDate,
			EndDate:           c.EndDate,
			IsActive:          true,
			CreatedAt:         now,
		})
	}

	return catalog, nil
}

func amount(raw string, field string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	return value, nil
}

func optionalAmount(raw string, field string) (*decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	value, err := amount(raw, field)
	if err != nil {
		return nil, err
	}
	return &value, nil
}
