package postgres

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"marketplace/backend/internal/seed"
	"marketplace/backend/internal/xid"
)

// Seed inserts the catalog, skipping rows that already exist.
func (s *Store) Seed(ctx context.Context, catalog seed.Catalog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, tpl := range catalog.Templates {
		ranges, err := json.Marshal(tpl.Ranges)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO markup_templates (id, name, currency, ranges, is_active, is_default, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
			ON CONFLICT (id) DO NOTHING
		`, tpl.ID, tpl.Name, tpl.Currency, string(ranges), tpl.IsActive, tpl.IsDefault, now)
		if err != nil {
			return err
		}
	}

	for _, seller := range catalog.Sellers {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sellers (id, name, markup_template_id)
			VALUES ($1,$2,$3)
			ON CONFLICT (id) DO NOTHING
		`, seller.ID, seller.Name, nullIfEmpty(seller.MarkupTemplateID))
		if err != nil {
			return err
		}
	}

	for _, product := range catalog.Products {
		tags, err := json.Marshal(product.TagIDs)
		if err != nil {
			return err
		}
		if product.TagIDs == nil {
			tags = []byte("[]")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO products (id, name, seller_id, base_price, category_id, brand_id, tag_ids, active)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (id) DO NOTHING
		`, product.ID, product.Name, product.SellerID, product.BasePrice, nullIfEmpty(product.CategoryID),
			nullIfEmpty(product.BrandID), string(tags), product.Active)
		if err != nil {
			return err
		}
	}

	for _, promo := range catalog.Promotions {
		if promo.ID == "" {
			promo.ID = xid.New("promo")
		}
		if promo.CreatedAt.IsZero() {
			promo.CreatedAt = now
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO promotions (
				id, name, type, seller_id, discount_type, discount_value, scope_type, scope_id,
				start_date, end_date, priority, is_active, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (id) DO NOTHING
		`, promo.ID, promo.Name, promo.Type, nullIfEmpty(promo.SellerID), promo.DiscountType, promo.DiscountValue,
			scopeKind(promo.Scope), nullIfEmpty(promo.Scope.ID), nullTime(promo.StartDate), nullTime(promo.EndDate),
			promo.Priority, promo.IsActive, promo.CreatedAt)
		if err != nil {
			return err
		}
	}

	for _, coupon := range catalog.Coupons {
		if coupon.ID == "" {
			coupon.ID = xid.New("cpn")
		}
		if coupon.CreatedAt.IsZero() {
			coupon.CreatedAt = now
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO coupons (
				id, code, discount_type, discount_value, scope_type, scope_id, min_order_amount, max_discount_amount,
				usage_limit, usage_limit_per_user, requires_auth, start_date, end_date, used_count, is_active, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,0,$14,$15)
			ON CONFLICT (code) DO NOTHING
		`, coupon.ID, strings.ToUpper(coupon.Code), coupon.DiscountType, coupon.DiscountValue, scopeKind(coupon.Scope),
			nullIfEmpty(coupon.Scope.ID), coupon.MinOrderAmount, nullDecimal(coupon.MaxDiscountAmount), coupon.UsageLimit,
			coupon.UsageLimitPerUser, coupon.RequiresAuth, nullTime(coupon.StartDate), nullTime(coupon.EndDate),
			coupon.IsActive, coupon.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}
