package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/store"
	"marketplace/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates missing tables. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, name, seller_id, base_price, COALESCE(category_id, ''), COALESCE(brand_id, ''), tag_ids, active`

func scanProduct(scan func(dest ...any) error) (domain.Product, error) {
	var p domain.Product
	var tags []byte
	if err := scan(&p.ID, &p.Name, &p.SellerID, &p.BasePrice, &p.CategoryID, &p.BrandID, &tags, &p.Active); err != nil {
		return domain.Product{}, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &p.TagIDs); err != nil {
			return domain.Product{}, fmt.Errorf("decode tags of %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb))
	`, string(idsJSON))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) ListSellers(ctx context.Context) ([]domain.Seller, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, COALESCE(markup_template_id, '') FROM sellers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sellers := make([]domain.Seller, 0, 32)
	for rows.Next() {
		var seller domain.Seller
		if err := rows.Scan(&seller.ID, &seller.Name, &seller.MarkupTemplateID); err != nil {
			return nil, err
		}
		sellers = append(sellers, seller)
	}
	return sellers, rows.Err()
}

func (s *Store) GetSeller(ctx context.Context, id string) (*domain.Seller, error) {
	var seller domain.Seller
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(markup_template_id, '')
		FROM sellers
		WHERE id = $1
	`, id).Scan(&seller.ID, &seller.Name, &seller.MarkupTemplateID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound.Withf("seller %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &seller, nil
}

func (s *Store) AssignSellerTemplate(ctx context.Context, sellerID string, templateID string) (*domain.Seller, error) {
	if templateID != "" {
		if _, err := s.GetMarkupTemplate(ctx, templateID); err != nil {
			return nil, err
		}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sellers SET markup_template_id = $2 WHERE id = $1`, sellerID, nullIfEmpty(templateID))
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, store.ErrNotFound.Withf("seller %s", sellerID)
	}
	return s.GetSeller(ctx, sellerID)
}

const templateColumns = `id, name, currency, ranges, is_active, is_default, created_at, updated_at`

func scanTemplate(scan func(dest ...any) error) (domain.MarkupTemplate, error) {
	var tpl domain.MarkupTemplate
	var ranges []byte
	if err := scan(&tpl.ID, &tpl.Name, &tpl.Currency, &ranges, &tpl.IsActive, &tpl.IsDefault, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
		return domain.MarkupTemplate{}, err
	}
	if err := json.Unmarshal(ranges, &tpl.Ranges); err != nil {
		return domain.MarkupTemplate{}, fmt.Errorf("decode ranges of %s: %w", tpl.ID, err)
	}
	return tpl, nil
}

func (s *Store) CreateMarkupTemplate(ctx context.Context, template domain.MarkupTemplate) (*domain.MarkupTemplate, error) {
	if strings.TrimSpace(template.Name) == "" {
		return nil, store.ErrInvalidRecord.Withf("template name is required")
	}
	if template.ID == "" {
		template.ID = xid.New("tpl")
	}
	if template.CreatedAt.IsZero() {
		template.CreatedAt = time.Now().UTC()
	}
	template.UpdatedAt = template.CreatedAt

	if err := s.saveTemplate(ctx, template, true); err != nil {
		return nil, err
	}
	return &template, nil
}

func (s *Store) UpdateMarkupTemplate(ctx context.Context, template domain.MarkupTemplate) (*domain.MarkupTemplate, error) {
	existing, err := s.GetMarkupTemplate(ctx, template.ID)
	if err != nil {
		return nil, err
	}
	template.CreatedAt = existing.CreatedAt
	template.UpdatedAt = time.Now().UTC()

	if err := s.saveTemplate(ctx, template, false); err != nil {
		return nil, err
	}
	return &template, nil
}

func (s *Store) saveTemplate(ctx context.Context, template domain.MarkupTemplate, insert bool) error {
	ranges, err := json.Marshal(template.Ranges)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if template.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE markup_templates SET is_default = false WHERE is_default AND id <> $1`, template.ID); err != nil {
			return err
		}
	}

	if insert {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO markup_templates (id, name, currency, ranges, is_active, is_default, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, template.ID, template.Name, template.Currency, string(ranges), template.IsActive, template.IsDefault, template.CreatedAt, template.UpdatedAt)
		if isUniqueViolation(err) {
			return store.ErrConflict.Withf("markup template %s already exists", template.ID)
		}
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE markup_templates
			SET name = $2, currency = $3, ranges = $4, is_active = $5, is_default = $6, updated_at = $7
			WHERE id = $1
		`, template.ID, template.Name, template.Currency, string(ranges), template.IsActive, template.IsDefault, template.UpdatedAt)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetMarkupTemplate(ctx context.Context, id string) (*domain.MarkupTemplate, error) {
	tpl, err := scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM markup_templates WHERE id = $1`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound.Withf("markup template %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (s *Store) ListMarkupTemplates(ctx context.Context) ([]domain.MarkupTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM markup_templates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := make([]domain.MarkupTemplate, 0, 16)
	for rows.Next() {
		tpl, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

func (s *Store) GetDefaultMarkupTemplate(ctx context.Context) (*domain.MarkupTemplate, error) {
	tpl, err := scanTemplate(s.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+`
		FROM markup_templates
		WHERE is_default AND is_active
		LIMIT 1
	`).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound.Withf("no active default markup template")
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

const promotionColumns = `id, name, type, COALESCE(seller_id, ''), discount_type, discount_value, scope_type, COALESCE(scope_id, ''), start_date, end_date, priority, is_active, created_at`

func scanPromotion(scan func(dest ...any) error) (domain.Promotion, error) {
	var p domain.Promotion
	var start, end sql.NullTime
	if err := scan(&p.ID, &p.Name, &p.Type, &p.SellerID, &p.DiscountType, &p.DiscountValue, &p.Scope.Kind, &p.Scope.ID, &start, &end, &p.Priority, &p.IsActive, &p.CreatedAt); err != nil {
		return domain.Promotion{}, err
	}
	p.StartDate = start.Time
	p.EndDate = end.Time
	return p, nil
}

func (s *Store) CreatePromotion(ctx context.Context, promo domain.Promotion) (*domain.Promotion, error) {
	if strings.TrimSpace(promo.Name) == "" {
		return nil, store.ErrInvalidRecord.Withf("promotion name is required")
	}
	if promo.ID == "" {
		promo.ID = xid.New("promo")
	}
	if promo.CreatedAt.IsZero() {
		promo.CreatedAt = time.Now().UTC()
	}
	promo.IsActive = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO promotions (
			id, name, type, seller_id, discount_type, discount_value, scope_type, scope_id,
			start_date, end_date, priority, is_active, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, promo.ID, promo.Name, promo.Type, nullIfEmpty(promo.SellerID), promo.DiscountType, promo.DiscountValue,
		scopeKind(promo.Scope), nullIfEmpty(promo.Scope.ID), nullTime(promo.StartDate), nullTime(promo.EndDate),
		promo.Priority, promo.IsActive, promo.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

func (s *Store) ListPromotions(ctx context.Context) ([]domain.Promotion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+promotionColumns+` FROM promotions ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	promos := make([]domain.Promotion, 0, 32)
	for rows.Next() {
		p, err := scanPromotion(rows.Scan)
		if err != nil {
			return nil, err
		}
		promos = append(promos, p)
	}
	return promos, rows.Err()
}

func (s *Store) UpdatePromotionActive(ctx context.Context, id string, active bool) (*domain.Promotion, error) {
	p, err := scanPromotion(s.db.QueryRowContext(ctx, `
		UPDATE promotions SET is_active = $2 WHERE id = $1
		RETURNING `+promotionColumns, id, active).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound.Withf("promotion %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const couponColumns = `id, code, discount_type, discount_value, scope_type, COALESCE(scope_id, ''), min_order_amount, max_discount_amount,
	usage_limit, usage_limit_per_user, requires_auth, start_date, end_date, used_count, is_active, created_at`

func scanCoupon(scan func(dest ...any) error) (domain.Coupon, error) {
	var c domain.Coupon
	var maxDiscount decimal.NullDecimal
	var start, end sql.NullTime
	if err := scan(&c.ID, &c.Code, &c.DiscountType, &c.DiscountValue, &c.Scope.Kind, &c.Scope.ID, &c.MinOrderAmount, &maxDiscount,
		&c.UsageLimit, &c.UsageLimitPerUser, &c.RequiresAuth, &start, &end, &c.UsedCount, &c.IsActive, &c.CreatedAt); err != nil {
		return domain.Coupon{}, err
	}
	if maxDiscount.Valid {
		value := maxDiscount.Decimal
		c.MaxDiscountAmount = &value
	}
	c.StartDate = start.Time
	c.EndDate = end.Time
	return c, nil
}

func (s *Store) CreateCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error) {
	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	if coupon.Code == "" {
		return nil, store.ErrInvalidRecord.Withf("coupon code is required")
	}
	if coupon.ID == "" {
		coupon.ID = xid.New("cpn")
	}
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = time.Now().UTC()
	}
	coupon.UsedCount = 0
	coupon.IsActive = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coupons (
			id, code, discount_type, discount_value, scope_type, scope_id, min_order_amount, max_discount_amount,
			usage_limit, usage_limit_per_user, requires_auth, start_date, end_date, used_count, is_active, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, coupon.ID, coupon.Code, coupon.DiscountType, coupon.DiscountValue, scopeKind(coupon.Scope), nullIfEmpty(coupon.Scope.ID),
		coupon.MinOrderAmount, nullDecimal(coupon.MaxDiscountAmount), coupon.UsageLimit, coupon.UsageLimitPerUser,
		coupon.RequiresAuth, nullTime(coupon.StartDate), nullTime(coupon.EndDate), coupon.UsedCount, coupon.IsActive, coupon.CreatedAt)
	if isUniqueViolation(err) {
		return nil, store.ErrConflict.Withf("coupon code %s already exists", coupon.Code)
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (s *Store) ListCoupons(ctx context.Context) ([]domain.Coupon, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+couponColumns+` FROM coupons ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	coupons := make([]domain.Coupon, 0, 32)
	for rows.Next() {
		c, err := scanCoupon(rows.Scan)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, c)
	}
	return coupons, rows.Err()
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	c, err := scanCoupon(s.db.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`,
		strings.ToUpper(strings.TrimSpace(code))).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound.Withf("coupon %s", code)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCouponActive(ctx context.Context, id string, active bool) (*domain.Coupon, error) {
	c, err := scanCoupon(s.db.QueryRowContext(ctx, `
		UPDATE coupons SET is_active = $2 WHERE id = $1
		RETURNING `+couponColumns, id, active).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound.Withf("coupon %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CountCouponRedemptions(ctx context.Context, couponID string, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT used_count FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2
	`, couponID, userID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, COALESCE(detail, ''), created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord.Withf("username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RoleOperator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict.Withf("user %s already exists", username)
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, password, role, active, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord.Withf("username and password are required")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return store.ErrNotFound.Withf("user %s", username)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

func scopeKind(scope domain.Scope) string {
	if scope.Kind == "" {
		return string(domain.ScopeAll)
	}
	return string(scope.Kind)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}
