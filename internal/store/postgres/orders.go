package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/store"
	"marketplace/backend/internal/xid"
)

func (s *Store) PlaceOrder(ctx context.Context, order domain.Order, redemption *domain.CouponRedemption) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, store.ErrInvalidRecord.Withf("order has no items")
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt
	order.Version = 1

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if redemption != nil {
		if err := redeemCoupon(ctx, pgTx, redemption); err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO orders (
			id, buyer_id, status, currency, subtotal, discount_total, total,
			seller_payout, platform_revenue, coupon_code, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, order.ID, nullIfEmpty(order.BuyerID), order.Status, order.Currency, order.Subtotal, order.DiscountTotal, order.Total,
		order.SellerPayout, order.PlatformRevenue, nullIfEmpty(order.CouponCode), order.Version, order.CreatedAt, order.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, store.ErrConflict.Withf("order %s already exists", order.ID)
	}
	if err != nil {
		return nil, err
	}

	for idx, item := range order.Items {
		if err := insertItem(ctx, pgTx, order.ID, idx, item); err != nil {
			return nil, err
		}
	}
	for idx, entry := range order.Timeline {
		if err := insertTimelineEntry(ctx, pgTx, order.ID, idx, entry); err != nil {
			return nil, err
		}
	}
	for idx, refund := range order.Refunds {
		if err := insertRefund(ctx, pgTx, order.ID, idx, refund); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return nil, store.ErrConflict.Withf("order %s: concurrent write, retry", order.ID)
		}
		return nil, err
	}
	out := domain.CloneOrder(order)
	return &out, nil
}

// redeemCoupon locks the coupon and the buyer's usage row, checks both limits
// and consumes one use.
func redeemCoupon(ctx context.Context, q queryer, redemption *domain.CouponRedemption) error {
	var code string
	var usageLimit, perUserLimit, usedCount int
	err := q.QueryRowContext(ctx, `
		SELECT code, usage_limit, usage_limit_per_user, used_count
		FROM coupons
		WHERE id = $1
		FOR UPDATE
	`, redemption.CouponID).Scan(&code, &usageLimit, &perUserLimit, &usedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound.Withf("coupon %s", redemption.Code)
	}
	if err != nil {
		return err
	}
	if usageLimit > 0 && usedCount >= usageLimit {
		return domain.ErrCouponExhausted.Withf("coupon %s reached its usage limit of %d", code, usageLimit)
	}

	var used int
	err = q.QueryRowContext(ctx, `
		SELECT used_count FROM coupon_usages
		WHERE coupon_id = $1 AND user_id = $2
		FOR UPDATE
	`, redemption.CouponID, redemption.UserID).Scan(&used)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if perUserLimit > 0 && used >= perUserLimit {
		return domain.ErrCouponUserLimit.Withf("coupon %s already used %d times by this buyer", code, used)
	}

	if _, err := q.ExecContext(ctx, `UPDATE coupons SET used_count = used_count + 1 WHERE id = $1`, redemption.CouponID); err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO coupon_usages (coupon_id, user_id, used_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (coupon_id, user_id) DO UPDATE SET used_count = coupon_usages.used_count + 1
	`, redemption.CouponID, redemption.UserID)
	return err
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := loadOrder(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id
		FROM orders o
		WHERE ($1 = '' OR o.status = $1)
		  AND ($2 = '' OR EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id AND i.seller_id = $2))
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $3
	`, string(filter.Status), filter.SellerID, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		order, err := loadOrder(ctx, s.db, id, false)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// UpdateOrder locks the order row, runs mutate on the loaded snapshot and
// writes back the diff. Timeline entries and refunds are append-only, so only
// rows past the loaded length are inserted.
func (s *Store) UpdateOrder(ctx context.Context, id string, mutate store.OrderMutation) (*domain.Order, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	current, err := loadOrder(ctx, pgTx, id, true)
	if err != nil {
		return nil, err
	}

	draft := domain.CloneOrder(*current)
	if err := mutate(&draft); err != nil {
		return nil, err
	}
	draft.ID = current.ID
	draft.Version = current.Version + 1

	res, err := pgTx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, version = $3, updated_at = $4
		WHERE id = $1 AND version = $5
	`, draft.ID, draft.Status, draft.Version, draft.UpdatedAt, current.Version)
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, store.ErrConflict.Withf("order %s was modified concurrently", id)
	}

	for _, item := range draft.Items {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE order_items
			SET status = $2, tracking_number = $3, carrier = $4, updated_at = $5
			WHERE id = $1
		`, item.ID, item.Status, nullIfEmpty(item.TrackingNumber), nullIfEmpty(item.Carrier), item.UpdatedAt)
		if err != nil {
			return nil, err
		}
	}

	for idx := len(current.Timeline); idx < len(draft.Timeline); idx++ {
		if err := insertTimelineEntry(ctx, pgTx, draft.ID, idx, draft.Timeline[idx]); err != nil {
			return nil, err
		}
	}

	for idx, refund := range draft.Refunds {
		if idx >= len(current.Refunds) {
			if err := insertRefund(ctx, pgTx, draft.ID, idx, refund); err != nil {
				return nil, err
			}
			continue
		}
		prev := current.Refunds[idx]
		if prev.Status == refund.Status {
			continue
		}
		_, err := pgTx.ExecContext(ctx, `
			UPDATE order_refunds SET status = $2, settled_at = $3 WHERE id = $1
		`, refund.ID, refund.Status, refund.SettledAt)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return nil, store.ErrConflict.Withf("order %s: concurrent write, retry", id)
		}
		return nil, err
	}
	out := domain.CloneOrder(draft)
	return &out, nil
}

func loadOrder(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.Order, error) {
	query := `
		SELECT id, COALESCE(buyer_id, ''), status, currency, subtotal, discount_total, total,
			seller_payout, platform_revenue, COALESCE(coupon_code, ''), version, created_at, updated_at
		FROM orders
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var order domain.Order
	err := q.QueryRowContext(ctx, query, id).Scan(
		&order.ID, &order.BuyerID, &order.Status, &order.Currency, &order.Subtotal, &order.DiscountTotal, &order.Total,
		&order.SellerPayout, &order.PlatformRevenue, &order.CouponCode, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound.Withf("order %s", id)
	}
	if err != nil {
		return nil, err
	}

	if order.Items, err = loadItems(ctx, q, id); err != nil {
		return nil, err
	}
	if order.Timeline, err = loadTimeline(ctx, q, id); err != nil {
		return nil, err
	}
	if order.Refunds, err = loadRefunds(ctx, q, id); err != nil {
		return nil, err
	}
	return &order, nil
}

func loadItems(ctx context.Context, q queryer, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, seller_id, status, base_price, markup_amount, display_price, quantity,
			COALESCE(promotion_id, ''), promotion_discount, coupon_discount, discount_amount, line_total,
			COALESCE(tracking_number, ''), COALESCE(carrier, ''), updated_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.SellerID, &item.Status, &item.BasePrice, &item.MarkupAmount,
			&item.DisplayPrice, &item.Quantity, &item.PromotionID, &item.PromotionDiscount, &item.CouponDiscount,
			&item.DiscountAmount, &item.LineTotal, &item.TrackingNumber, &item.Carrier, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func loadTimeline(ctx context.Context, q queryer, orderID string) ([]domain.TimelineEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, status, COALESCE(item_id, ''), kind, COALESCE(note, ''), actor, notify_customer, created_at
		FROM order_timeline
		WHERE order_id = $1
		ORDER BY seq
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.TimelineEntry, 0, 8)
	for rows.Next() {
		var entry domain.TimelineEntry
		if err := rows.Scan(&entry.ID, &entry.Status, &entry.ItemID, &entry.Kind, &entry.Note, &entry.Actor,
			&entry.NotifyCustomer, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func loadRefunds(ctx context.Context, q queryer, orderID string) ([]domain.Refund, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, amount, COALESCE(reason, ''), status, refund_type, items, actor, created_at, settled_at
		FROM order_refunds
		WHERE order_id = $1
		ORDER BY seq
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		var refund domain.Refund
		var items []byte
		var settledAt sql.NullTime
		if err := rows.Scan(&refund.ID, &refund.OrderID, &refund.Amount, &refund.Reason, &refund.Status, &refund.Type,
			&items, &refund.Actor, &refund.CreatedAt, &settledAt); err != nil {
			return nil, err
		}
		if len(items) > 0 {
			if err := json.Unmarshal(items, &refund.Items); err != nil {
				return nil, fmt.Errorf("decode items of refund %s: %w", refund.ID, err)
			}
		}
		if settledAt.Valid {
			at := settledAt.Time
			refund.SettledAt = &at
		}
		refunds = append(refunds, refund)
	}
	return refunds, rows.Err()
}

func insertItem(ctx context.Context, q queryer, orderID string, position int, item domain.OrderItem) error {
	if item.ID == "" {
		return store.ErrInvalidRecord.Withf("order item at position %d has no id", position)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO order_items (
			id, order_id, position, product_id, seller_id, status, base_price, markup_amount, display_price, quantity,
			promotion_id, promotion_discount, coupon_discount, discount_amount, line_total, tracking_number, carrier, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, item.ID, orderID, position, item.ProductID, item.SellerID, item.Status, item.BasePrice, item.MarkupAmount,
		item.DisplayPrice, item.Quantity, nullIfEmpty(item.PromotionID), item.PromotionDiscount, item.CouponDiscount,
		item.DiscountAmount, item.LineTotal, nullIfEmpty(item.TrackingNumber), nullIfEmpty(item.Carrier), item.UpdatedAt)
	return err
}

func insertTimelineEntry(ctx context.Context, q queryer, orderID string, seq int, entry domain.TimelineEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO order_timeline (id, order_id, seq, status, item_id, kind, note, actor, notify_customer, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, orderID, seq, entry.Status, nullIfEmpty(entry.ItemID), entry.Kind, nullIfEmpty(entry.Note), entry.Actor,
		entry.NotifyCustomer, entry.CreatedAt)
	return err
}

func insertRefund(ctx context.Context, q queryer, orderID string, seq int, refund domain.Refund) error {
	items := []byte("[]")
	if len(refund.Items) > 0 {
		encoded, err := json.Marshal(refund.Items)
		if err != nil {
			return err
		}
		items = encoded
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO order_refunds (id, order_id, seq, amount, reason, status, refund_type, items, actor, created_at, settled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, refund.ID, orderID, seq, refund.Amount, nullIfEmpty(refund.Reason), refund.Status, refund.Type, string(items),
		refund.Actor, refund.CreatedAt, refund.SettledAt)
	return err
}
