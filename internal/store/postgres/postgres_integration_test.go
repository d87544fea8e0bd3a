package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/fulfillment"
	"marketplace/backend/internal/seed"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("MARKETPLACE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MARKETPLACE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Seed(ctx, seed.Default()))
	return s
}

func cleanupOrder(t *testing.T, s *Store, orderID string) {
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_refunds WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_timeline WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	})
}

func integrationOrder(id string) domain.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	total := decimal.NewFromInt(1000)
	return domain.Order{
		ID:       id,
		Status:   domain.OrderProcessing,
		Currency: "IDR",
		Subtotal: total,
		Total:    total,
		Items: []domain.OrderItem{{
			ID:           id + "-1",
			ProductID:    "prd-batik-shirt",
			SellerID:     "sel-batik",
			Status:       domain.ItemProcessing,
			BasePrice:    decimal.NewFromInt(900),
			MarkupAmount: decimal.NewFromInt(100),
			DisplayPrice: total,
			Quantity:     1,
			LineTotal:    total,
			UpdatedAt:    now,
		}},
		Timeline: []domain.TimelineEntry{{
			ID:        id + "-placed",
			Status:    string(domain.OrderProcessing),
			Kind:      domain.TimelinePlaced,
			Actor:     "system",
			CreatedAt: now,
		}},
		CreatedAt: now,
	}
}

func TestPlaceOrderConsumesCouponOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	coupon, err := s.CreateCoupon(ctx, domain.Coupon{
		Code:              fmt.Sprintf("it-%d", stamp),
		DiscountType:      domain.DiscountFixed,
		DiscountValue:     decimal.NewFromInt(10),
		UsageLimitPerUser: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM coupon_usages WHERE coupon_id = $1`, coupon.ID)
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM coupons WHERE id = $1`, coupon.ID)
	})

	redemption := &domain.CouponRedemption{CouponID: coupon.ID, Code: coupon.Code, UserID: "it-buyer"}
	first := fmt.Sprintf("ord-it-%d-a", stamp)
	cleanupOrder(t, s, first)
	_, err = s.PlaceOrder(ctx, integrationOrder(first), redemption)
	require.NoError(t, err)

	second := fmt.Sprintf("ord-it-%d-b", stamp)
	cleanupOrder(t, s, second)
	_, err = s.PlaceOrder(ctx, integrationOrder(second), redemption)
	assert.True(t, errors.Is(err, domain.ErrCouponUserLimit), "got %v", err)

	count, err := s.CountCouponRedemptions(ctx, coupon.ID, "it-buyer")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpdateOrderPersistsRefundAndTimeline(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	orderID := fmt.Sprintf("ord-it-%d", time.Now().UnixNano())
	cleanupOrder(t, s, orderID)
	_, err := s.PlaceOrder(ctx, integrationOrder(orderID), nil)
	require.NoError(t, err)

	updated, err := s.UpdateOrder(ctx, orderID, func(order *domain.Order) error {
		_, err := fulfillment.ApplyRefund(order, domain.RefundRequest{
			Type:     domain.RefundPartial,
			Amount:   decimal.NewFromInt(400),
			Reason:   "damaged",
			Deferred: true,
		}, fulfillment.RefundOptions{Actor: "admin"})
		return err
	})
	require.NoError(t, err)
	require.Len(t, updated.Refunds, 1)
	assert.Equal(t, int64(2), updated.Version)

	_, err = s.UpdateOrder(ctx, orderID, func(order *domain.Order) error {
		_, err := fulfillment.SettleRefund(order, order.Refunds[0].ID, true, "gateway ok", fulfillment.RefundOptions{Actor: "admin"})
		return err
	})
	require.NoError(t, err)

	stored, err := s.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, stored.Refunds, 1)
	assert.Equal(t, domain.RefundCompleted, stored.Refunds[0].Status)
	assert.NotNil(t, stored.Refunds[0].SettledAt)
	assert.Len(t, stored.Timeline, 3)
	assert.Equal(t, int64(3), stored.Version)
	assert.True(t, fulfillment.Refundable(*stored).Equal(decimal.NewFromInt(600)))
}

func TestUpdateOrderKeepsMutationTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	orderID := fmt.Sprintf("ord-it-%d", time.Now().UnixNano())
	cleanupOrder(t, s, orderID)
	_, err := s.PlaceOrder(ctx, integrationOrder(orderID), nil)
	require.NoError(t, err)

	stamp := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	updated, err := s.UpdateOrder(ctx, orderID, func(order *domain.Order) error {
		_, err := fulfillment.TransitionOrder(order, domain.OrderCancelled, fulfillment.TransitionOptions{Actor: "ops", Now: stamp})
		return err
	})
	require.NoError(t, err)
	assert.True(t, stamp.Equal(updated.UpdatedAt), "got %s", updated.UpdatedAt)

	stored, err := s.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.True(t, stamp.Equal(stored.UpdatedAt), "got %s", stored.UpdatedAt)
}
