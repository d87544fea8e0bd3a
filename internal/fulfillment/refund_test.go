package fulfillment

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/backend/internal/domain"
)

func amount(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func paidOrder() *domain.Order {
	return newOrder(domain.OrderProcessing,
		item("i1", "sel-a", domain.ItemProcessing, "6000"),
		item("i2", "sel-b", domain.ItemProcessing, "4000"),
	)
}

func refundOpts() RefundOptions {
	return RefundOptions{Actor: "admin", Now: clock}
}

func TestPartialThenFullRefund(t *testing.T) {
	order := paidOrder()

	refund, err := ApplyRefund(order, domain.RefundRequest{Type: domain.RefundPartial, Amount: amount("4000"), Reason: "damaged box"}, refundOpts())
	require.NoError(t, err)
	assert.Equal(t, domain.RefundCompleted, refund.Status)
	assert.True(t, amount("4000").Equal(refund.Amount))
	assert.Equal(t, domain.OrderProcessing, order.Status)
	require.Len(t, order.Timeline, 1)
	assert.Equal(t, domain.TimelineRefund, order.Timeline[0].Kind)
	assert.True(t, amount("6000").Equal(Refundable(*order)))

	_, err = ApplyRefund(order, domain.RefundRequest{Type: domain.RefundPartial, Amount: amount("7000")}, refundOpts())
	assert.True(t, errors.Is(err, domain.ErrRefundExceedsRemaining))
	assert.Len(t, order.Refunds, 1)

	refund, err = ApplyRefund(order, domain.RefundRequest{Type: domain.RefundFull}, refundOpts())
	require.NoError(t, err)
	assert.True(t, amount("6000").Equal(refund.Amount))
	assert.Equal(t, domain.OrderRefunded, order.Status)
	assert.Equal(t, string(domain.OrderRefunded), order.Timeline[1].Status)

	_, err = ApplyRefund(order, domain.RefundRequest{Type: domain.RefundFull}, refundOpts())
	assert.True(t, errors.Is(err, domain.ErrAlreadyFullyRefunded))
}

func TestRefundRejectsSubCentAmountInsteadOfRounding(t *testing.T) {
	order := paidOrder()

	_, err := ApplyRefund(order, domain.RefundRequest{Type: domain.RefundPartial, Amount: amount("10000.004")}, refundOpts())
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Empty(t, order.Refunds)
	assert.Equal(t, domain.OrderProcessing, order.Status)

	_, err = ApplyRefund(order, domain.RefundRequest{Type: domain.RefundPartial, Amount: amount("10000.01")}, refundOpts())
	assert.True(t, errors.Is(err, domain.ErrRefundExceedsRemaining))

	refund, err := ApplyRefund(order, domain.RefundRequest{Type: domain.RefundPartial, Amount: amount("2500.50")}, refundOpts())
	require.NoError(t, err)
	assert.Equal(t, "2500.5", refund.Amount.String())
}

func TestRefundRejectsNonPositiveAndUnpaid(t *testing.T) {
	order := paidOrder()
	_, err := ApplyRefund(order, domain.RefundRequest{Type: domain.RefundPartial, Amount: amount("0")}, refundOpts())
	assert.True(t, errors.Is(err, domain.ErrRefundExceedsRemaining))

	_, err = ApplyRefund(order, domain.RefundRequest{Type: "store_credit"}, refundOpts())
	assert.True(t, errors.Is(err, domain.ErrValidation))

	unpaid := newOrder(domain.OrderAwaitingPayment, item("i1", "sel-a", domain.ItemPending, "100"))
	_, err = ApplyRefund(unpaid, domain.RefundRequest{Type: domain.RefundFull}, refundOpts())
	assert.True(t, errors.Is(err, domain.ErrOrderNotRefundable))
	assert.Empty(t, unpaid.Timeline)
}

func TestRefundOfCancelledOrderKeepsStatus(t *testing.T) {
	order := paidOrder()
	order.Status = domain.OrderCancelled

	_, err := ApplyRefund(order, domain.RefundRequest{Type: domain.RefundFull}, refundOpts())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, order.Status)
	assert.True(t, Refundable(*order).IsZero())
}

func TestDeferredRefundReservesUntilSettled(t *testing.T) {
	order := paidOrder()

	pending, err := ApplyRefund(order, domain.RefundRequest{Type: domain.RefundPartial, Amount: amount("7000"), Deferred: true}, refundOpts())
	require.NoError(t, err)
	assert.Equal(t, domain.RefundPending, pending.Status)
	assert.Nil(t, pending.SettledAt)
	assert.True(t, amount("3000").Equal(Refundable(*order)))

	_, err = ApplyRefund(order, domain.RefundRequest{Type: domain.RefundPartial, Amount: amount("3500")}, refundOpts())
	assert.True(t, errors.Is(err, domain.ErrRefundExceedsRemaining))

	failed, err := SettleRefund(order, pending.ID, false, "gateway declined", refundOpts())
	require.NoError(t, err)
	assert.Equal(t, domain.RefundFailed, failed.Status)
	require.NotNil(t, failed.SettledAt)
	assert.True(t, amount("10000").Equal(Refundable(*order)))

	_, err = SettleRefund(order, pending.ID, true, "", refundOpts())
	assert.True(t, errors.Is(err, domain.ErrRefundNotPending))

	_, err = SettleRefund(order, "rfd-missing", true, "", refundOpts())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSettledFullRefundMovesOrderToRefunded(t *testing.T) {
	order := paidOrder()

	pending, err := ApplyRefund(order, domain.RefundRequest{Type: domain.RefundFull, Deferred: true}, refundOpts())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderProcessing, order.Status)

	_, err = SettleRefund(order, pending.ID, true, "", refundOpts())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRefunded, order.Status)

	completed, reserved := RefundTotals(*order)
	assert.True(t, completed.Equal(order.Total))
	assert.True(t, reserved.IsZero())
}

func TestRefundItemsValidated(t *testing.T) {
	order := paidOrder()

	_, err := ApplyRefund(order, domain.RefundRequest{
		Type:   domain.RefundPartial,
		Amount: amount("100"),
		Items:  []domain.RefundItem{{ItemID: "i1", Quantity: 2, Amount: amount("100")}},
	}, refundOpts())
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = ApplyRefund(order, domain.RefundRequest{
		Type:   domain.RefundPartial,
		Amount: amount("100"),
		Items:  []domain.RefundItem{{ItemID: "i1", Quantity: 1, Amount: amount("150")}},
	}, refundOpts())
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	refund, err := ApplyRefund(order, domain.RefundRequest{
		Type:   domain.RefundPartial,
		Amount: amount("100"),
		Items:  []domain.RefundItem{{ItemID: "i1", Quantity: 1, Amount: amount("100")}},
	}, refundOpts())
	require.NoError(t, err)
	assert.Len(t, refund.Items, 1)
}
