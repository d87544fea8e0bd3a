package fulfillment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/pricing"
	"marketplace/backend/internal/xid"
)

type RefundOptions struct {
	Actor string
	Now   time.Time

	// NotifyCustomer flags the settlement entry; ApplyRefund reads it from the
	// request instead.
	NotifyCustomer bool
}

// RefundTotals sums completed refunds and pending refunds, which still
// reserve their amount.
func RefundTotals(order domain.Order) (completed decimal.Decimal, pending decimal.Decimal) {
	completed, pending = decimal.Zero, decimal.Zero
	for _, refund := range order.Refunds {
		switch refund.Status {
		case domain.RefundCompleted:
			completed = completed.Add(refund.Amount)
		case domain.RefundPending:
			pending = pending.Add(refund.Amount)
		}
	}
	return completed, pending
}

func Refundable(order domain.Order) decimal.Decimal {
	completed, pending := RefundTotals(order)
	remaining := order.Total.Sub(completed).Sub(pending)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// ApplyRefund records a refund on the order. A completed refund that brings
// the refunded sum to the order total moves a live order to refunded.
func ApplyRefund(order *domain.Order, req domain.RefundRequest, opts RefundOptions) (domain.Refund, error) {
	if order.Status == domain.OrderPending || order.Status == domain.OrderAwaitingPayment {
		return domain.Refund{}, domain.ErrOrderNotRefundable.Withf("order %s is %s and has not been paid", order.ID, order.Status)
	}

	remaining := Refundable(*order)
	var amount decimal.Decimal
	switch req.Type {
	case domain.RefundFull:
		if !remaining.IsPositive() {
			return domain.Refund{}, domain.ErrAlreadyFullyRefunded.Withf("order %s has nothing left to refund", order.ID)
		}
		amount = remaining
	case domain.RefundPartial:
		amount = req.Amount
		if !amount.Equal(pricing.RoundCurrency(amount)) {
			return domain.Refund{}, domain.ErrInvalidInput.Withf("refund amount %s has more than two decimal places", amount)
		}
		if !amount.IsPositive() {
			return domain.Refund{}, domain.ErrRefundExceedsRemaining.Withf("refund amount must be positive")
		}
		if amount.GreaterThan(remaining) {
			return domain.Refund{}, domain.ErrRefundExceedsRemaining.Withf("refund %s exceeds remaining %s", amount, remaining)
		}
	default:
		return domain.Refund{}, domain.ErrInvalidInput.Withf("unknown refund type %q", req.Type)
	}

	items, err := validateRefundItems(*order, req.Items, amount)
	if err != nil {
		return domain.Refund{}, err
	}

	now := nowOr(opts.Now)
	status := domain.RefundCompleted
	var settledAt *time.Time
	if req.Deferred {
		status = domain.RefundPending
	} else {
		settled := now
		settledAt = &settled
	}

	refund := domain.Refund{
		ID:        xid.New("rfd"),
		OrderID:   order.ID,
		Amount:    amount,
		Reason:    strings.TrimSpace(req.Reason),
		Status:    status,
		Type:      req.Type,
		Items:     items,
		Actor:     defaultActor(opts.Actor),
		CreatedAt: now,
		SettledAt: settledAt,
	}
	order.Refunds = append(order.Refunds, refund)

	settleOrder(order, refund, TransitionOptions{
		Comment:        refundNote(refund),
		NotifyCustomer: req.NotifyCustomer,
		Actor:          opts.Actor,
		Now:            now,
	})
	return refund, nil
}

// SettleRefund completes or fails a pending refund. A failed refund releases
// its reserved amount.
func SettleRefund(order *domain.Order, refundID string, success bool, note string, opts RefundOptions) (domain.Refund, error) {
	idx := -1
	for i := range order.Refunds {
		if order.Refunds[i].ID == refundID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Refund{}, domain.ErrRefundNotFound.Withf("order %s has no refund %s", order.ID, refundID)
	}

	refund := &order.Refunds[idx]
	if refund.Status != domain.RefundPending {
		return domain.Refund{}, domain.ErrRefundNotPending.Withf("refund %s is %s", refund.ID, refund.Status)
	}

	now := nowOr(opts.Now)
	refund.Status = domain.RefundFailed
	if success {
		refund.Status = domain.RefundCompleted
	}
	settled := now
	refund.SettledAt = &settled

	settleOrder(order, *refund, TransitionOptions{
		Comment:        joinNote(refundNote(*refund), note),
		NotifyCustomer: opts.NotifyCustomer,
		Actor:          opts.Actor,
		Now:            now,
	})
	return domain.CloneRefund(*refund), nil
}

func settleOrder(order *domain.Order, refund domain.Refund, opts TransitionOptions) {
	if refund.Status == domain.RefundCompleted && !IsTerminal(order.Status) {
		completed, _ := RefundTotals(*order)
		if completed.GreaterThanOrEqual(order.Total) {
			order.Status = domain.OrderRefunded
		}
	}

	entry := newEntry(string(order.Status), "", domain.TimelineRefund, opts, opts.Now)
	order.Timeline = append(order.Timeline, entry)
	order.UpdatedAt = opts.Now
}

func validateRefundItems(order domain.Order, items []domain.RefundItem, amount decimal.Decimal) ([]domain.RefundItem, error) {
	if len(items) == 0 {
		return nil, nil
	}

	quantities := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		quantities[item.ID] = item.Quantity
	}

	sum := decimal.Zero
	out := make([]domain.RefundItem, 0, len(items))
	for _, item := range items {
		ordered, ok := quantities[item.ItemID]
		if !ok {
			return nil, domain.ErrOrderItemNotFound.Withf("order %s has no item %s", order.ID, item.ItemID)
		}
		if item.Quantity < 1 || item.Quantity > ordered {
			return nil, domain.ErrInvalidInput.Withf("item %s: refund quantity must be between 1 and %d", item.ItemID, ordered)
		}
		if item.Amount.IsNegative() {
			return nil, domain.ErrInvalidInput.Withf("item %s: amount must not be negative", item.ItemID)
		}
		sum = sum.Add(item.Amount)
		out = append(out, item)
	}
	if sum.GreaterThan(amount) {
		return nil, domain.ErrInvalidInput.Withf("item amounts %s exceed the refund amount %s", sum, amount)
	}
	return out, nil
}

func refundNote(refund domain.Refund) string {
	note := fmt.Sprintf("%s refund %s %s", refund.Type, refund.Amount.StringFixed(2), refund.Status)
	return joinNote(note, refund.Reason)
}
