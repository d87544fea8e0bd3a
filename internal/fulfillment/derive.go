package fulfillment

import (
	"github.com/shopspring/decimal"

	"marketplace/backend/internal/domain"
)

// DeriveOrderStatus reduces item statuses to the order status they imply.
// Cancelled items are ignored unless every item is cancelled. ok is false
// when the items do not dictate a status, for example before anything ships.
func DeriveOrderStatus(items []domain.OrderItem) (domain.OrderStatus, bool) {
	active, shipped, delivered := 0, 0, 0
	for _, item := range items {
		switch item.Status {
		case domain.ItemCancelled:
			continue
		case domain.ItemDelivered:
			delivered++
			shipped++
		case domain.ItemShipped:
			shipped++
		}
		active++
	}

	switch {
	case len(items) == 0:
		return "", false
	case active == 0:
		return domain.OrderCancelled, true
	case delivered == active:
		return domain.OrderDelivered, true
	case shipped == active:
		return domain.OrderShipped, true
	case shipped > 0:
		return domain.OrderPartiallyShipped, true
	default:
		return "", false
	}
}

// SellerGroups splits an order by seller in item order. A group's status is
// derived from its own items and falls back to the order status.
func SellerGroups(order domain.Order) []domain.SellerGroup {
	groups := make([]domain.SellerGroup, 0)
	index := make(map[string]int)
	for _, item := range order.Items {
		idx, ok := index[item.SellerID]
		if !ok {
			idx = len(groups)
			index[item.SellerID] = idx
			groups = append(groups, domain.SellerGroup{
				SellerID: item.SellerID,
				Subtotal: decimal.Zero,
				Payout:   decimal.Zero,
			})
		}
		group := &groups[idx]
		group.Items = append(group.Items, item)
		group.Subtotal = group.Subtotal.Add(item.LineTotal)
		group.Payout = group.Payout.Add(item.BasePrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	for i := range groups {
		status, ok := DeriveOrderStatus(groups[i].Items)
		if !ok || IsTerminal(order.Status) {
			status = order.Status
		}
		groups[i].Status = status
	}
	return groups
}
