package domain

// CloneOrder deep-copies the slices of an order so a draft can be mutated
// without touching the original.
func CloneOrder(order Order) Order {
	out := order
	out.Items = append([]OrderItem(nil), order.Items...)
	out.Timeline = append([]TimelineEntry(nil), order.Timeline...)
	if order.Refunds != nil {
		out.Refunds = make([]Refund, len(order.Refunds))
		for i, refund := range order.Refunds {
			out.Refunds[i] = CloneRefund(refund)
		}
	}
	return out
}

func CloneRefund(refund Refund) Refund {
	out := refund
	out.Items = append([]RefundItem(nil), refund.Items...)
	if refund.SettledAt != nil {
		settled := *refund.SettledAt
		out.SettledAt = &settled
	}
	return out
}
