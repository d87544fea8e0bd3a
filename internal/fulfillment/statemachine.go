package fulfillment

import (
	"fmt"
	"strings"
	"time"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/xid"
)

type TransitionOptions struct {
	Comment        string
	NotifyCustomer bool
	Actor          string
	Override       bool
	Now            time.Time
}

type ItemTransitionOptions struct {
	TransitionOptions
	TrackingNumber string
	Carrier        string
}

var orderRank = map[domain.OrderStatus]int{
	domain.OrderPending:          0,
	domain.OrderAwaitingPayment:  1,
	domain.OrderProcessing:       2,
	domain.OrderPartiallyShipped: 3,
	domain.OrderShipped:          4,
	domain.OrderDelivered:        5,
}

var itemTransitions = map[domain.ItemStatus][]domain.ItemStatus{
	domain.ItemPending:    {domain.ItemProcessing, domain.ItemShipped, domain.ItemCancelled},
	domain.ItemProcessing: {domain.ItemShipped, domain.ItemCancelled},
	domain.ItemShipped:    {domain.ItemDelivered},
}

func IsTerminal(status domain.OrderStatus) bool {
	return status == domain.OrderCancelled || status == domain.OrderRefunded
}

func IsValidOrderStatus(status domain.OrderStatus) bool {
	_, ranked := orderRank[status]
	return ranked || IsTerminal(status)
}

func IsValidItemStatus(status domain.ItemStatus) bool {
	switch status {
	case domain.ItemPending, domain.ItemProcessing, domain.ItemShipped, domain.ItemDelivered, domain.ItemCancelled:
		return true
	default:
		return false
	}
}

func isDerivedStatus(status domain.OrderStatus) bool {
	return status == domain.OrderPartiallyShipped || status == domain.OrderShipped || status == domain.OrderDelivered
}

func CanTransitionItem(current, next domain.ItemStatus) bool {
	for _, allowed := range itemTransitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionOrder moves the order to target and appends one timeline entry.
// On error the order is left untouched.
func TransitionOrder(order *domain.Order, target domain.OrderStatus, opts TransitionOptions) (domain.TimelineEntry, error) {
	if !IsValidOrderStatus(target) {
		return domain.TimelineEntry{}, domain.ErrInvalidTransition.Withf("unknown order status %q", target)
	}
	current := order.Status
	if target == current {
		return domain.TimelineEntry{}, domain.ErrInvalidTransition.Withf("order %s is already %s", order.ID, current)
	}
	if IsTerminal(current) {
		return domain.TimelineEntry{}, domain.ErrInvalidTransition.Withf("order %s is %s and cannot change", order.ID, current)
	}
	if target == domain.OrderRefunded {
		if completed, _ := RefundTotals(*order); completed.LessThan(order.Total) {
			return domain.TimelineEntry{}, domain.ErrInvalidTransition.Withf("order %s has %s of %s refunded; record refunds instead", order.ID, completed.StringFixed(2), order.Total.StringFixed(2))
		}
	}

	kind := domain.TimelineOrder
	switch {
	case opts.Override:
		kind = domain.TimelineOverride
	case IsTerminal(target):
	case anyItemShipped(order.Items):
		return domain.TimelineEntry{}, domain.ErrInvalidTransition.Withf("order %s follows its items once one has shipped; use override", order.ID)
	case isDerivedStatus(target):
		return domain.TimelineEntry{}, domain.ErrInvalidTransition.Withf("%s is derived from item statuses; use override", target)
	case orderRank[target] < orderRank[current]:
		return domain.TimelineEntry{}, domain.ErrInvalidTransition.Withf("cannot move order %s back from %s to %s", order.ID, current, target)
	}

	now := nowOr(opts.Now)
	order.Status = target
	if target == domain.OrderCancelled {
		for i := range order.Items {
			item := &order.Items[i]
			if item.Status == domain.ItemPending || item.Status == domain.ItemProcessing {
				item.Status = domain.ItemCancelled
				item.UpdatedAt = now
			}
		}
	}

	entry := newEntry(string(target), "", kind, opts, now)
	order.Timeline = append(order.Timeline, entry)
	order.UpdatedAt = now
	return entry, nil
}

// TransitionItem moves one item and, if the item change shifts the derived
// order status, records that as a second entry.
func TransitionItem(order *domain.Order, itemID string, target domain.ItemStatus, opts ItemTransitionOptions) ([]domain.TimelineEntry, error) {
	idx := -1
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, domain.ErrOrderItemNotFound.Withf("order %s has no item %s", order.ID, itemID)
	}
	if !IsValidItemStatus(target) {
		return nil, domain.ErrInvalidTransition.Withf("unknown item status %q", target)
	}
	if IsTerminal(order.Status) {
		return nil, domain.ErrInvalidTransition.Withf("order %s is %s", order.ID, order.Status)
	}
	if target != domain.ItemCancelled && !itemsMovable(order.Status) {
		return nil, domain.ErrInvalidTransition.Withf("order %s must be processing before items move, it is %s", order.ID, order.Status)
	}

	item := &order.Items[idx]
	if item.Status == target {
		return nil, domain.ErrInvalidTransition.Withf("item %s is already %s", item.ID, target)
	}
	if !CanTransitionItem(item.Status, target) {
		return nil, domain.ErrInvalidTransition.Withf("item %s cannot move from %s to %s", item.ID, item.Status, target)
	}

	tracking := strings.TrimSpace(opts.TrackingNumber)
	if target == domain.ItemShipped && tracking == "" {
		return nil, domain.ErrMissingTrackingInfo.Withf("item %s needs a tracking number to ship", item.ID)
	}

	now := nowOr(opts.Now)
	item.Status = target
	item.UpdatedAt = now
	if target == domain.ItemShipped {
		item.TrackingNumber = tracking
		item.Carrier = strings.TrimSpace(opts.Carrier)
	}

	itemOpts := opts.TransitionOptions
	note := itemOpts.Comment
	if target == domain.ItemShipped {
		note = joinNote(note, shippingNote(item.Carrier, item.TrackingNumber))
	}
	itemOpts.Comment = note
	entries := []domain.TimelineEntry{newEntry(string(target), item.ID, domain.TimelineItem, itemOpts, now)}

	if derived, ok := DeriveOrderStatus(order.Items); ok && derived != order.Status {
		derivedOpts := opts.TransitionOptions
		derivedOpts.Comment = fmt.Sprintf("derived from item %s", item.ID)
		order.Status = derived
		entries = append(entries, newEntry(string(derived), "", domain.TimelineDerived, derivedOpts, now))
	}

	order.Timeline = append(order.Timeline, entries...)
	order.UpdatedAt = now
	return entries, nil
}

// ShipSellerGroup ships every pending or processing item of one seller under
// the same tracking number. Either all items ship or none do.
func ShipSellerGroup(order *domain.Order, sellerID string, opts ItemTransitionOptions) ([]domain.TimelineEntry, error) {
	draft := domain.CloneOrder(*order)
	entries := make([]domain.TimelineEntry, 0)
	for _, item := range order.Items {
		if item.SellerID != sellerID {
			continue
		}
		if item.Status != domain.ItemPending && item.Status != domain.ItemProcessing {
			continue
		}
		itemEntries, err := TransitionItem(&draft, item.ID, domain.ItemShipped, opts)
		if err != nil {
			return nil, err
		}
		entries = append(entries, itemEntries...)
	}
	if len(entries) == 0 {
		return nil, domain.ErrInvalidTransition.Withf("seller %s has no items left to ship on order %s", sellerID, order.ID)
	}

	*order = draft
	return entries, nil
}

func anyItemShipped(items []domain.OrderItem) bool {
	for _, item := range items {
		if item.Status == domain.ItemShipped || item.Status == domain.ItemDelivered {
			return true
		}
	}
	return false
}

func itemsMovable(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderProcessing, domain.OrderPartiallyShipped, domain.OrderShipped, domain.OrderDelivered:
		return true
	default:
		return false
	}
}

func newEntry(status string, itemID string, kind domain.TimelineKind, opts TransitionOptions, now time.Time) domain.TimelineEntry {
	return domain.TimelineEntry{
		ID:             xid.New("tle"),
		Status:         status,
		ItemID:         itemID,
		Kind:           kind,
		Note:           strings.TrimSpace(opts.Comment),
		Actor:          defaultActor(opts.Actor),
		NotifyCustomer: opts.NotifyCustomer,
		CreatedAt:      now,
	}
}

func shippingNote(carrier string, tracking string) string {
	if carrier == "" {
		return "tracking " + tracking
	}
	return fmt.Sprintf("%s tracking %s", carrier, tracking)
}

func joinNote(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, " | ")
}

func defaultActor(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return "system"
	}
	return actor
}

func nowOr(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now
}
