package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/fulfillment"
	"marketplace/backend/internal/xid"
)

// PlaceOrder prices the cart and stores the order. The coupon use is consumed
// in the same unit of work as the insert, so a coupon that ran out between
// quote and order fails here.
func (s *Service) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.OrderDetail, error) {
	assembly, err := s.assemble(ctx, req.Buyer, req.CouponCode, req.Items)
	if err != nil {
		return domain.OrderDetail{}, err
	}

	now := s.now()
	orderID := xid.New("ord")
	order := domain.Order{
		ID:              orderID,
		BuyerID:         strings.TrimSpace(req.Buyer.UserID),
		Status:          domain.OrderPending,
		Currency:        s.currency,
		Subtotal:        assembly.Subtotal,
		DiscountTotal:   assembly.DiscountTotal,
		Total:           assembly.Total,
		SellerPayout:    assembly.SellerPayout,
		PlatformRevenue: assembly.PlatformRevenue,
		Items:           make([]domain.OrderItem, 0, len(assembly.Lines)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, line := range assembly.Lines {
		order.Items = append(order.Items, domain.OrderItem{
			ID:                fmt.Sprintf("%s-%d", orderID, i+1),
			ProductID:         line.ProductID,
			SellerID:          line.SellerID,
			Status:            domain.ItemPending,
			BasePrice:         line.BasePrice,
			MarkupAmount:      line.MarkupAmount,
			DisplayPrice:      line.DisplayPrice,
			Quantity:          line.Qty,
			PromotionID:       line.PromotionID,
			PromotionDiscount: line.PromotionDiscount,
			CouponDiscount:    line.CouponDiscount,
			DiscountAmount:    line.DiscountAmount,
			LineTotal:         line.LineTotal,
			UpdatedAt:         now,
		})
	}
	order.Timeline = []domain.TimelineEntry{{
		ID:        xid.New("tle"),
		Status:    string(domain.OrderPending),
		Kind:      domain.TimelinePlaced,
		Note:      strings.TrimSpace(req.Note),
		Actor:     actorName(ctx),
		CreatedAt: now,
	}}

	var redemption *domain.CouponRedemption
	if assembly.Coupon != nil {
		order.CouponCode = assembly.Coupon.Code
		redemption = &domain.CouponRedemption{
			CouponID: assembly.Coupon.ID,
			Code:     assembly.Coupon.Code,
			UserID:   order.BuyerID,
		}
	}

	placed, err := s.repo.PlaceOrder(ctx, order, redemption)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	s.logger.Info("order placed",
		zap.String("order_id", placed.ID),
		zap.String("total", placed.Total.StringFixed(2)),
		zap.String("coupon", placed.CouponCode),
		zap.Int("items", len(placed.Items)),
	)
	return orderDetail(*placed), nil
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.Status != "" && !fulfillment.IsValidOrderStatus(filter.Status) {
		return nil, domain.ErrInvalidInput.Withf("unknown order status %q", filter.Status)
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListOrders(ctx, filter)
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.OrderDetail, error) {
	order, err := s.repo.GetOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.OrderDetail{}, err
	}
	return orderDetail(*order), nil
}

func (s *Service) TransitionOrder(ctx context.Context, orderID string, req domain.OrderTransitionRequest) (domain.OrderDetail, error) {
	if req.Override || req.Status == domain.OrderRefunded {
		if err := requireAdmin(ctx); err != nil {
			return domain.OrderDetail{}, err
		}
	}

	var entry domain.TimelineEntry
	updated, err := s.repo.UpdateOrder(ctx, strings.TrimSpace(orderID), func(order *domain.Order) error {
		var err error
		entry, err = fulfillment.TransitionOrder(order, req.Status, fulfillment.TransitionOptions{
			Comment:        req.Comment,
			NotifyCustomer: req.NotifyCustomer,
			Actor:          actorName(ctx),
			Override:       req.Override,
			Now:            s.now(),
		})
		return err
	})
	if err != nil {
		return domain.OrderDetail{}, err
	}

	if entry.Kind == domain.TimelineOverride {
		s.logAudit(ctx, "order_status_override", "order", updated.ID, fmt.Sprintf("status=%s,note=%s", req.Status, entry.Note))
	}
	s.notifyEntries(ctx, *updated, []domain.TimelineEntry{entry})
	return orderDetail(*updated), nil
}

func (s *Service) TransitionItem(ctx context.Context, orderID string, itemID string, req domain.ItemTransitionRequest) (domain.OrderDetail, error) {
	var entries []domain.TimelineEntry
	updated, err := s.repo.UpdateOrder(ctx, strings.TrimSpace(orderID), func(order *domain.Order) error {
		var err error
		entries, err = fulfillment.TransitionItem(order, strings.TrimSpace(itemID), req.Status, fulfillment.ItemTransitionOptions{
			TransitionOptions: fulfillment.TransitionOptions{
				Comment:        req.Comment,
				NotifyCustomer: req.NotifyCustomer,
				Actor:          actorName(ctx),
				Now:            s.now(),
			},
			TrackingNumber: req.TrackingNumber,
			Carrier:        req.Carrier,
		})
		return err
	})
	if err != nil {
		return domain.OrderDetail{}, err
	}

	s.notifyEntries(ctx, *updated, entries)
	return orderDetail(*updated), nil
}

// ShipSellerGroup ships one seller's share of a multi-seller order.
func (s *Service) ShipSellerGroup(ctx context.Context, orderID string, sellerID string, req domain.ShipSellerRequest) (domain.OrderDetail, error) {
	var entries []domain.TimelineEntry
	updated, err := s.repo.UpdateOrder(ctx, strings.TrimSpace(orderID), func(order *domain.Order) error {
		var err error
		entries, err = fulfillment.ShipSellerGroup(order, strings.TrimSpace(sellerID), fulfillment.ItemTransitionOptions{
			TransitionOptions: fulfillment.TransitionOptions{
				Comment:        req.Comment,
				NotifyCustomer: req.NotifyCustomer,
				Actor:          actorName(ctx),
				Now:            s.now(),
			},
			TrackingNumber: req.TrackingNumber,
			Carrier:        req.Carrier,
		})
		return err
	})
	if err != nil {
		return domain.OrderDetail{}, err
	}

	s.notifyEntries(ctx, *updated, entries)
	return orderDetail(*updated), nil
}

// Refund records a refund against the order. The approval PIN is checked by
// the caller before this runs.
func (s *Service) Refund(ctx context.Context, orderID string, req domain.RefundRequest) (domain.RefundResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.RefundResponse{}, err
	}

	var refund domain.Refund
	updated, err := s.repo.UpdateOrder(ctx, strings.TrimSpace(orderID), func(order *domain.Order) error {
		var err error
		refund, err = fulfillment.ApplyRefund(order, req, fulfillment.RefundOptions{
			Actor: actorName(ctx),
			Now:   s.now(),
		})
		return err
	})
	if err != nil {
		return domain.RefundResponse{}, err
	}

	s.logAudit(ctx, "order_refund", "order", updated.ID,
		fmt.Sprintf("refund=%s,type=%s,amount=%s,status=%s,reason=%s", refund.ID, refund.Type, refund.Amount.StringFixed(2), refund.Status, refund.Reason))
	s.notifyEntries(ctx, *updated, lastEntry(*updated))
	return domain.RefundResponse{Refund: refund, Status: updated.Status}, nil
}

// SettleRefund records the gateway outcome of a deferred refund.
func (s *Service) SettleRefund(ctx context.Context, orderID string, refundID string, req domain.SettleRefundRequest) (domain.RefundResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.RefundResponse{}, err
	}

	var refund domain.Refund
	updated, err := s.repo.UpdateOrder(ctx, strings.TrimSpace(orderID), func(order *domain.Order) error {
		var err error
		refund, err = fulfillment.SettleRefund(order, strings.TrimSpace(refundID), req.Success, req.Note, fulfillment.RefundOptions{
			Actor:          actorName(ctx),
			Now:            s.now(),
			NotifyCustomer: req.NotifyCustomer,
		})
		return err
	})
	if err != nil {
		return domain.RefundResponse{}, err
	}

	s.logAudit(ctx, "order_refund_settle", "order", updated.ID,
		fmt.Sprintf("refund=%s,status=%s", refund.ID, refund.Status))
	s.notifyEntries(ctx, *updated, lastEntry(*updated))
	return domain.RefundResponse{Refund: refund, Status: updated.Status}, nil
}

func orderDetail(order domain.Order) domain.OrderDetail {
	completed, _ := fulfillment.RefundTotals(order)
	return domain.OrderDetail{
		Order:        order,
		SellerGroups: fulfillment.SellerGroups(order),
		Refunded:     completed,
		Refundable:   fulfillment.Refundable(order),
	}
}

func lastEntry(order domain.Order) []domain.TimelineEntry {
	if len(order.Timeline) == 0 {
		return nil
	}
	return order.Timeline[len(order.Timeline)-1:]
}
