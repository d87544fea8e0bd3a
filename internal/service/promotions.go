package service

import (
	"context"
	"fmt"
	"strings"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/pricing"
)

func (s *Service) CreatePromotion(ctx context.Context, req domain.PromotionCreateRequest) (domain.Promotion, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Promotion{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.SellerID = strings.TrimSpace(req.SellerID)
	if req.Name == "" {
		return domain.Promotion{}, domain.ErrInvalidInput.Withf("promotion name is required")
	}
	switch req.Type {
	case domain.PromotionSystem:
		if req.SellerID != "" {
			return domain.Promotion{}, domain.ErrInvalidInput.Withf("system promotions take no seller_id")
		}
	case domain.PromotionSeller:
		if req.SellerID == "" {
			return domain.Promotion{}, domain.ErrInvalidInput.Withf("seller promotions require seller_id")
		}
		if _, err := s.repo.GetSeller(ctx, req.SellerID); err != nil {
			return domain.Promotion{}, err
		}
	default:
		return domain.Promotion{}, domain.ErrInvalidInput.Withf("unknown promotion type %q", req.Type)
	}
	if err := pricing.ValidateDiscount(req.DiscountType, req.DiscountValue); err != nil {
		return domain.Promotion{}, err
	}
	scope, err := normalizeScope(req.Scope)
	if err != nil {
		return domain.Promotion{}, err
	}
	if !req.StartDate.IsZero() && !req.EndDate.IsZero() && req.EndDate.Before(req.StartDate) {
		return domain.Promotion{}, domain.ErrInvalidInput.Withf("end_date must not be before start_date")
	}

	created, err := s.repo.CreatePromotion(ctx, domain.Promotion{
		Name:          req.Name,
		Type:          req.Type,
		SellerID:      req.SellerID,
		DiscountType:  req.DiscountType,
		DiscountValue: pricing.RoundCurrency(req.DiscountValue),
		Scope:         scope,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Priority:      req.Priority,
		CreatedAt:     s.now(),
	})
	if err != nil {
		return domain.Promotion{}, err
	}
	s.logAudit(ctx, "promotion_create", "promotion", created.ID,
		fmt.Sprintf("type=%s,discount=%s:%s,scope=%s:%s,priority=%d", created.Type, created.DiscountType, created.DiscountValue, created.Scope.Kind, created.Scope.ID, created.Priority))
	return *created, nil
}

func (s *Service) ListPromotions(ctx context.Context) ([]domain.Promotion, error) {
	return s.repo.ListPromotions(ctx)
}

func (s *Service) SetPromotionActive(ctx context.Context, id string, active bool) (domain.Promotion, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Promotion{}, err
	}
	promo, err := s.repo.UpdatePromotionActive(ctx, strings.TrimSpace(id), active)
	if err != nil {
		return domain.Promotion{}, err
	}
	s.logAudit(ctx, "promotion_toggle", "promotion", promo.ID, fmt.Sprintf("active=%t", active))
	return *promo, nil
}

func (s *Service) CreateCoupon(ctx context.Context, req domain.CouponCreateRequest) (domain.Coupon, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Coupon{}, err
	}

	code := pricing.NormalizeCouponCode(req.Code)
	if code == "" || strings.ContainsAny(code, " \t\r\n") {
		return domain.Coupon{}, domain.ErrInvalidInput.Withf("coupon code is required and must not contain spaces")
	}
	if err := pricing.ValidateDiscount(req.DiscountType, req.DiscountValue); err != nil {
		return domain.Coupon{}, err
	}
	scope, err := normalizeScope(req.Scope)
	if err != nil {
		return domain.Coupon{}, err
	}
	if req.MinOrderAmount.IsNegative() {
		return domain.Coupon{}, domain.ErrInvalidInput.Withf("min_order_amount must not be negative")
	}
	if req.MaxDiscountAmount != nil && !req.MaxDiscountAmount.IsPositive() {
		return domain.Coupon{}, domain.ErrInvalidInput.Withf("max_discount_amount must be positive when set")
	}
	if req.UsageLimit < 0 || req.UsageLimitPerUser < 0 {
		return domain.Coupon{}, domain.ErrInvalidInput.Withf("usage limits must not be negative")
	}
	if !req.StartDate.IsZero() && !req.EndDate.IsZero() && req.EndDate.Before(req.StartDate) {
		return domain.Coupon{}, domain.ErrInvalidInput.Withf("end_date must not be before start_date")
	}

	created, err := s.repo.CreateCoupon(ctx, domain.Coupon{
		Code:              code,
		DiscountType:      req.DiscountType,
		DiscountValue:     pricing.RoundCurrency(req.DiscountValue),
		Scope:             scope,
		MinOrderAmount:    pricing.RoundCurrency(req.MinOrderAmount),
		MaxDiscountAmount: req.MaxDiscountAmount,
		UsageLimit:        req.UsageLimit,
		UsageLimitPerUser: req.UsageLimitPerUser,
		RequiresAuth:      req.RequiresAuth,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		CreatedAt:         s.now(),
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	s.logAudit(ctx, "coupon_create", "coupon", created.ID,
		fmt.Sprintf("code=%s,discount=%s:%s,limit=%d,per_user=%d", created.Code, created.DiscountType, created.DiscountValue, created.UsageLimit, created.UsageLimitPerUser))
	return *created, nil
}

func (s *Service) ListCoupons(ctx context.Context) ([]domain.Coupon, error) {
	return s.repo.ListCoupons(ctx)
}

func (s *Service) GetCoupon(ctx context.Context, code string) (domain.Coupon, error) {
	coupon, err := s.repo.GetCouponByCode(ctx, pricing.NormalizeCouponCode(code))
	if err != nil {
		return domain.Coupon{}, err
	}
	return *coupon, nil
}

func (s *Service) SetCouponActive(ctx context.Context, id string, active bool) (domain.Coupon, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Coupon{}, err
	}
	coupon, err := s.repo.UpdateCouponActive(ctx, strings.TrimSpace(id), active)
	if err != nil {
		return domain.Coupon{}, err
	}
	s.logAudit(ctx, "coupon_toggle", "coupon", coupon.ID, fmt.Sprintf("active=%t", active))
	return *coupon, nil
}

func normalizeScope(scope domain.Scope) (domain.Scope, error) {
	scope.ID = strings.TrimSpace(scope.ID)
	if scope.Kind == "" {
		scope.Kind = domain.ScopeAll
	}
	if err := pricing.ValidateScope(scope); err != nil {
		return domain.Scope{}, err
	}
	return scope, nil
}
