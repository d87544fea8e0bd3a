package store

import (
	"context"

	"marketplace/backend/internal/domain"
)

var (
	ErrNotFound      = &domain.Error{Class: domain.ClassNotFound, Code: "not_found"}
	ErrConflict      = &domain.Error{Class: domain.ClassConflict, Code: "conflict"}
	ErrInvalidRecord = &domain.Error{Class: domain.ClassValidation, Code: "invalid_record"}
)

// OrderMutation edits a locked snapshot of an order. Returning an error
// discards every change.
type OrderMutation func(order *domain.Order) error

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListSellers(ctx context.Context) ([]domain.Seller, error)
	GetSeller(ctx context.Context, id string) (*domain.Seller, error)
	AssignSellerTemplate(ctx context.Context, sellerID string, templateID string) (*domain.Seller, error)

	CreateMarkupTemplate(ctx context.Context, template domain.MarkupTemplate) (*domain.MarkupTemplate, error)
	UpdateMarkupTemplate(ctx context.Context, template domain.MarkupTemplate) (*domain.MarkupTemplate, error)
	GetMarkupTemplate(ctx context.Context, id string) (*domain.MarkupTemplate, error)
	ListMarkupTemplates(ctx context.Context) ([]domain.MarkupTemplate, error)
	GetDefaultMarkupTemplate(ctx context.Context) (*domain.MarkupTemplate, error)

	CreatePromotion(ctx context.Context, promo domain.Promotion) (*domain.Promotion, error)
	ListPromotions(ctx context.Context) ([]domain.Promotion, error)
	UpdatePromotionActive(ctx context.Context, id string, active bool) (*domain.Promotion, error)

	CreateCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error)
	ListCoupons(ctx context.Context) ([]domain.Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error)
	UpdateCouponActive(ctx context.Context, id string, active bool) (*domain.Coupon, error)
	CountCouponRedemptions(ctx context.Context, couponID string, userID string) (int, error)

	// PlaceOrder inserts the order and, when redemption is set, consumes one
	// use of the coupon in the same unit of work.
	PlaceOrder(ctx context.Context, order domain.Order, redemption *domain.CouponRedemption) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	UpdateOrder(ctx context.Context, id string, mutate OrderMutation) (*domain.Order, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
