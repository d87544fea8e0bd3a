package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	Username string
	Role     string
}

// BuyerContext is the auth context of the customer a cart or order belongs to.
type BuyerContext struct {
	UserID        string `json:"user_id"`
	Authenticated bool   `json:"authenticated"`
}

type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	SellerID   string          `json:"seller_id"`
	BasePrice  decimal.Decimal `json:"base_price"`
	CategoryID string          `json:"category_id,omitempty"`
	BrandID    string          `json:"brand_id,omitempty"`
	TagIDs     []string        `json:"tag_ids,omitempty"`
	Active     bool            `json:"active"`
}

type Seller struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	MarkupTemplateID string `json:"markup_template_id,omitempty"`
}

type MarkupMode string

const (
	MarkupModeFixed      MarkupMode = "fixed"
	MarkupModePercentage MarkupMode = "percentage"
)

type MarkupRange struct {
	MinPrice decimal.Decimal  `json:"min_price"`
	MaxPrice *decimal.Decimal `json:"max_price,omitempty"`
	Mode     MarkupMode       `json:"mode"`
	Value    decimal.Decimal  `json:"value"`
}

type MarkupTemplate struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Currency  string        `json:"currency"`
	Ranges    []MarkupRange `json:"ranges"`
	IsActive  bool          `json:"is_active"`
	IsDefault bool          `json:"is_default"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type MarkupTemplateRequest struct {
	Name      string        `json:"name"`
	Currency  string        `json:"currency"`
	Ranges    []MarkupRange `json:"ranges"`
	IsActive  bool          `json:"is_active"`
	IsDefault bool          `json:"is_default"`
}

type MarkupPreviewRequest struct {
	Ranges []MarkupRange     `json:"ranges"`
	Prices []decimal.Decimal `json:"prices"`
}

type SellerTemplateRequest struct {
	MarkupTemplateID string `json:"markup_template_id"`
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type PromotionType string

const (
	PromotionSystem PromotionType = "system"
	PromotionSeller PromotionType = "seller"
)

type ScopeKind string

const (
	ScopeAll      ScopeKind = "all"
	ScopeCategory ScopeKind = "category"
	ScopeBrand    ScopeKind = "brand"
	ScopeTag      ScopeKind = "tag"
)

// Scope selects the products a promotion or coupon applies to. ID is empty
// for ScopeAll.
type Scope struct {
	Kind ScopeKind `json:"type"`
	ID   string    `json:"id,omitempty"`
}

type Promotion struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Type          PromotionType   `json:"type"`
	SellerID      string          `json:"seller_id,omitempty"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	Scope         Scope           `json:"scope"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
	Priority      int             `json:"priority"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
}

type PromotionCreateRequest struct {
	Name          string          `json:"name"`
	Type          PromotionType   `json:"type"`
	SellerID      string          `json:"seller_id,omitempty"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	Scope         Scope           `json:"scope"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
	Priority      int             `json:"priority"`
}

type Coupon struct {
	ID                string           `json:"id"`
	Code              string           `json:"code"`
	DiscountType      DiscountType     `json:"discount_type"`
	DiscountValue     decimal.Decimal  `json:"discount_value"`
	Scope             Scope            `json:"scope"`
	MinOrderAmount    decimal.Decimal  `json:"min_order_amount"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount,omitempty"`
	UsageLimit        int              `json:"usage_limit"`
	UsageLimitPerUser int              `json:"usage_limit_per_user"`
	RequiresAuth      bool             `json:"requires_auth"`
	StartDate         time.Time        `json:"start_date"`
	EndDate           time.Time        `json:"end_date"`
	UsedCount         int              `json:"used_count"`
	IsActive          bool             `json:"is_active"`
	CreatedAt         time.Time        `json:"created_at"`
}

type CouponCreateRequest struct {
	Code              string           `json:"code"`
	DiscountType      DiscountType     `json:"discount_type"`
	DiscountValue     decimal.Decimal  `json:"discount_value"`
	Scope             Scope            `json:"scope"`
	MinOrderAmount    decimal.Decimal  `json:"min_order_amount"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount,omitempty"`
	UsageLimit        int              `json:"usage_limit"`
	UsageLimitPerUser int              `json:"usage_limit_per_user"`
	RequiresAuth      bool             `json:"requires_auth"`
	StartDate         time.Time        `json:"start_date"`
	EndDate           time.Time        `json:"end_date"`
}

// CouponRedemption is consumed atomically with order creation.
type CouponRedemption struct {
	CouponID string
	Code     string
	UserID   string
}

type ToggleRequest struct {
	Active bool `json:"active"`
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type QuoteRequest struct {
	Buyer      BuyerContext `json:"buyer"`
	CouponCode string       `json:"coupon_code,omitempty"`
	Items      []CartItem   `json:"items"`
}

// QuoteLine is the buyer-facing price breakdown of a line. Markup is never
// part of it.
type QuoteLine struct {
	ProductID      string          `json:"product_id"`
	SellerID       string          `json:"seller_id"`
	Qty            int             `json:"qty"`
	DisplayPrice   decimal.Decimal `json:"display_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	LineTotal      decimal.Decimal `json:"line_total"`
	PromotionID    string          `json:"promotion_id,omitempty"`
	CouponApplied  bool            `json:"coupon_applied"`
}

type QuoteResponse struct {
	Currency      string          `json:"currency"`
	Lines         []QuoteLine     `json:"lines"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	Total         decimal.Decimal `json:"total"`
	CouponCode    string          `json:"coupon_code,omitempty"`
}

type ProductPrice struct {
	ProductID    string          `json:"product_id"`
	SellerID     string          `json:"seller_id"`
	DisplayPrice decimal.Decimal `json:"display_price"`
	SalePrice    decimal.Decimal `json:"sale_price"`
	PromotionID  string          `json:"promotion_id,omitempty"`
}

type ProductPriceResponse struct {
	Currency string         `json:"currency"`
	Prices   []ProductPrice `json:"prices"`
}

type PlaceOrderRequest struct {
	Buyer      BuyerContext `json:"buyer"`
	CouponCode string       `json:"coupon_code,omitempty"`
	Items      []CartItem   `json:"items"`
	Note       string       `json:"note,omitempty"`
}

type OrderStatus string

const (
	OrderPending          OrderStatus = "pending"
	OrderAwaitingPayment  OrderStatus = "awaiting_payment"
	OrderProcessing       OrderStatus = "processing"
	OrderPartiallyShipped OrderStatus = "partially_shipped"
	OrderShipped          OrderStatus = "shipped"
	OrderDelivered        OrderStatus = "delivered"
	OrderCancelled        OrderStatus = "cancelled"
	OrderRefunded         OrderStatus = "refunded"
)

type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemShipped    ItemStatus = "shipped"
	ItemDelivered  ItemStatus = "delivered"
	ItemCancelled  ItemStatus = "cancelled"
)

type TimelineKind string

const (
	TimelinePlaced   TimelineKind = "placed"
	TimelineOrder    TimelineKind = "order"
	TimelineItem     TimelineKind = "item"
	TimelineDerived  TimelineKind = "derived"
	TimelineOverride TimelineKind = "override"
	TimelineRefund   TimelineKind = "refund"
)

// TimelineEntry is immutable once appended to an order.
type TimelineEntry struct {
	ID             string       `json:"id"`
	Status         string       `json:"status"`
	ItemID         string       `json:"item_id,omitempty"`
	Kind           TimelineKind `json:"kind"`
	Note           string       `json:"note,omitempty"`
	Actor          string       `json:"actor"`
	NotifyCustomer bool         `json:"notify_customer"`
	CreatedAt      time.Time    `json:"created_at"`
}

type OrderItem struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"product_id"`
	SellerID          string          `json:"seller_id"`
	Status            ItemStatus      `json:"status"`
	BasePrice         decimal.Decimal `json:"base_price"`
	MarkupAmount      decimal.Decimal `json:"markup_amount"`
	DisplayPrice      decimal.Decimal `json:"display_price"`
	Quantity          int             `json:"quantity"`
	PromotionID       string          `json:"promotion_id,omitempty"`
	PromotionDiscount decimal.Decimal `json:"promotion_discount"`
	CouponDiscount    decimal.Decimal `json:"coupon_discount"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	LineTotal         decimal.Decimal `json:"line_total"`
	TrackingNumber    string          `json:"tracking_number,omitempty"`
	Carrier           string          `json:"carrier,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type Order struct {
	ID              string          `json:"id"`
	BuyerID         string          `json:"buyer_id,omitempty"`
	Status          OrderStatus     `json:"status"`
	Currency        string          `json:"currency"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountTotal   decimal.Decimal `json:"discount_total"`
	Total           decimal.Decimal `json:"total"`
	SellerPayout    decimal.Decimal `json:"seller_payout"`
	PlatformRevenue decimal.Decimal `json:"platform_revenue"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	Items           []OrderItem     `json:"items"`
	Timeline        []TimelineEntry `json:"timeline"`
	Refunds         []Refund        `json:"refunds"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type SellerGroup struct {
	SellerID string          `json:"seller_id"`
	Status   OrderStatus     `json:"status"`
	Items    []OrderItem     `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Payout   decimal.Decimal `json:"payout"`
}

type OrderDetail struct {
	Order        Order           `json:"order"`
	SellerGroups []SellerGroup   `json:"seller_groups"`
	Refunded     decimal.Decimal `json:"refunded"`
	Refundable   decimal.Decimal `json:"refundable"`
}

type OrderFilter struct {
	Status   OrderStatus
	SellerID string
	Limit    int
}

type OrderTransitionRequest struct {
	Status         OrderStatus `json:"status"`
	Comment        string      `json:"comment"`
	NotifyCustomer bool        `json:"notify_customer"`
	Override       bool        `json:"override"`
}

type ItemTransitionRequest struct {
	Status         ItemStatus `json:"status"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	Carrier        string     `json:"carrier,omitempty"`
	Comment        string     `json:"comment"`
	NotifyCustomer bool       `json:"notify_customer"`
}

type ShipSellerRequest struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
	Comment        string `json:"comment"`
	NotifyCustomer bool   `json:"notify_customer"`
}

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

type RefundType string

const (
	RefundFull    RefundType = "full"
	RefundPartial RefundType = "partial"
)

type RefundItem struct {
	ItemID   string          `json:"item_id"`
	Quantity int             `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

type Refund struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Status    RefundStatus    `json:"status"`
	Type      RefundType      `json:"refund_type"`
	Items     []RefundItem    `json:"items,omitempty"`
	Actor     string          `json:"actor"`
	CreatedAt time.Time       `json:"created_at"`
	SettledAt *time.Time      `json:"settled_at,omitempty"`
}

type RefundRequest struct {
	Type           RefundType      `json:"refund_type"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	Items          []RefundItem    `json:"items,omitempty"`
	Deferred       bool            `json:"deferred"`
	NotifyCustomer bool            `json:"notify_customer"`
	ApprovalPIN    string          `json:"approval_pin"`
}

type SettleRefundRequest struct {
	Success        bool   `json:"success"`
	Note           string `json:"note"`
	NotifyCustomer bool   `json:"notify_customer"`
}

type RefundResponse struct {
	Refund Refund      `json:"refund"`
	Status OrderStatus `json:"order_status"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type OperatorCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type OperatorUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)
