package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/seed"
	"marketplace/backend/internal/store"
	"marketplace/backend/internal/xid"
)

type Store struct {
	mu                sync.RWMutex
	products          map[string]domain.Product
	sellers           map[string]domain.Seller
	templatesByID     map[string]domain.MarkupTemplate
	promotionsByID    map[string]domain.Promotion
	couponsByID       map[string]domain.Coupon
	couponIDByCode    map[string]string
	couponRedemptions map[string]map[string]int
	ordersByID        map[string]*domain.Order
	auditLogs         []domain.AuditLog
	usersByUsername   map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD and
// fall back to dev defaults with a warning.
func seedUsers(logger *zap.Logger) (map[string]domain.UserAccount, error) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "operator123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		logger.Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"operator", operatorPwd, domain.RoleOperator},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing seed password for %s: %w", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:          make(map[string]domain.Product),
		sellers:           make(map[string]domain.Seller),
		templatesByID:     make(map[string]domain.MarkupTemplate),
		promotionsByID:    make(map[string]domain.Promotion),
		couponsByID:       make(map[string]domain.Coupon),
		couponIDByCode:    make(map[string]string),
		couponRedemptions: make(map[string]map[string]int),
		ordersByID:        make(map[string]*domain.Order),
		usersByUsername:   make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store holding the built-in demo catalog and users.
func NewSeeded(logger *zap.Logger) (*Store, error) {
	return NewFromCatalog(seed.Default(), logger)
}

func NewFromCatalog(catalog seed.Catalog, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	users, err := seedUsers(logger)
	if err != nil {
		return nil, err
	}

	s := New()
	for _, seller := range catalog.Sellers {
		s.sellers[seller.ID] = seller
	}
	for _, product := range catalog.Products {
		s.products[product.ID] = product
	}
	for _, tpl := range catalog.Templates {
		s.templatesByID[tpl.ID] = cloneTemplate(tpl)
	}
	for _, promo := range catalog.Promotions {
		if promo.ID == "" {
			promo.ID = xid.New("promo")
		}
		s.promotionsByID[promo.ID] = promo
	}
	for _, coupon := range catalog.Coupons {
		if coupon.ID == "" {
			coupon.ID = xid.New("cpn")
		}
		s.couponsByID[coupon.ID] = coupon
		s.couponIDByCode[strings.ToUpper(coupon.Code)] = coupon.ID
	}
	s.usersByUsername = users
	return s, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		products = append(products, product)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

func (s *Store) ListSellers(_ context.Context) ([]domain.Seller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sellers := make([]domain.Seller, 0, len(s.sellers))
	for _, seller := range s.sellers {
		sellers = append(sellers, seller)
	}
	slices.SortFunc(sellers, func(a, b domain.Seller) int {
		return cmpString(a.ID, b.ID)
	})
	return sellers, nil
}

func (s *Store) GetSeller(_ context.Context, id string) (*domain.Seller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seller, ok := s.sellers[id]
	if !ok {
		return nil, store.ErrNotFound.Withf("seller %s", id)
	}
	return &seller, nil
}

func (s *Store) AssignSellerTemplate(_ context.Context, sellerID string, templateID string) (*domain.Seller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seller, ok := s.sellers[sellerID]
	if !ok {
		return nil, store.ErrNotFound.Withf("seller %s", sellerID)
	}
	if templateID != "" {
		if _, ok := s.templatesByID[templateID]; !ok {
			return nil, store.ErrNotFound.Withf("markup template %s", templateID)
		}
	}
	seller.MarkupTemplateID = templateID
	s.sellers[sellerID] = seller
	return &seller, nil
}

func (s *Store) CreateMarkupTemplate(_ context.Context, template domain.MarkupTemplate) (*domain.MarkupTemplate, error) {
	if strings.TrimSpace(template.Name) == "" {
		return nil, store.ErrInvalidRecord.Withf("template name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if template.ID == "" {
		template.ID = xid.New("tpl")
	}
	if _, exists := s.templatesByID[template.ID]; exists {
		return nil, store.ErrConflict.Withf("markup template %s already exists", template.ID)
	}
	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}
	template.UpdatedAt = template.CreatedAt
	if template.IsDefault {
		s.clearDefaultLocked(template.ID)
	}
	s.templatesByID[template.ID] = cloneTemplate(template)
	out := cloneTemplate(template)
	return &out, nil
}

func (s *Store) UpdateMarkupTemplate(_ context.Context, template domain.MarkupTemplate) (*domain.MarkupTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.templatesByID[template.ID]
	if !ok {
		return nil, store.ErrNotFound.Withf("markup template %s", template.ID)
	}
	template.CreatedAt = existing.CreatedAt
	template.UpdatedAt = time.Now().UTC()
	if template.IsDefault {
		s.clearDefaultLocked(template.ID)
	}
	s.templatesByID[template.ID] = cloneTemplate(template)
	out := cloneTemplate(template)
	return &out, nil
}

func (s *Store) clearDefaultLocked(keepID string) {
	for id, tpl := range s.templatesByID {
		if id != keepID && tpl.IsDefault {
			tpl.IsDefault = false
			s.templatesByID[id] = tpl
		}
	}
}

func (s *Store) GetMarkupTemplate(_ context.Context, id string) (*domain.MarkupTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templatesByID[id]
	if !ok {
		return nil, store.ErrNotFound.Withf("markup template %s", id)
	}
	out := cloneTemplate(tpl)
	return &out, nil
}

func (s *Store) ListMarkupTemplates(_ context.Context) ([]domain.MarkupTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	templates := make([]domain.MarkupTemplate, 0, len(s.templatesByID))
	for _, tpl := range s.templatesByID {
		templates = append(templates, cloneTemplate(tpl))
	}
	slices.SortFunc(templates, func(a, b domain.MarkupTemplate) int {
		return cmpString(a.ID, b.ID)
	})
	return templates, nil
}

func (s *Store) GetDefaultMarkupTemplate(_ context.Context) (*domain.MarkupTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tpl := range s.templatesByID {
		if tpl.IsDefault && tpl.IsActive {
			out := cloneTemplate(tpl)
			return &out, nil
		}
	}
	return nil, store.ErrNotFound.Withf("no active default markup template")
}

func (s *Store) CreatePromotion(_ context.Context, promo domain.Promotion) (*domain.Promotion, error) {
	if strings.TrimSpace(promo.Name) == "" {
		return nil, store.ErrInvalidRecord.Withf("promotion name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if promo.ID == "" {
		promo.ID = xid.New("promo")
	}
	if promo.CreatedAt.IsZero() {
		promo.CreatedAt = time.Now().UTC()
	}
	promo.IsActive = true
	s.promotionsByID[promo.ID] = promo
	out := promo
	return &out, nil
}

func (s *Store) ListPromotions(_ context.Context) ([]domain.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	promos := make([]domain.Promotion, 0, len(s.promotionsByID))
	for _, promo := range s.promotionsByID {
		promos = append(promos, promo)
	}
	slices.SortFunc(promos, func(a, b domain.Promotion) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return promos, nil
}

func (s *Store) UpdatePromotionActive(_ context.Context, id string, active bool) (*domain.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promo, exists := s.promotionsByID[id]
	if !exists {
		return nil, store.ErrNotFound.Withf("promotion %s", id)
	}
	promo.IsActive = active
	s.promotionsByID[id] = promo
	out := promo
	return &out, nil
}

func (s *Store) CreateCoupon(_ context.Context, coupon domain.Coupon) (*domain.Coupon, error) {
	code := strings.ToUpper(strings.TrimSpace(coupon.Code))
	if code == "" {
		return nil, store.ErrInvalidRecord.Withf("coupon code is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.couponIDByCode[code]; exists {
		return nil, store.ErrConflict.Withf("coupon code %s already exists", code)
	}
	if coupon.ID == "" {
		coupon.ID = xid.New("cpn")
	}
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = time.Now().UTC()
	}
	coupon.Code = code
	coupon.UsedCount = 0
	coupon.IsActive = true
	s.couponsByID[coupon.ID] = coupon
	s.couponIDByCode[code] = coupon.ID
	out := coupon
	return &out, nil
}

func (s *Store) ListCoupons(_ context.Context) ([]domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coupons := make([]domain.Coupon, 0, len(s.couponsByID))
	for _, coupon := range s.couponsByID {
		coupons = append(coupons, coupon)
	}
	slices.SortFunc(coupons, func(a, b domain.Coupon) int {
		return cmpString(a.Code, b.Code)
	})
	return coupons, nil
}

func (s *Store) GetCouponByCode(_ context.Context, code string) (*domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.couponIDByCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, store.ErrNotFound.Withf("coupon %s", code)
	}
	coupon := s.couponsByID[id]
	return &coupon, nil
}

func (s *Store) UpdateCouponActive(_ context.Context, id string, active bool) (*domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coupon, exists := s.couponsByID[id]
	if !exists {
		return nil, store.ErrNotFound.Withf("coupon %s", id)
	}
	coupon.IsActive = active
	s.couponsByID[id] = coupon
	out := coupon
	return &out, nil
}

func (s *Store) CountCouponRedemptions(_ context.Context, couponID string, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.couponRedemptions[couponID][userID], nil
}

func (s *Store) PlaceOrder(_ context.Context, order domain.Order, redemption *domain.CouponRedemption) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, store.ErrInvalidRecord.Withf("order has no items")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if _, exists := s.ordersByID[order.ID]; exists {
		return nil, store.ErrConflict.Withf("order %s already exists", order.ID)
	}

	if redemption != nil {
		coupon, ok := s.couponsByID[redemption.CouponID]
		if !ok {
			return nil, store.ErrNotFound.Withf("coupon %s", redemption.Code)
		}
		if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
			return nil, domain.ErrCouponExhausted.Withf("coupon %s reached its usage limit of %d", coupon.Code, coupon.UsageLimit)
		}
		used := s.couponRedemptions[coupon.ID][redemption.UserID]
		if coupon.UsageLimitPerUser > 0 && used >= coupon.UsageLimitPerUser {
			return nil, domain.ErrCouponUserLimit.Withf("coupon %s already used %d times by this buyer", coupon.Code, used)
		}
		coupon.UsedCount++
		s.couponsByID[coupon.ID] = coupon
		if s.couponRedemptions[coupon.ID] == nil {
			s.couponRedemptions[coupon.ID] = make(map[string]int)
		}
		s.couponRedemptions[coupon.ID][redemption.UserID] = used + 1
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt
	order.Version = 1
	stored := domain.CloneOrder(order)
	s.ordersByID[order.ID] = &stored
	out := domain.CloneOrder(stored)
	return &out, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound.Withf("order %s", id)
	}
	out := domain.CloneOrder(*order)
	return &out, nil
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.SellerID != "" && !slices.ContainsFunc(order.Items, func(item domain.OrderItem) bool {
			return item.SellerID == filter.SellerID
		}) {
			continue
		}
		orders = append(orders, domain.CloneOrder(*order))
	}

	slices.SortFunc(orders, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

// UpdateOrder runs mutate on a copy under the write lock and stores the copy
// only if mutate succeeds.
func (s *Store) UpdateOrder(_ context.Context, id string, mutate store.OrderMutation) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound.Withf("order %s", id)
	}

	draft := domain.CloneOrder(*current)
	if err := mutate(&draft); err != nil {
		return nil, err
	}
	draft.ID = current.ID
	draft.Version = current.Version + 1
	s.ordersByID[id] = &draft
	out := domain.CloneOrder(draft)
	return &out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := slices.Clone(s.auditLogs)
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord.Withf("username and password are required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict.Withf("user %s already exists", username)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleOperator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord.Withf("username and password are required")
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound.Withf("user %s", username)
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneTemplate(src domain.MarkupTemplate) domain.MarkupTemplate {
	dup := src
	dup.Ranges = make([]domain.MarkupRange, len(src.Ranges))
	copy(dup.Ranges, src.Ranges)
	return dup
}
