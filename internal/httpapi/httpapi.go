package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/observability"
	"marketplace/backend/internal/pricing"
	"marketplace/backend/internal/service"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	logger        *zap.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, logger *zap.Logger, allowedOrigin string) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		logger:        logger,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observability.RequestID)
	r.Use(observability.Trace)
	r.Use(observability.RequestLogger(a.logger))
	r.Use(a.securityHeaders)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		// Storefront reads. Nothing here is redeemed or persisted.
		r.Post("/quotes", a.handleQuote)
		r.Get("/products/prices", a.handleProductPrices)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleOperator, domain.RoleAdmin))

			r.Get("/sellers", a.handleListSellers)
			r.Put("/sellers/{sellerID}/markup-template", a.handleAssignSellerTemplate)

			r.Get("/markup-templates", a.handleListTemplates)
			r.Post("/markup-templates", a.handleCreateTemplate)
			r.Post("/markup-templates/preview", a.handlePreviewMarkup)
			r.Get("/markup-templates/{templateID}", a.handleGetTemplate)
			r.Put("/markup-templates/{templateID}", a.handleUpdateTemplate)

			r.Get("/promotions", a.handleListPromotions)
			r.Post("/promotions", a.handleCreatePromotion)
			r.Patch("/promotions/{promotionID}/active", a.handleTogglePromotion)

			r.Get("/coupons", a.handleListCoupons)
			r.Post("/coupons", a.handleCreateCoupon)
			r.Patch("/coupons/{couponID}/active", a.handleToggleCoupon)

			r.Get("/orders", a.handleListOrders)
			r.Post("/orders", a.handlePlaceOrder)
			r.Route("/orders/{orderID}", func(r chi.Router) {
				r.Get("/", a.handleGetOrder)
				r.Post("/transitions", a.handleOrderTransition)
				r.Post("/items/{itemID}/transitions", a.handleItemTransition)
				r.Post("/sellers/{sellerID}/ship", a.handleShipSeller)
				r.Post("/refunds", a.handleRefund)
				r.Post("/refunds/{refundID}/settle", a.handleSettleRefund)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))
			r.Get("/audit-logs", a.handleAuditLogs)
			r.Get("/users/operators", a.handleListOperators)
			r.Post("/users/operators", a.handleCreateOperator)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+observability.RequestIDHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req domain.QuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.Quote(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProductPrices(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if raw := strings.TrimSpace(r.URL.Query().Get("ids")); raw != "" {
		ids = strings.Split(raw, ",")
	}
	resp, err := a.service.ProductPrices(r.Context(), ids)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListSellers(w http.ResponseWriter, r *http.Request) {
	sellers, err := a.service.ListSellers(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sellers": sellers})
}

func (a *API) handleAssignSellerTemplate(w http.ResponseWriter, r *http.Request) {
	var req domain.SellerTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	seller, err := a.service.AssignSellerTemplate(r.Context(), chi.URLParam(r, "sellerID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seller": seller})
}

func (a *API) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := a.service.ListMarkupTemplates(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markup_templates": templates})
}

func (a *API) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := a.service.GetMarkupTemplate(r.Context(), chi.URLParam(r, "templateID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markup_template": tpl})
}

func (a *API) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req domain.MarkupTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.CreateMarkupTemplate(r.Context(), req)
	if err != nil {
		a.failRanges(w, r, err, req.Ranges)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req domain.MarkupTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.UpdateMarkupTemplate(r.Context(), chi.URLParam(r, "templateID"), req)
	if err != nil {
		a.failRanges(w, r, err, req.Ranges)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handlePreviewMarkup(w http.ResponseWriter, r *http.Request) {
	var req domain.MarkupPreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.PreviewMarkup(r.Context(), req)
	if err != nil {
		a.failRanges(w, r, err, req.Ranges)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleListPromotions(w http.ResponseWriter, r *http.Request) {
	promotions, err := a.service.ListPromotions(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"promotions": promotions})
}

func (a *API) handleCreatePromotion(w http.ResponseWriter, r *http.Request) {
	var req domain.PromotionCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	promo, err := a.service.CreatePromotion(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"promotion": promo})
}

func (a *API) handleTogglePromotion(w http.ResponseWriter, r *http.Request) {
	var req domain.ToggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	promo, err := a.service.SetPromotionActive(r.Context(), chi.URLParam(r, "promotionID"), req.Active)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"promotion": promo})
}

// handleListCoupons doubles as a lookup when ?code= is given.
func (a *API) handleListCoupons(w http.ResponseWriter, r *http.Request) {
	if code := strings.TrimSpace(r.URL.Query().Get("code")); code != "" {
		coupon, err := a.service.GetCoupon(r.Context(), code)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"coupon": coupon})
		return
	}

	coupons, err := a.service.ListCoupons(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"coupons": coupons})
}

func (a *API) handleCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req domain.CouponCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	coupon, err := a.service.CreateCoupon(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"coupon": coupon})
}

func (a *API) handleToggleCoupon(w http.ResponseWriter, r *http.Request) {
	var req domain.ToggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	coupon, err := a.service.SetCouponActive(r.Context(), chi.URLParam(r, "couponID"), req.Active)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"coupon": coupon})
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	orders, err := a.service.ListOrders(r.Context(), domain.OrderFilter{
		Status:   domain.OrderStatus(strings.TrimSpace(query.Get("status"))),
		SellerID: strings.TrimSpace(query.Get("seller_id")),
		Limit:    parsePositiveLimit(query.Get("limit"), 50, 500),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.PlaceOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	detail, err := a.service.PlaceOrder(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	detail, err := a.service.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleOrderTransition(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderTransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	detail, err := a.service.TransitionOrder(r.Context(), chi.URLParam(r, "orderID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleItemTransition(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemTransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	detail, err := a.service.TransitionItem(r.Context(), chi.URLParam(r, "orderID"), chi.URLParam(r, "itemID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleShipSeller(w http.ResponseWriter, r *http.Request) {
	var req domain.ShipSellerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	detail, err := a.service.ShipSellerGroup(r.Context(), chi.URLParam(r, "orderID"), chi.URLParam(r, "sellerID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req domain.RefundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.pinLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many approval PIN attempts"))
		return
	}
	if !a.auth.ValidateApprovalPIN(req.ApprovalPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid approval PIN"))
		return
	}

	resp, err := a.service.Refund(r.Context(), chi.URLParam(r, "orderID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleSettleRefund(w http.ResponseWriter, r *http.Request) {
	var req domain.SettleRefundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.SettleRefund(r.Context(), chi.URLParam(r, "orderID"), chi.URLParam(r, "refundID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleListOperators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"operators": a.auth.ListOperators(r.Context())})
}

func (a *API) handleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var req domain.OperatorCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	operator, err := a.auth.CreateOperator(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"operator": operator})
}

// fail maps a service error to its HTTP status and hides 5xx details.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("request_id", observability.RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, err)
}

// failRanges adds the per-range findings to an overlapping-range rejection.
func (a *API) failRanges(w http.ResponseWriter, r *http.Request, err error, ranges []domain.MarkupRange) {
	if !errors.Is(err, domain.ErrOverlappingRanges) {
		a.fail(w, r, err)
		return
	}
	issues, _ := pricing.ValidateRanges(ranges)
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  err.Error(),
		"code":   domain.ErrOverlappingRanges.Code,
		"issues": issues,
	})
}

func statusForError(err error) int {
	var domainErr *domain.Error
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}
	switch domainErr.Class {
	case domain.ClassValidation:
		return http.StatusBadRequest
	case domain.ClassState, domain.ClassConflict:
		return http.StatusConflict
	case domain.ClassNotApplicable:
		return http.StatusUnprocessableEntity
	case domain.ClassNotFound:
		return http.StatusNotFound
	case domain.ClassForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal server error"
	}
	payload := map[string]any{"error": msg}
	var domainErr *domain.Error
	if status < http.StatusInternalServerError && errors.As(err, &domainErr) && domainErr.Code != "" {
		payload["code"] = domainErr.Code
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
