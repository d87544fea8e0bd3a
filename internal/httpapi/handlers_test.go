package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/notify"
	"marketplace/backend/internal/service"
	"marketplace/backend/internal/store/memory"
)

const testApprovalPIN = "739154"

// newTestAPI wires the real service, auth manager and in-memory store so
// handler tests cover the whole request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo, err := memory.NewSeeded(zap.NewNop())
	require.NoError(t, err)
	svc := service.New(repo, nil, notify.Noop{}, zap.NewNop(), "IDR")
	auth := NewAuthManager("test-secret-key", time.Hour, testApprovalPIN, repo, zap.NewNop())
	return New(svc, auth, zap.NewNop(), "*")
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()
	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestLoginSuccessAndFailure(t *testing.T) {
	handler := newTestAPI(t).Handler()
	login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQuoteIsPublicAndHidesMarkup(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/quotes", "", domain.QuoteRequest{
		Items: []domain.CartItem{{ProductID: "prd-batik-shirt", Qty: 2}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "markup")
	assert.NotContains(t, rec.Body.String(), "base_price")

	var quote domain.QuoteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
	assert.Equal(t, "IDR", quote.Currency)
	assert.Equal(t, "13800", quote.Total.String())
}

func TestQuoteErrorClassesMapToStatus(t *testing.T) {
	handler := newTestAPI(t).Handler()

	cases := []struct {
		name string
		req  domain.QuoteRequest
		want int
		code string
	}{
		{"empty cart", domain.QuoteRequest{}, http.StatusBadRequest, "invalid_input"},
		{"unknown product", domain.QuoteRequest{Items: []domain.CartItem{{ProductID: "prd-ghost", Qty: 1}}}, http.StatusNotFound, "not_found"},
		{"unknown coupon", domain.QuoteRequest{CouponCode: "NOPE", Items: []domain.CartItem{{ProductID: "prd-kopi-drip", Qty: 1}}}, http.StatusUnprocessableEntity, "coupon_not_applicable"},
		{"inactive product", domain.QuoteRequest{Items: []domain.CartItem{{ProductID: "prd-kopi-grinder", Qty: 1}}}, http.StatusBadRequest, "invalid_input"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPost, "/api/v1/quotes", "", tc.req)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			body := decodeBody[map[string]any](t, rec)
			assert.Equal(t, tc.code, body["code"])
		})
	}
}

func TestProductPricesUseResolvedTemplates(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products/prices?ids=prd-batik-shirt,prd-kopi-drip", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[domain.ProductPriceResponse](t, rec)
	require.Len(t, resp.Prices, 2)
	assert.Equal(t, "6900", resp.Prices[0].DisplayPrice.String())
	assert.Equal(t, "44500", resp.Prices[1].DisplayPrice.String())
}

func TestConsoleRoutesRequireAuth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	operator := login(t, handler, "operator", "operator123")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", operator, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/markup-templates", operator, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMarkupTemplateCreateReportsIssues(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", "admin123")
	operator := login(t, handler, "operator", "operator123")

	upper := decimal.NewFromInt(200)
	overlapping := domain.MarkupTemplateRequest{
		Name:     "overlapping",
		IsActive: true,
		Ranges: []domain.MarkupRange{
			{MinPrice: decimal.Zero, MaxPrice: &upper, Mode: domain.MarkupModeFixed, Value: decimal.NewFromInt(10)},
			{MinPrice: decimal.NewFromInt(100), Mode: domain.MarkupModePercentage, Value: decimal.NewFromInt(5)},
		},
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/markup-templates", operator, overlapping)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/markup-templates", admin, overlapping)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "overlapping_ranges", body["code"])
	assert.NotEmpty(t, body["issues"])

	gappy := overlapping
	gappy.Ranges = []domain.MarkupRange{
		overlapping.Ranges[0],
		{MinPrice: decimal.NewFromInt(500), Mode: domain.MarkupModePercentage, Value: decimal.NewFromInt(5)},
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/markup-templates", admin, gappy)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decodeBody[service.TemplateResult](t, rec)
	assert.Len(t, result.Warnings, 1)
	assert.NotEmpty(t, result.Template.ID)
}

func TestOrderFulfillmentOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	admin := login(t, handler, "admin", "admin123")
	operator := login(t, handler, "operator", "operator123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", operator, domain.PlaceOrderRequest{
		Buyer: domain.BuyerContext{UserID: "buyer-7", Authenticated: true},
		Items: []domain.CartItem{{ProductID: "prd-batik-scarf", Qty: 1}, {ProductID: "prd-kopi-drip", Qty: 2}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	placed := decodeBody[domain.OrderDetail](t, rec)
	orderID := placed.Order.ID
	assert.Equal(t, "103500", placed.Order.Total.String())
	require.Len(t, placed.SellerGroups, 2)

	base := "/api/v1/orders/" + orderID
	rec = doJSON(t, handler, http.MethodPost, base+"/sellers/sel-batik/ship", operator, domain.ShipSellerRequest{TrackingNumber: "JNE1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, base+"/transitions", operator, domain.OrderTransitionRequest{Status: domain.OrderProcessing})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodPost, base+"/sellers/sel-batik/ship", operator, domain.ShipSellerRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, base+"/sellers/sel-batik/ship", operator, domain.ShipSellerRequest{TrackingNumber: "JNE1", Carrier: "JNE"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	shipped := decodeBody[domain.OrderDetail](t, rec)
	assert.Equal(t, domain.OrderPartiallyShipped, shipped.Order.Status)

	refund := domain.RefundRequest{Type: domain.RefundPartial, Amount: decimal.NewFromInt(3500), Reason: "damaged", ApprovalPIN: testApprovalPIN}
	rec = doJSON(t, handler, http.MethodPost, base+"/refunds", operator, refund)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, base+"/refunds", admin, refund)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	refunded := decodeBody[domain.RefundResponse](t, rec)
	assert.Equal(t, domain.RefundCompleted, refunded.Refund.Status)
	assert.Equal(t, domain.OrderPartiallyShipped, refunded.Status)

	rec = doJSON(t, handler, http.MethodPost, base+"/refunds", admin, domain.RefundRequest{
		Type: domain.RefundPartial, Amount: decimal.NewFromInt(100001), ApprovalPIN: testApprovalPIN,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, base, operator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[domain.OrderDetail](t, rec)
	assert.Equal(t, "3500", detail.Refunded.String())
	assert.Equal(t, "100000", detail.Refundable.String())
	assert.Equal(t, "2000", detail.Order.Items[0].MarkupAmount.String())

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/orders/ord-missing", operator, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOperatorAccountsAdminOnly(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users/operators", admin, domain.OperatorCreateRequest{Username: "picker01", Password: "picker-pass"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	picker := login(t, handler, "picker01", "picker-pass")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users/operators", picker, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users/operators", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string][]domain.OperatorUser](t, rec)
	assert.Len(t, body["operators"], 2)
}
