package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/observability"
	"marketplace/backend/internal/service"
	"marketplace/backend/internal/store"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	rec := doJSON(t, newTestAPI(t).Handler(), http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, rec.Header().Get(observability.RequestIDHeader))
}

func TestPreflightShortCircuits(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	newTestAPI(t).Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoginRateLimitReturns429(t *testing.T) {
	handler := newTestAPI(t).Handler()
	body := domain.LoginRequest{Username: "admin", Password: "wrong-pass"}

	for i := 0; i < 6; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", body)
		if i < 5 {
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code, "attempt %d", i+1)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	newTestAPI(t).Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownFieldsRejected(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes", strings.NewReader(`{"items":[],"markup":"0"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	newTestAPI(t).Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApprovalPINRateLimitReturns429(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", "admin123")
	body := domain.RefundRequest{Type: domain.RefundFull, Reason: "test", ApprovalPIN: "000000"}

	for i := 0; i < 9; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders/ord-nonexistent/refunds", admin, body)
		if i < 8 {
			assert.Equal(t, http.StatusForbidden, rec.Code, "attempt %d", i+1)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code, "attempt %d", i+1)
		}
	}
}

func TestStatusForErrorClasses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidInput.Withf("x"), http.StatusBadRequest},
		{domain.ErrInvalidTransition.Withf("x"), http.StatusConflict},
		{domain.ErrCouponMinOrder.Withf("x"), http.StatusUnprocessableEntity},
		{domain.ErrRefundNotFound.Withf("x"), http.StatusNotFound},
		{store.ErrConflict.Withf("version moved"), http.StatusConflict},
		{service.ErrAdminRequired.Withf("x"), http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", store.ErrNotFound), http.StatusNotFound},
		{errors.New("dial tcp: refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusForError(tc.err), tc.err.Error())
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusInternalServerError, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestParsePositiveLimitCaps(t *testing.T) {
	assert.Equal(t, 200, parsePositiveLimit("9999", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("invalid", 50, 200))
}
