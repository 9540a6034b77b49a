package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/healthz", nil, nil)

	headers := map[string]string{
		"X-Content-Type-Options":      "nosniff",
		"X-Frame-Options":             "DENY",
		"Referrer-Policy":             "strict-origin-when-cross-origin",
		"Access-Control-Allow-Origin": "*",
	}
	for name, want := range headers {
		if got := rec.Header().Get(name); got != want {
			t.Errorf("%s: expected %q, got %q", name, want, got)
		}
	}
}

func TestPreflightReturnsNoContent(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/settings", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PUT") {
		t.Fatalf("preflight must advertise PUT, got %q", got)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)

	payload := map[string]string{"username": "admin", "password": "wrong"}
	for i := 0; i < 5; i++ {
		rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", payload, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", payload, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", rec.Code)
	}
}

func TestDiscountRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)

	payload := map[string]any{"code": "WELCOME10", "cart_total_cents": 5000}
	for i := 0; i < 10; i++ {
		rec := doJSON(t, api, http.MethodPost, "/api/v1/discount/validate", payload, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := doJSON(t, api, http.MethodPost, "/api/v1/discount/validate", payload, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", rec.Code)
	}
}

func TestAdminMutationsRequireCSRF(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/rules", map[string]any{
		"pattern":     "camera",
		"complements": []string{"tripod"},
	}, asAdmin(token, ""))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "CSRF") {
		t.Fatalf("expected CSRF error, got %s", rec.Body.String())
	}
}

func TestWidgetEndpointsExemptFromCSRF(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/events", map[string]any{
		"type":       "shown",
		"product_id": 2001,
	}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("storefront endpoint must skip CSRF, got %d", rec.Code)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)

	huge := bytes.Repeat([]byte("a"), 2<<20)
	body := []byte(`{"type":"shown","product_id":1,"reason":"` + string(huge) + `"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
}

func TestCSRFTokenValidation(t *testing.T) {
	api := newTestAPI(t)

	token := api.generateCSRFToken()
	if !api.validateCSRFToken(token) {
		t.Fatal("freshly generated token must validate")
	}
	if api.validateCSRFToken("") {
		t.Fatal("empty token must not validate")
	}
	if api.validateCSRFToken("deadbeef") {
		t.Fatal("forged token must not validate")
	}

	other := newTestAPI(t)
	if other.validateCSRFToken(token) {
		t.Fatal("token must be bound to the issuing instance's secret")
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	cases := []struct {
		raw      string
		fallback int
		max      int
		want     int
	}{
		{"", 4, 50, 4},
		{"3", 4, 50, 3},
		{" 99 ", 0, 50, 50},
		{"abc", 4, 50, 4},
		{"-2", 4, 50, 4},
		{"0", 4, 50, 4},
	}
	for _, tc := range cases {
		if got := parsePositiveLimit(tc.raw, tc.fallback, tc.max); got != tc.want {
			t.Errorf("parsePositiveLimit(%q, %d, %d) = %d, want %d", tc.raw, tc.fallback, tc.max, got, tc.want)
		}
	}
}

func TestWriteErrorRedactsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusInternalServerError, errStub("database password leaked"))

	if strings.Contains(rec.Body.String(), "password") {
		t.Fatal("5xx error detail must not reach the client")
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Fatalf("expected redacted message, got %s", rec.Body.String())
	}
}

type errStub string

func (e errStub) Error() string { return string(e) }
