package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adedayo14/AOV-v1-sub001/internal/domain"
	"github.com/adedayo14/AOV-v1-sub001/internal/recommendation"
	"github.com/adedayo14/AOV-v1-sub001/internal/service"
	"github.com/adedayo14/AOV-v1-sub001/internal/store/memory"
)

// stubCatalog is a canned ProductSource so handler tests never touch the
// network.
type stubCatalog struct{}

func (stubCatalog) catalog() []recommendation.RawProduct {
	return []recommendation.RawProduct{
		{ID: 2001, Title: "Performance Socks", ProductType: "Accessories", Variants: []recommendation.RawVariant{{ID: 3001, Price: "9.00", Available: true}}},
		{ID: 2002, Title: "Water Bottle", ProductType: "Accessories", Variants: []recommendation.RawVariant{{ID: 3002, Price: "15.00", Available: true}}},
		{ID: 2003, Title: "Gym Towel", ProductType: "Accessories", Variants: []recommendation.RawVariant{{ID: 3003, Price: "12.00", Available: true}}},
		{ID: 2004, Title: "Insoles", ProductType: "Accessories", Variants: []recommendation.RawVariant{{ID: 3004, Price: "18.00", Available: true}}},
		{ID: 2005, Title: "Running Cap", ProductType: "Apparel", Variants: []recommendation.RawVariant{{ID: 3005, Price: "22.00", Available: true}}},
	}
}

func (stubCatalog) ServerRecommendations(context.Context, int64, []int64, int) ([]recommendation.RawProduct, error) {
	return nil, nil
}

func (stubCatalog) RelatedProducts(context.Context, int64, int) ([]recommendation.RawProduct, error) {
	return nil, nil
}

func (s stubCatalog) PopularProducts(context.Context, int) ([]recommendation.RawProduct, error) {
	return s.catalog(), nil
}

func (s stubCatalog) SearchProducts(_ context.Context, query string, limit int) ([]recommendation.RawProduct, error) {
	var out []recommendation.RawProduct
	for _, raw := range s.catalog() {
		if len(out) >= limit {
			break
		}
		if containsFold(raw.Title, query) {
			out = append(out, raw)
		}
	}
	return out, nil
}

func (s stubCatalog) ListProducts(_ context.Context, limit int) ([]recommendation.RawProduct, error) {
	raws := s.catalog()
	if limit > 0 && len(raws) > limit {
		raws = raws[:limit]
	}
	return raws, nil
}

func (stubCatalog) ProductByHandle(context.Context, string) (*recommendation.RawProduct, error) {
	return nil, nil
}

func containsFold(haystack, needle string) bool {
	return needle != "" && strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// newTestAPI builds a full API with a seeded in-memory store, real
// AuthManager and real Service so handler tests exercise the complete
// request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")

	repo := memory.NewSeeded()
	engine := recommendation.NewEngine(stubCatalog{}, time.Second)
	svc := service.New(repo, engine, nil, time.Minute, "demo-shop.myshopify.com")
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, repo)

	return New(svc, auth, "*")
}

func doJSON(t *testing.T, api *API, method, path string, payload any, decorate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if decorate != nil {
		decorate(req)
	}

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func loginAsAdmin(t *testing.T, api *API) string {
	t.Helper()

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned status %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected non-empty access token")
	}
	return resp.AccessToken
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()

	rec := doJSON(t, api, http.MethodGet, "/api/v1/auth/csrf-token", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", rec.Code)
	}

	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response: %v", err)
	}
	if payload["csrf_token"] == "" {
		t.Fatal("expected non-empty csrf_token")
	}
	return payload["csrf_token"]
}

func asAdmin(token, csrf string) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
		if csrf != "" {
			req.Header.Set("X-CSRF-Token", csrf)
		}
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	token := loginAsAdmin(t, api)

	actor, err := api.auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{
		Username: "admin",
		Password: "wrong-password",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleRecommendations_Get(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/recommendations?limit=2", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.RecommendationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Recommendations) != 2 {
		t.Fatalf("expected 2 recommendations, got %d", len(resp.Recommendations))
	}
	if resp.Strategy != domain.DetectionHybrid {
		t.Fatalf("seeded shop runs hybrid, got %q", resp.Strategy)
	}
}

func TestHandleRecommendations_GetWithCartIDs(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/recommendations?product_id=2001&cart=2001,2002", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.RecommendationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	for _, c := range resp.Recommendations {
		if c.ID == 2001 || c.ID == 2002 {
			t.Fatalf("cart id %d leaked into recommendations", c.ID)
		}
	}
}

func TestHandleRecommendations_PostExcludesCart(t *testing.T) {
	api := newTestAPI(t)

	req := domain.RecommendationRequest{
		Cart: domain.CartSnapshot{
			Items: []domain.CartLine{{
				ProductID: 2001, VariantID: 3001, ProductTitle: "Performance Socks",
				Quantity: 1, FinalPrice: 900, LinePrice: 900,
			}},
			ItemCount:  1,
			TotalPrice: 900,
		},
	}
	rec := doJSON(t, api, http.MethodPost, "/api/v1/recommendations", req, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.RecommendationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Recommendations) == 0 {
		t.Fatal("expected recommendations for a non-empty cart")
	}
	for _, c := range resp.Recommendations {
		if c.ID == 2001 {
			t.Fatal("cart product must not be recommended back")
		}
		if c.VariantID == 0 {
			t.Fatalf("candidate %d has no variant id", c.ID)
		}
	}
}

func TestHandleDiscountValidate(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/discount/validate", domain.DiscountValidateRequest{
		Code:           "welcome10",
		CartTotalCents: 5000,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.DiscountValidateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Valid || resp.DiscountCents != 500 {
		t.Fatalf("expected valid 10%% discount, got %+v", resp)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/discount/validate", domain.DiscountValidateRequest{
		Code:           "DOES-NOT-EXIST",
		CartTotalCents: 5000,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("invalid code is still a 200, got %d", rec.Code)
	}
	var invalid domain.DiscountValidateResponse
	if err := json.NewDecoder(rec.Body).Decode(&invalid); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if invalid.Valid {
		t.Fatal("unknown code must not validate")
	}
}

func TestHandleGiftProgress(t *testing.T) {
	api := newTestAPI(t)

	// Seeded shop: free shipping enabled at $75.
	req := domain.GiftProgressRequest{
		Cart: domain.CartSnapshot{
			Items: []domain.CartLine{{
				ProductID: 1, VariantID: 11, ProductTitle: "Shoes",
				Quantity: 1, FinalPrice: 3000, LinePrice: 3000,
			}},
			ItemCount:  1,
			TotalPrice: 3000,
		},
	}
	rec := doJSON(t, api, http.MethodPost, "/api/v1/gift-progress", req, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.GiftProgressResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.EvaluatedTotalCents != 3000 {
		t.Fatalf("expected evaluated total 3000, got %d", resp.EvaluatedTotalCents)
	}
	if resp.FreeShipping == nil {
		t.Fatal("expected a free shipping tier")
	}
	if resp.FreeShipping.Unlocked || resp.FreeShipping.RemainingCents != 4500 {
		t.Fatalf("unexpected free shipping tier: %+v", resp.FreeShipping)
	}
}

func TestHandleEvents(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/events", map[string]any{
		"type":       "clicked",
		"product_id": 2001,
		"anchor_id":  1001,
	}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/events", map[string]any{
		"type":       "viewed",
		"product_id": 2001,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown event type: expected 400, got %d", rec.Code)
	}
}

func TestHandleSettings_GetIsPublic(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/settings", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Settings domain.Settings `json:"settings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Settings.EnableApp {
		t.Fatal("seeded shop must have the app enabled")
	}
	if resp.Settings.RecommendationLayout != domain.LayoutRow {
		t.Fatalf("seeded 'horizontal' must normalize to row, got %q", resp.Settings.RecommendationLayout)
	}
}

func TestHandleSettings_UpdateRequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)

	body := map[string]any{
		"shop":     "",
		"settings": map[string]any{"maxRecommendations": 6},
	}

	rec := doJSON(t, api, http.MethodPut, "/api/v1/settings", body, func(req *http.Request) {
		req.Header.Set("X-CSRF-Token", csrf)
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", rec.Code)
	}

	token := loginAsAdmin(t, api)
	rec = doJSON(t, api, http.MethodPut, "/api/v1/settings", body, asAdmin(token, csrf))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Settings domain.Settings `json:"settings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Settings.MaxRecommendations != 6 {
		t.Fatalf("expected maxRecommendations 6, got %d", resp.Settings.MaxRecommendations)
	}
}

func TestHandleRules_CRUD(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/rules", domain.ManualRuleCreateRequest{
		Pattern:     "camera",
		Complements: []string{"tripod", "memory card"},
	}, asAdmin(token, csrf))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		Rule domain.ManualRule `json:"rule"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Rule.ID == "" {
		t.Fatal("created rule must have an id")
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/rules", nil, asAdmin(token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listed struct {
		Rules []domain.ManualRule `json:"rules"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	found := false
	for _, rule := range listed.Rules {
		if rule.ID == created.Rule.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("created rule missing from list")
	}

	deletePath := fmt.Sprintf("/api/v1/rules/%s", created.Rule.ID)
	rec = doJSON(t, api, http.MethodDelete, deletePath, nil, asAdmin(token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodDelete, deletePath, nil, asAdmin(token, ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestHandleRules_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/rules", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandlePatterns_RebuildAndList(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	// Two widget add events for the same anchor/target pair.
	for i := 0; i < 2; i++ {
		rec := doJSON(t, api, http.MethodPost, "/api/v1/events", map[string]any{
			"type":       "added",
			"product_id": 777,
			"anchor_id":  555,
		}, nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("event ingest: expected 202, got %d", rec.Code)
		}
	}

	rec := doJSON(t, api, http.MethodPost, "/api/v1/purchase-patterns/rebuild", map[string]any{
		"shop": "",
	}, asAdmin(token, csrf))
	if rec.Code != http.StatusOK {
		t.Fatalf("rebuild: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rebuilt domain.PatternsRebuildResponse
	if err := json.NewDecoder(rec.Body).Decode(&rebuilt); err != nil {
		t.Fatalf("decode rebuild response: %v", err)
	}
	if rebuilt.UpdatedPairs != 1 {
		t.Fatalf("expected 1 mined pair, got %d", rebuilt.UpdatedPairs)
	}

	// The widget polls this list, so no credentials attach to the read.
	rec = doJSON(t, api, http.MethodGet, "/api/v1/purchase-patterns", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var listed struct {
		Patterns []domain.PurchasePattern `json:"patterns"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode patterns response: %v", err)
	}
	if len(listed.Patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(listed.Patterns))
	}
	if listed.Patterns[0].SourceProductID != 555 || listed.Patterns[0].TargetProductID != 777 || listed.Patterns[0].Affinity != 1 {
		t.Fatalf("unexpected pattern %+v", listed.Patterns[0])
	}
}

func TestHandlePatterns_ListIsPublicRebuildIsNot(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/purchase-patterns", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous list: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	csrf := fetchCSRFToken(t, api)
	rec = doJSON(t, api, http.MethodPost, "/api/v1/purchase-patterns/rebuild", map[string]any{
		"shop": "",
	}, func(r *http.Request) {
		r.Header.Set("X-CSRF-Token", csrf)
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous rebuild: expected 401, got %d", rec.Code)
	}
}
