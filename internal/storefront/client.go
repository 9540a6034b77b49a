// Package storefront is the outbound client for a shop's public JSON
// endpoints. It implements recommendation.ProductSource; callers treat every
// failure here as "zero candidates", so errors are returned plain and never
// wrapped into retries.
package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adedayo14/AOV-v1-sub001/internal/recommendation"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a client for the given shop domain (e.g. "example.myshopify.com").
// The transport timeout is a backstop; per-call deadlines come from ctx.
func New(shopDomain string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	base := strings.TrimRight(shopDomain, "/")
	if base != "" && !strings.HasPrefix(base, "http") {
		base = "https://" + base
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type productsEnvelope struct {
	Products []recommendation.RawProduct `json:"products"`
}

type suggestEnvelope struct {
	Resources struct {
		Results struct {
			Products []recommendation.RawProduct `json:"products"`
		} `json:"results"`
	} `json:"resources"`
}

func (c *Client) ServerRecommendations(ctx context.Context, productID int64, cartIDs []int64, limit int) ([]recommendation.RawProduct, error) {
	q := url.Values{}
	q.Set("product_id", strconv.FormatInt(productID, 10))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("intent", "complementary")
	if len(cartIDs) > 0 {
		q.Set("cart", joinIDs(cartIDs))
	}

	var env productsEnvelope
	if err := c.getJSON(ctx, "/recommendations/products.json", q, &env); err != nil {
		return nil, err
	}
	return env.Products, nil
}

func (c *Client) RelatedProducts(ctx context.Context, productID int64, limit int) ([]recommendation.RawProduct, error) {
	q := url.Values{}
	q.Set("product_id", strconv.FormatInt(productID, 10))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("intent", "related")

	var env productsEnvelope
	if err := c.getJSON(ctx, "/recommendations/products.json", q, &env); err != nil {
		return nil, err
	}
	return env.Products, nil
}

// PopularProducts prefers the shop's "all" collection ordering and falls
// back to the flat product listing when the collection is missing.
func (c *Client) PopularProducts(ctx context.Context, limit int) ([]recommendation.RawProduct, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var env productsEnvelope
	if err := c.getJSON(ctx, "/collections/all/products.json", q, &env); err == nil && len(env.Products) > 0 {
		return env.Products, nil
	}

	env = productsEnvelope{}
	if err := c.getJSON(ctx, "/products.json", q, &env); err != nil {
		return nil, err
	}
	return env.Products, nil
}

func (c *Client) SearchProducts(ctx context.Context, query string, limit int) ([]recommendation.RawProduct, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("resources[type]", "product")
	q.Set("limit", strconv.Itoa(limit))

	var env suggestEnvelope
	if err := c.getJSON(ctx, "/search/suggest.json", q, &env); err != nil {
		return nil, err
	}
	return env.Resources.Results.Products, nil
}

func (c *Client) ListProducts(ctx context.Context, limit int) ([]recommendation.RawProduct, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var env productsEnvelope
	if err := c.getJSON(ctx, "/products.json", q, &env); err != nil {
		return nil, err
	}
	return env.Products, nil
}

func (c *Client) ProductByHandle(ctx context.Context, handle string) (*recommendation.RawProduct, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, fmt.Errorf("storefront: empty handle")
	}

	var raw recommendation.RawProduct
	if err := c.getJSON(ctx, "/products/"+url.PathEscape(handle)+".js", nil, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, dest any) error {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("storefront: %s returned %d", path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(dest)
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}
