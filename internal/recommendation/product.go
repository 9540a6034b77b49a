package recommendation

import (
	"context"
	"strconv"
	"strings"

	"github.com/adedayo14/AOV-v1-sub001/internal/domain"
)

// ProductSource is the storefront collaborator the engine sources candidates
// from. Implementations talk to the shop's public JSON endpoints; every
// method may fail and the engine treats any failure as zero candidates.
type ProductSource interface {
	// ServerRecommendations calls the platform recommendation endpoint keyed
	// on the anchor product. cartIDs carries the full in-cart product id set.
	ServerRecommendations(ctx context.Context, productID int64, cartIDs []int64, limit int) ([]RawProduct, error)
	// RelatedProducts is the legacy related-products lookup for one product.
	RelatedProducts(ctx context.Context, productID int64, limit int) ([]RawProduct, error)
	// PopularProducts returns the shop's best-effort popular listing.
	PopularProducts(ctx context.Context, limit int) ([]RawProduct, error)
	// SearchProducts runs a full-text/tag/type keyword search.
	SearchProducts(ctx context.Context, query string, limit int) ([]RawProduct, error)
	// ListProducts returns a bounded product listing, used as a linear-scan
	// fallback when search yields nothing and for id-based lookups.
	ListProducts(ctx context.Context, limit int) ([]RawProduct, error)
	// ProductByHandle resolves a single product with full variant data.
	ProductByHandle(ctx context.Context, handle string) (*RawProduct, error)
}

// RawProduct is the duck-typed union of the product shapes returned by
// /products.json, /recommendations/products.json and /search/suggest.json.
// Loosely-typed fields (ids, prices) stay `any` until normalization.
type RawProduct struct {
	ID            any          `json:"id"`
	VariantID     any          `json:"variant_id,omitempty"`
	Title         string       `json:"title"`
	Handle        string       `json:"handle,omitempty"`
	ProductType   string       `json:"product_type,omitempty"`
	Tags          any          `json:"tags,omitempty"`
	Price         any          `json:"price,omitempty"`
	PriceMin      any          `json:"price_min,omitempty"`
	URL           string       `json:"url,omitempty"`
	FeaturedImage any          `json:"featured_image,omitempty"`
	Images        []RawImage   `json:"images,omitempty"`
	Image         *RawImage    `json:"image,omitempty"`
	Variants      []RawVariant `json:"variants,omitempty"`
}

type RawImage struct {
	Src string `json:"src"`
	URL string `json:"url,omitempty"`
}

type RawVariant struct {
	ID        any    `json:"id"`
	Title     string `json:"title,omitempty"`
	Price     any    `json:"price,omitempty"`
	Available bool   `json:"available"`
}

// normalizeRawProduct is the single boundary between duck-typed endpoint
// shapes and the canonical Candidate. It returns nil when the product id or
// a variant id cannot be resolved; such products are dropped silently.
func normalizeRawProduct(raw RawProduct, score float64, reason string) *domain.Candidate {
	id, ok := domain.CoerceID(raw.ID)
	if !ok {
		return nil
	}

	variantID, variants := resolveVariants(raw)
	if variantID == 0 {
		return nil
	}

	c := &domain.Candidate{
		ID:         id,
		Title:      strings.TrimSpace(raw.Title),
		PriceCents: resolvePriceCents(raw, variants),
		Image:      resolveImage(raw),
		VariantID:  variantID,
		Handle:     raw.Handle,
		URL:        raw.URL,
		Variants:   variants,
		Score:      score,
		Reason:     reason,
	}
	if c.URL == "" && c.Handle != "" {
		c.URL = "/products/" + c.Handle
	}
	return c
}

// resolveVariants picks the purchasable variant id: the first variant
// carrying a non-null id, else the product-level variant_id field.
func resolveVariants(raw RawProduct) (int64, []domain.VariantInfo) {
	variants := make([]domain.VariantInfo, 0, len(raw.Variants))
	var first int64
	for _, v := range raw.Variants {
		vid, ok := domain.CoerceID(v.ID)
		if !ok {
			continue
		}
		if first == 0 {
			first = vid
		}
		variants = append(variants, domain.VariantInfo{
			ID:         vid,
			Title:      v.Title,
			PriceCents: parsePriceCents(v.Price),
			Available:  v.Available,
		})
	}
	if first != 0 {
		return first, variants
	}
	if vid, ok := domain.CoerceID(raw.VariantID); ok {
		return vid, nil
	}
	return 0, nil
}

func resolvePriceCents(raw RawProduct, variants []domain.VariantInfo) int64 {
	for _, v := range variants {
		if v.PriceCents > 0 {
			return v.PriceCents
		}
	}
	if cents := parsePriceCents(raw.Price); cents > 0 {
		return cents
	}
	return parsePriceCents(raw.PriceMin)
}

// parsePriceCents handles the two price encodings the endpoints use:
// decimal-dollar strings ("12.00") and integer cent amounts. A float with a
// fractional part is taken as dollars.
func parsePriceCents(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		if strings.Contains(s, ".") {
			return int64(f*100 + 0.5)
		}
		return int64(f)
	case float64:
		if t != float64(int64(t)) {
			return int64(t*100 + 0.5)
		}
		return int64(t)
	case int:
		return int64(t)
	case int64:
		return t
	default:
		return 0
	}
}

func resolveImage(raw RawProduct) string {
	switch t := raw.FeaturedImage.(type) {
	case string:
		if t != "" {
			return t
		}
	case map[string]any:
		if src, ok := t["src"].(string); ok && src != "" {
			return src
		}
		if url, ok := t["url"].(string); ok && url != "" {
			return url
		}
	}
	if raw.Image != nil {
		if raw.Image.Src != "" {
			return raw.Image.Src
		}
		if raw.Image.URL != "" {
			return raw.Image.URL
		}
	}
	for _, img := range raw.Images {
		if img.Src != "" {
			return img.Src
		}
		if img.URL != "" {
			return img.URL
		}
	}
	return ""
}
