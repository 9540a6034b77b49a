package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// CartLine is one entry of the Shopify /cart.js payload, reduced to the
// fields the backend consumes.
type CartLine struct {
	ProductID    int64             `json:"product_id"`
	VariantID    int64             `json:"variant_id"`
	ProductTitle string            `json:"product_title"`
	VariantTitle string            `json:"variant_title,omitempty"`
	ProductType  string            `json:"product_type,omitempty"`
	Quantity     int               `json:"quantity"`
	FinalPrice   int64             `json:"final_price"`
	LinePrice    int64             `json:"line_price"`
	Properties   map[string]string `json:"properties,omitempty"`
}

// IsGift reports whether the line was injected by a gift-threshold promotion.
func (l CartLine) IsGift() bool {
	return l.Properties["_is_gift"] == "true"
}

type CartSnapshot struct {
	Items      []CartLine        `json:"items"`
	ItemCount  int               `json:"item_count"`
	TotalPrice int64             `json:"total_price"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ProductIDs returns the unique product ids in cart order. Gift lines are
// included: their products must still be excluded from recommendations.
func (c CartSnapshot) ProductIDs() []int64 {
	seen := make(map[int64]struct{}, len(c.Items))
	ids := make([]int64, 0, len(c.Items))
	for _, line := range c.Items {
		if line.ProductID == 0 {
			continue
		}
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

// VisibleTotalCents is the cart total with gift lines stripped out, which is
// the amount threshold promotions are evaluated against.
func (c CartSnapshot) VisibleTotalCents() int64 {
	total := c.TotalPrice
	for _, line := range c.Items {
		if line.IsGift() {
			total -= line.LinePrice
		}
	}
	if total < 0 {
		return 0
	}
	return total
}

const (
	LayoutRow    = "row"
	LayoutColumn = "column"
	LayoutGrid   = "grid"
)

const (
	DetectionManual    = "manual"
	DetectionAutomatic = "automatic"
	DetectionHybrid    = "hybrid"
)

// Settings is the canonical widget configuration produced by
// settings.Normalize. Field names mirror the merchant-facing option keys.
type Settings struct {
	EnableApp                     bool                `json:"enableApp"`
	EnableRecommendations         bool                `json:"enableRecommendations"`
	AutoOpenCart                  bool                `json:"autoOpenCart"`
	EnableStickyCart              bool                `json:"enableStickyCart"`
	EnableFreeShipping            bool                `json:"enableFreeShipping"`
	EnableGiftGating              bool                `json:"enableGiftGating"`
	EnableAddons                  bool                `json:"enableAddons"`
	EnableNotes                   bool                `json:"enableNotes"`
	EnableDiscountCode            bool                `json:"enableDiscountCode"`
	EnableExpressCheckout         bool                `json:"enableExpressCheckout"`
	EnableTitleCaps               bool                `json:"enableTitleCaps"`
	EnableRecommendationTitleCaps bool                `json:"enableRecommendationTitleCaps"`
	RecommendationLayout          string              `json:"recommendationLayout"`
	MaxRecommendations            int                 `json:"maxRecommendations"`
	ComplementDetectionMode       string              `json:"complementDetectionMode"`
	ManualComplementRules         map[string][]string `json:"manualComplementRules"`
	ManualRecommendationProducts  []string            `json:"manualRecommendationProducts"`
	FreeShippingThresholdCents    int64               `json:"freeShippingThresholdCents"`
	FreeShippingText              string              `json:"freeShippingText"`
	FreeShippingUnlockedText      string              `json:"freeShippingUnlockedText"`
	GiftThresholds                []GiftThreshold     `json:"giftThresholds"`
	GiftProgressText              string              `json:"giftProgressText"`
	GiftUnlockedText              string              `json:"giftUnlockedText"`
}

// GiftThreshold describes one tier of a threshold-based gift promotion.
type GiftThreshold struct {
	ThresholdCents int64  `json:"thresholdCents"`
	ProductID      int64  `json:"productId,omitempty"`
	VariantID      int64  `json:"variantId,omitempty"`
	Title          string `json:"title,omitempty"`
}

// Recommendation reason codes, ordered roughly by sourcing priority.
const (
	ReasonServerRecs        = "server_recs"
	ReasonManualSelection   = "manual_selection"
	ReasonManualRule        = "manual_rule"
	ReasonAIComplement      = "ai_complement"
	ReasonFrequentlyBought  = "frequently_bought"
	ReasonPriceIntelligence = "price_intelligence"
	ReasonSeasonalTrending  = "seasonal_trending"
	ReasonPopularFallback   = "popular_fallback"
)

type VariantInfo struct {
	ID         int64  `json:"id"`
	Title      string `json:"title,omitempty"`
	PriceCents int64  `json:"price_cents"`
	Available  bool   `json:"available"`
}

// Candidate is a product proposed for upsell. A Candidate is never built
// without a resolvable variant id.
type Candidate struct {
	ID         int64         `json:"id"`
	Title      string        `json:"title"`
	PriceCents int64         `json:"price_cents"`
	Image      string        `json:"image,omitempty"`
	VariantID  int64         `json:"variant_id"`
	Handle     string        `json:"handle,omitempty"`
	URL        string        `json:"url,omitempty"`
	Variants   []VariantInfo `json:"variants,omitempty"`
	Score      float64       `json:"score"`
	Reason     string        `json:"reason"`
}

// PurchasePattern is a directed "bought together" pair mined from
// recommendation events, consumed by the frequently-bought source.
type PurchasePattern struct {
	Shop            string  `json:"shop"`
	SourceProductID int64   `json:"source_product_id"`
	TargetProductID int64   `json:"target_product_id"`
	Affinity        float64 `json:"affinity"`
}

// ManualRule is a merchant-declared complement rule stored server-side.
// Pattern is matched case-insensitively against "{title} {type}".
type ManualRule struct {
	ID          string    `json:"id"`
	Shop        string    `json:"shop"`
	Pattern     string    `json:"pattern"`
	Complements []string  `json:"complements"`
	CreatedAt   time.Time `json:"created_at"`
}

type ManualRuleCreateRequest struct {
	Shop        string   `json:"shop"`
	Pattern     string   `json:"pattern"`
	Complements []string `json:"complements"`
}

const (
	DiscountPercent = "percent"
	DiscountFixed   = "fixed"
)

type DiscountCode struct {
	Shop             string    `json:"shop"`
	Code             string    `json:"code"`
	Kind             string    `json:"kind"`
	ValuePercent     float64   `json:"value_percent,omitempty"`
	AmountCents      int64     `json:"amount_cents,omitempty"`
	MinSubtotalCents int64     `json:"min_subtotal_cents,omitempty"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

type DiscountValidateRequest struct {
	Shop           string `json:"shop"`
	Code           string `json:"code"`
	CartTotalCents int64  `json:"cart_total_cents"`
}

// DiscountValidateResponse is always a 200-level payload: an invalid code is
// a user-input failure surfaced inline, not an error.
type DiscountValidateResponse struct {
	Valid         bool   `json:"valid"`
	Message       string `json:"message,omitempty"`
	DiscountCents int64  `json:"discount_cents,omitempty"`
}

const (
	EventShown   = "shown"
	EventClicked = "clicked"
	EventAdded   = "added"
)

type RecommendationEvent struct {
	ID        string    `json:"id"`
	Shop      string    `json:"shop"`
	Type      string    `json:"type"`
	ProductID int64     `json:"product_id"`
	AnchorID  int64     `json:"anchor_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Score     float64   `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ShopSettings is the persisted, merchant-edited configuration bag. It is
// stored raw and normalized on every read so normalization rule changes
// apply retroactively.
type ShopSettings struct {
	Shop      string         `json:"shop"`
	Raw       map[string]any `json:"raw"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type RecommendationRequest struct {
	Shop  string       `json:"shop"`
	Cart  CartSnapshot `json:"cart"`
	Limit int          `json:"limit,omitempty"`
}

type RecommendationResponse struct {
	Recommendations []Candidate `json:"recommendations"`
	Strategy        string      `json:"strategy"`
	Cached          bool        `json:"cached"`
}

type GiftProgressRequest struct {
	Shop string       `json:"shop"`
	Cart CartSnapshot `json:"cart"`
}

type GiftTierProgress struct {
	ThresholdCents int64  `json:"threshold_cents"`
	Unlocked       bool   `json:"unlocked"`
	RemainingCents int64  `json:"remaining_cents"`
	Message        string `json:"message"`
	ProductID      int64  `json:"product_id,omitempty"`
	VariantID      int64  `json:"variant_id,omitempty"`
	Title          string `json:"title,omitempty"`
}

type GiftProgressResponse struct {
	EvaluatedTotalCents int64              `json:"evaluated_total_cents"`
	FreeShipping        *GiftTierProgress  `json:"free_shipping,omitempty"`
	Tiers               []GiftTierProgress `json:"tiers"`
}

type PatternsRebuildResponse struct {
	UpdatedPairs int    `json:"updated_pairs"`
	UpdatedAt    string `json:"updated_at"`
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

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// CoerceID converts the loosely-typed id values the storefront endpoints
// emit (JSON numbers, numeric strings, gid URLs) to an int64. The second
// return is false when no numeric id can be recovered.
func CoerceID(v any) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case int64:
		return t, t != 0
	case int:
		return int64(t), t != 0
	case float64:
		n := int64(t)
		return n, n != 0
	case json.Number:
		n, err := t.Int64()
		return n, err == nil && n != 0
	case string:
		s := strings.TrimSpace(t)
		// Admin API ids arrive as gid://shopify/Product/12345.
		if idx := strings.LastIndex(s, "/"); idx >= 0 {
			s = s[idx+1:]
		}
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil && n != 0
	default:
		return 0, false
	}
}
