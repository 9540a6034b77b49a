// Package settings turns the loosely-typed merchant configuration bag into
// the canonical domain.Settings consumed by the widget and the engine.
// Normalization is a pure function: malformed fields fall back to defaults,
// nothing errors.
package settings

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/adedayo14/AOV-v1-sub001/internal/domain"
)

// Built-in template fallbacks. Merchants may use {amount} or {{amount}} as
// the placeholder; both are substituted at render time.
const (
	DefaultFreeShippingText         = "Spend {amount} more for free shipping!"
	DefaultFreeShippingUnlockedText = "You've unlocked free shipping!"
	DefaultGiftProgressText         = "Spend {amount} more to unlock a free gift!"
	DefaultGiftUnlockedText         = "You've unlocked a free gift!"
)

const defaultMaxRecommendations = 4

// layoutSynonyms maps every accepted layout spelling to its canonical form.
// Canonical values map to themselves so normalization stays idempotent.
var layoutSynonyms = map[string]string{
	"horizontal": domain.LayoutRow,
	"row":        domain.LayoutRow,
	"carousel":   domain.LayoutRow,
	"vertical":   domain.LayoutColumn,
	"column":     domain.LayoutColumn,
	"list":       domain.LayoutColumn,
	"grid":       domain.LayoutGrid,
}

// Normalize produces a canonical Settings from a raw option bag. Absent or
// malformed values take their defaults; unrecognized layout values pass
// through unchanged for forward compatibility.
func Normalize(raw map[string]any) domain.Settings {
	s := domain.Settings{
		// Opt-out flags: on unless the merchant explicitly turned them off.
		EnableApp:             boolOr(raw, "enableApp", true),
		EnableRecommendations: boolOr(raw, "enableRecommendations", true),
		AutoOpenCart:          boolOr(raw, "autoOpenCart", true),

		// Opt-in flags: off unless explicitly truthy.
		EnableStickyCart:      boolOr(raw, "enableStickyCart", false),
		EnableFreeShipping:    boolOr(raw, "enableFreeShipping", false),
		EnableGiftGating:      boolOr(raw, "enableGiftGating", false),
		EnableAddons:          boolOr(raw, "enableAddons", false),
		EnableNotes:           boolOr(raw, "enableNotes", false),
		EnableDiscountCode:    boolOr(raw, "enableDiscountCode", false),
		EnableExpressCheckout: boolOr(raw, "enableExpressCheckout", false),
		EnableTitleCaps:       boolOr(raw, "enableTitleCaps", false),
	}

	// Title caps for recommendation cards cascades from the general toggle
	// unless the merchant overrides it on its own.
	s.EnableRecommendationTitleCaps = s.EnableTitleCaps || boolOr(raw, "enableRecommendationTitleCaps", false)

	s.RecommendationLayout = normalizeLayout(stringOr(raw, "recommendationLayout", domain.LayoutColumn))

	s.MaxRecommendations = intOr(raw, "maxRecommendations", defaultMaxRecommendations)
	if s.MaxRecommendations <= 0 {
		s.MaxRecommendations = defaultMaxRecommendations
	}

	s.ComplementDetectionMode = normalizeDetectionMode(stringOr(raw, "complementDetectionMode", domain.DetectionAutomatic))
	s.ManualComplementRules = complementRules(raw["manualComplementRules"])
	s.ManualRecommendationProducts = stringList(raw["manualRecommendationProducts"])

	s.FreeShippingThresholdCents = centsOr(raw, "freeShippingThresholdCents", 0)
	s.FreeShippingText = templateOr(raw, "freeShippingText", DefaultFreeShippingText)
	s.FreeShippingUnlockedText = templateOr(raw, "freeShippingUnlockedText", DefaultFreeShippingUnlockedText)
	s.GiftThresholds = giftThresholds(raw["giftThresholds"])
	s.GiftProgressText = templateOr(raw, "giftProgressText", DefaultGiftProgressText)
	s.GiftUnlockedText = templateOr(raw, "giftUnlockedText", DefaultGiftUnlockedText)

	return s
}

// ToMap round-trips canonical settings back into a raw bag, used by callers
// that merge canonical output with stored overrides.
func ToMap(s domain.Settings) map[string]any {
	payload, err := json.Marshal(s)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(payload, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func normalizeLayout(v string) string {
	key := strings.ToLower(strings.TrimSpace(v))
	if canonical, ok := layoutSynonyms[key]; ok {
		return canonical
	}
	if key == "" {
		return domain.LayoutColumn
	}
	// Unknown value: pass through so newer widget builds can consume layouts
	// this version does not know about.
	return v
}

func normalizeDetectionMode(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case domain.DetectionManual:
		return domain.DetectionManual
	case domain.DetectionHybrid:
		return domain.DetectionHybrid
	default:
		return domain.DetectionAutomatic
	}
}

// truthy implements the widget's loose boolean semantics.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on", "enabled":
			return true
		default:
			return false
		}
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		n, err := t.Float64()
		return err == nil && n != 0
	default:
		return false
	}
}

func boolOr(raw map[string]any, key string, def bool) bool {
	v, ok := raw[key]
	if !ok || v == nil {
		return def
	}
	return truthy(v)
}

func stringOr(raw map[string]any, key string, def string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// templateOr is stringOr with the whitespace-only-counts-as-empty rule the
// template fields need.
func templateOr(raw map[string]any, key string, def string) string {
	s := stringOr(raw, key, "")
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func intOr(raw map[string]any, key string, def int) int {
	v, ok := raw[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return def
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

func centsOr(raw map[string]any, key string, def int64) int64 {
	n := intOr(raw, key, int(def))
	if n < 0 {
		return def
	}
	return int64(n)
}

// complementRules accepts the manual rule map either as a decoded JSON
// object or as a JSON string (the admin panel historically saved both).
func complementRules(v any) map[string][]string {
	rules := map[string][]string{}
	switch t := v.(type) {
	case map[string][]string:
		for pattern, complements := range t {
			if cleaned := cleanStrings(complements); len(cleaned) > 0 {
				rules[strings.TrimSpace(pattern)] = cleaned
			}
		}
	case map[string]any:
		for pattern, entry := range t {
			if cleaned := stringList(entry); len(cleaned) > 0 {
				rules[strings.TrimSpace(pattern)] = cleaned
			}
		}
	case string:
		decoded := map[string]any{}
		if err := json.Unmarshal([]byte(t), &decoded); err != nil {
			return rules
		}
		return complementRules(decoded)
	}
	return rules
}

// stringList accepts a comma-separated string, a []string or a []any and
// returns the trimmed, non-empty entries.
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return cleanStrings(strings.Split(t, ","))
	case []string:
		return cleanStrings(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, entry := range t {
			if s, ok := entry.(string); ok {
				parts = append(parts, s)
			}
		}
		return cleanStrings(parts)
	default:
		return nil
	}
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func giftThresholds(v any) []domain.GiftThreshold {
	entries, ok := v.([]any)
	if !ok {
		return nil
	}
	tiers := make([]domain.GiftThreshold, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		tier := domain.GiftThreshold{
			ThresholdCents: centsOr(m, "thresholdCents", centsOr(m, "threshold_cents", 0)),
		}
		if id, ok := domain.CoerceID(m["productId"]); ok {
			tier.ProductID = id
		} else if id, ok := domain.CoerceID(m["product_id"]); ok {
			tier.ProductID = id
		}
		if id, ok := domain.CoerceID(m["variantId"]); ok {
			tier.VariantID = id
		} else if id, ok := domain.CoerceID(m["variant_id"]); ok {
			tier.VariantID = id
		}
		tier.Title = stringOr(m, "title", "")
		if tier.ThresholdCents > 0 {
			tiers = append(tiers, tier)
		}
	}
	if len(tiers) == 0 {
		return nil
	}
	return tiers
}
