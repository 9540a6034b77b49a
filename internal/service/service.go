package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adedayo14/AOV-v1-sub001/internal/cache"
	"github.com/adedayo14/AOV-v1-sub001/internal/domain"
	"github.com/adedayo14/AOV-v1-sub001/internal/recommendation"
	"github.com/adedayo14/AOV-v1-sub001/internal/settings"
	"github.com/adedayo14/AOV-v1-sub001/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	defaultMasterTTL   = 5 * time.Minute
	patternsLookback   = 90 * 24 * time.Hour
	patternsEventLimit = 5000
	patternsMinSupport = 0.2
	patternsMaxPairs   = 300
)

type Service struct {
	repo        store.Repository
	recommender *recommendation.Engine
	lists       cache.MasterListCache
	masterTTL   time.Duration
	defaultShop string
}

func New(repo store.Repository, recommender *recommendation.Engine, lists cache.MasterListCache, masterTTL time.Duration, defaultShop string) *Service {
	if lists == nil {
		lists = cache.NoopMasterListCache{}
	}
	if masterTTL <= 0 {
		masterTTL = defaultMasterTTL
	}
	if defaultShop == "" {
		defaultShop = "demo-shop.myshopify.com"
	}

	return &Service{
		repo:        repo,
		recommender: recommender,
		lists:       lists,
		masterTTL:   masterTTL,
		defaultShop: defaultShop,
	}
}

// GetRecommendations serves the widget's upsell list. The expensive sourcing
// pass produces a master list cached per shop, strategy and cart contents.
// Cart mutations within the TTL window hit that cache and only re-run the
// pure exclusion filter.
func (s *Service) GetRecommendations(ctx context.Context, req domain.RecommendationRequest) (domain.RecommendationResponse, error) {
	shop := s.shopOrDefault(req.Shop)

	st, err := s.normalizedSettings(ctx, shop)
	if err != nil {
		return domain.RecommendationResponse{}, err
	}
	if !st.EnableApp || !st.EnableRecommendations {
		return domain.RecommendationResponse{
			Recommendations: []domain.Candidate{},
			Strategy:        "disabled",
		}, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = st.MaxRecommendations
	}

	pairs, err := s.repo.ListPurchasePatterns(ctx, shop)
	if err != nil {
		log.Printf("[service] WARN: purchase pattern load failed shop=%s: %v", shop, err)
		pairs = nil
	}

	key := masterListKey(shop, st.ComplementDetectionMode, req.Cart)
	master, hit, err := s.lists.Get(ctx, key)
	if err != nil {
		log.Printf("[service] WARN: master list cache get failed: %v", err)
		hit = false
	}
	if !hit {
		master = s.recommender.Recommend(ctx, req.Cart, st, pairs)
		if err := s.lists.Set(ctx, key, master, s.masterTTL); err != nil {
			log.Printf("[service] WARN: master list cache set failed: %v", err)
		}
	}

	return domain.RecommendationResponse{
		Recommendations: recommendation.Rebuild(master, req.Cart, limit),
		Strategy:        st.ComplementDetectionMode,
		Cached:          hit,
	}, nil
}

// GetSettings returns the canonical widget configuration. Settings are
// stored raw and normalized on every read so rule changes apply to
// previously saved bags without migration.
func (s *Service) GetSettings(ctx context.Context, shop string) (domain.Settings, error) {
	return s.normalizedSettings(ctx, s.shopOrDefault(shop))
}

func (s *Service) UpdateSettings(ctx context.Context, shop string, raw map[string]any) (domain.Settings, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Settings{}, fmt.Errorf("admin role required")
	}

	shop = s.shopOrDefault(shop)
	if raw == nil {
		raw = map[string]any{}
	}

	if _, err := s.repo.UpsertShopSettings(ctx, domain.ShopSettings{Shop: shop, Raw: raw}); err != nil {
		return domain.Settings{}, err
	}

	// Cached master lists were built under the old configuration.
	if err := s.lists.Invalidate(ctx, masterListPrefix(shop)); err != nil {
		log.Printf("[service] WARN: cache invalidation failed shop=%s: %v", shop, err)
	}

	return s.normalizedSettings(ctx, shop)
}

func (s *Service) ListRules(ctx context.Context, shop string) ([]domain.ManualRule, error) {
	return s.repo.ListManualRules(ctx, s.shopOrDefault(shop))
}

func (s *Service) CreateRule(ctx context.Context, req domain.ManualRuleCreateRequest) (domain.ManualRule, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.ManualRule{}, fmt.Errorf("admin role required")
	}

	shop := s.shopOrDefault(req.Shop)
	rule := domain.ManualRule{
		Shop:        shop,
		Pattern:     strings.TrimSpace(req.Pattern),
		Complements: cleanComplements(req.Complements),
	}
	if rule.Pattern == "" || len(rule.Complements) == 0 {
		return domain.ManualRule{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateManualRule(ctx, rule)
	if err != nil {
		return domain.ManualRule{}, err
	}

	if err := s.lists.Invalidate(ctx, masterListPrefix(shop)); err != nil {
		log.Printf("[service] WARN: cache invalidation failed shop=%s: %v", shop, err)
	}
	return *created, nil
}

func (s *Service) DeleteRule(ctx context.Context, shop string, ruleID string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	shop = s.shopOrDefault(shop)
	if err := s.repo.DeleteManualRule(ctx, shop, ruleID); err != nil {
		return err
	}
	if err := s.lists.Invalidate(ctx, masterListPrefix(shop)); err != nil {
		log.Printf("[service] WARN: cache invalidation failed shop=%s: %v", shop, err)
	}
	return nil
}

// ValidateDiscount checks a shopper-entered code. A bad code is a normal
// response with Valid=false, never an error: the widget renders the message
// inline.
func (s *Service) ValidateDiscount(ctx context.Context, req domain.DiscountValidateRequest) (domain.DiscountValidateResponse, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return domain.DiscountValidateResponse{Valid: false, Message: "Enter a discount code."}, nil
	}

	discount, err := s.repo.GetDiscountCode(ctx, s.shopOrDefault(req.Shop), code)
	if err != nil {
		if err == store.ErrNotFound {
			return domain.DiscountValidateResponse{Valid: false, Message: "That discount code isn't valid."}, nil
		}
		return domain.DiscountValidateResponse{}, err
	}
	if !discount.Active {
		return domain.DiscountValidateResponse{Valid: false, Message: "That discount code is no longer active."}, nil
	}
	if req.CartTotalCents < discount.MinSubtotalCents {
		return domain.DiscountValidateResponse{
			Valid:   false,
			Message: fmt.Sprintf("Spend %s to use this code.", formatAmount(discount.MinSubtotalCents)),
		}, nil
	}

	var discountCents int64
	switch discount.Kind {
	case domain.DiscountPercent:
		discountCents = int64(math.Round(float64(req.CartTotalCents) * discount.ValuePercent / 100))
	case domain.DiscountFixed:
		discountCents = discount.AmountCents
	}
	if discountCents > req.CartTotalCents {
		discountCents = req.CartTotalCents
	}

	return domain.DiscountValidateResponse{Valid: true, DiscountCents: discountCents}, nil
}

// GiftProgress evaluates the threshold promotions against the cart. Gift
// lines already in the cart do not count toward their own thresholds.
func (s *Service) GiftProgress(ctx context.Context, req domain.GiftProgressRequest) (domain.GiftProgressResponse, error) {
	st, err := s.normalizedSettings(ctx, s.shopOrDefault(req.Shop))
	if err != nil {
		return domain.GiftProgressResponse{}, err
	}

	total := req.Cart.VisibleTotalCents()
	resp := domain.GiftProgressResponse{
		EvaluatedTotalCents: total,
		Tiers:               []domain.GiftTierProgress{},
	}

	if st.EnableFreeShipping && st.FreeShippingThresholdCents > 0 {
		tier := tierProgress(total, st.FreeShippingThresholdCents, st.FreeShippingText, st.FreeShippingUnlockedText)
		resp.FreeShipping = &tier
	}

	if st.EnableGiftGating {
		thresholds := append([]domain.GiftThreshold(nil), st.GiftThresholds...)
		sort.SliceStable(thresholds, func(i, j int) bool {
			return thresholds[i].ThresholdCents < thresholds[j].ThresholdCents
		})
		for _, gift := range thresholds {
			if gift.ThresholdCents <= 0 {
				continue
			}
			tier := tierProgress(total, gift.ThresholdCents, st.GiftProgressText, st.GiftUnlockedText)
			tier.ProductID = gift.ProductID
			tier.VariantID = gift.VariantID
			tier.Title = gift.Title
			resp.Tiers = append(resp.Tiers, tier)
		}
	}

	return resp, nil
}

func (s *Service) TrackEvent(ctx context.Context, event domain.RecommendationEvent) error {
	switch event.Type {
	case domain.EventShown, domain.EventClicked, domain.EventAdded:
	default:
		return store.ErrInvalidInput
	}
	if event.ProductID == 0 {
		return store.ErrInvalidInput
	}
	event.Shop = s.shopOrDefault(event.Shop)
	return s.repo.CreateRecommendationEvent(ctx, event)
}

// RebuildPatterns mines recent add-to-cart telemetry into directed
// frequently-bought pairs. Affinity is the conditional rate: of the times an
// anchor produced an add event, how often it was this target.
func (s *Service) RebuildPatterns(ctx context.Context, shop string) (domain.PatternsRebuildResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.PatternsRebuildResponse{}, fmt.Errorf("admin role required")
	}

	shop = s.shopOrDefault(shop)
	since := time.Now().UTC().Add(-patternsLookback)
	events, err := s.repo.ListRecommendationEvents(ctx, shop, since, patternsEventLimit)
	if err != nil {
		return domain.PatternsRebuildResponse{}, err
	}

	anchorCount := map[int64]int{}
	pairCount := map[[2]int64]int{}
	for _, event := range events {
		if event.Type != domain.EventAdded || event.AnchorID == 0 || event.ProductID == 0 {
			continue
		}
		if event.AnchorID == event.ProductID {
			continue
		}
		anchorCount[event.AnchorID]++
		pairCount[[2]int64{event.AnchorID, event.ProductID}]++
	}

	pairs := make([]domain.PurchasePattern, 0, len(pairCount))
	for key, cnt := range pairCount {
		total := anchorCount[key[0]]
		if total < 1 {
			continue
		}
		affinity := float64(cnt) / float64(total)
		if affinity < patternsMinSupport {
			continue
		}
		pairs = append(pairs, domain.PurchasePattern{
			Shop:            shop,
			SourceProductID: key[0],
			TargetProductID: key[1],
			Affinity:        affinity,
		})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].SourceProductID == pairs[j].SourceProductID {
			if pairs[i].Affinity == pairs[j].Affinity {
				return pairs[i].TargetProductID < pairs[j].TargetProductID
			}
			return pairs[i].Affinity > pairs[j].Affinity
		}
		return pairs[i].SourceProductID < pairs[j].SourceProductID
	})
	if len(pairs) > patternsMaxPairs {
		pairs = pairs[:patternsMaxPairs]
	}

	updated, err := s.repo.ReplacePurchasePatterns(ctx, shop, pairs)
	if err != nil {
		return domain.PatternsRebuildResponse{}, err
	}

	return domain.PatternsRebuildResponse{
		UpdatedPairs: updated,
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (s *Service) ListPatterns(ctx context.Context, shop string) ([]domain.PurchasePattern, error) {
	return s.repo.ListPurchasePatterns(ctx, s.shopOrDefault(shop))
}

// normalizedSettings loads the stored bag and folds repo-managed rules into
// the canonical settings. A shop with no stored settings gets pure defaults.
func (s *Service) normalizedSettings(ctx context.Context, shop string) (domain.Settings, error) {
	stored, err := s.repo.GetShopSettings(ctx, shop)
	if err != nil && err != store.ErrNotFound {
		return domain.Settings{}, err
	}

	var raw map[string]any
	if stored != nil {
		raw = stored.Raw
	}
	st := settings.Normalize(raw)

	rules, err := s.repo.ListManualRules(ctx, shop)
	if err != nil {
		log.Printf("[service] WARN: manual rule load failed shop=%s: %v", shop, err)
		return st, nil
	}
	if len(rules) > 0 && st.ManualComplementRules == nil {
		st.ManualComplementRules = make(map[string][]string, len(rules))
	}
	for _, rule := range rules {
		st.ManualComplementRules[rule.Pattern] = append(st.ManualComplementRules[rule.Pattern], rule.Complements...)
	}

	return st, nil
}

func (s *Service) shopOrDefault(shop string) string {
	shop = strings.TrimSpace(shop)
	if shop == "" {
		return s.defaultShop
	}
	return shop
}

func tierProgress(totalCents int64, thresholdCents int64, progressTemplate string, unlockedText string) domain.GiftTierProgress {
	tier := domain.GiftTierProgress{ThresholdCents: thresholdCents}
	if totalCents >= thresholdCents {
		tier.Unlocked = true
		tier.Message = unlockedText
		return tier
	}
	tier.RemainingCents = thresholdCents - totalCents
	tier.Message = renderAmount(progressTemplate, tier.RemainingCents)
	return tier
}

// renderAmount substitutes both accepted placeholder spellings.
func renderAmount(template string, cents int64) string {
	amount := formatAmount(cents)
	out := strings.ReplaceAll(template, "{{amount}}", amount)
	return strings.ReplaceAll(out, "{amount}", amount)
}

func formatAmount(cents int64) string {
	return "$" + strconv.FormatFloat(float64(cents)/100, 'f', 2, 64)
}

func cleanComplements(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// masterListKey hashes the cart product ids so key length stays bounded for
// large carts. Ids are sorted: the same cart set maps to the same list.
func masterListKey(shop string, strategy string, cart domain.CartSnapshot) string {
	ids := cart.ProductIDs()
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, 0, len(sorted))
	for _, id := range sorted {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	sum := sha1.Sum([]byte(strategy + "|" + strings.Join(parts, ",")))
	return masterListPrefix(shop) + hex.EncodeToString(sum[:])
}

func masterListPrefix(shop string) string {
	return "reco:" + shop + ":"
}
