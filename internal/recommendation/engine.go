// Package recommendation implements the cart-drawer upsell engine: a
// priority-ordered candidate sourcing pipeline with a deterministic
// merge/dedupe/top-up policy. The engine never fails: every collaborator
// error degrades to zero candidates from that source.
package recommendation

import (
	"context"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adedayo14/AOV-v1-sub001/internal/domain"
)

// Confidence scores per candidate source. Scores are compared as raw floats;
// no ceiling is enforced.
const (
	scoreServerRecs   = 0.9
	scoreManualRule   = 0.95
	scoreManualPick   = 0.95
	scoreAutoPattern  = 0.87
	scoreKeywordMatch = 0.85
	scoreRelated      = 0.5
	scorePriceBand    = 0.4
	scoreSeasonal     = 0.3
	scorePopular      = 0.2
)

// minCandidateFloor is the minimum unique candidate count the engine tops up
// to from the popular-products fallback.
const minCandidateFloor = 4

const (
	defaultServerTimeout = 1500 * time.Millisecond
	listingScanLimit     = 250
	keywordSearchLimit   = 5
	maxComplementTerms   = 6
)

type Engine struct {
	source        ProductSource
	serverTimeout time.Duration
	now           func() time.Time
}

func NewEngine(source ProductSource, serverTimeout time.Duration) *Engine {
	if serverTimeout <= 0 {
		serverTimeout = defaultServerTimeout
	}
	return &Engine{
		source:        source,
		serverTimeout: serverTimeout,
		now:           time.Now,
	}
}

// Recommend builds the master candidate list for the given cart. The result
// is deduplicated, cart-exclusive, score-ordered and topped up to the
// minimum count; callers truncate per render via Rebuild. The returned slice
// may be empty (total collaborator failure) but Recommend never errors.
func (e *Engine) Recommend(ctx context.Context, cart domain.CartSnapshot, st domain.Settings, pairs []domain.PurchasePattern) []domain.Candidate {
	cartIDs := cart.ProductIDs()

	// Empty cart: no pattern matching is possible, popular products only.
	if len(cart.Items) == 0 || len(cartIDs) == 0 {
		raws := e.fetchSource(ctx, "popular", func(ctx context.Context) ([]RawProduct, error) {
			return e.source.PopularProducts(ctx, maxInt(st.MaxRecommendations, minCandidateFloor))
		})
		return dedupeAndScore(e.normalizeAll(ctx, raws, scorePopular, domain.ReasonPopularFallback, false))
	}

	anchor := cartIDs[0]

	// Server-side recommendations short-circuit everything else: when the
	// platform has an opinion it wins outright.
	serverRaws := e.fetchSource(ctx, "server_recs", func(ctx context.Context) ([]RawProduct, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, e.serverTimeout)
		defer cancel()
		return e.source.ServerRecommendations(fetchCtx, anchor, cartIDs, maxInt(st.MaxRecommendations, minCandidateFloor))
	})
	if cands := e.normalizeAll(ctx, serverRaws, scoreServerRecs, domain.ReasonServerRecs, true); len(cands) > 0 {
		return e.finalize(ctx, cands, cart, st)
	}

	var cands []domain.Candidate
	switch st.ComplementDetectionMode {
	case domain.DetectionManual:
		cands = e.manualCandidates(ctx, cart, st)
	case domain.DetectionHybrid:
		cands = append(e.manualCandidates(ctx, cart, st), e.automaticCandidates(ctx, cart, pairs)...)
	default:
		cands = e.automaticCandidates(ctx, cart, pairs)
	}

	// Legacy related-products fallback keyed on the first cart item.
	if len(cands) == 0 {
		raws := e.fetchSource(ctx, "related", func(ctx context.Context) ([]RawProduct, error) {
			return e.source.RelatedProducts(ctx, anchor, maxInt(st.MaxRecommendations, minCandidateFloor))
		})
		cands = e.normalizeAll(ctx, raws, scoreRelated, domain.ReasonServerRecs, false)
	}

	return e.finalize(ctx, cands, cart, st)
}

// Rebuild re-filters an already-fetched master list against the current cart
// and truncates to max. It is pure and synchronous: cart mutations re-run it
// without touching the network. Gift lines count toward the exclusion set.
func Rebuild(master []domain.Candidate, cart domain.CartSnapshot, max int) []domain.Candidate {
	if max <= 0 {
		max = minCandidateFloor
	}
	excluded := make(map[int64]struct{}, len(cart.Items))
	for _, id := range cart.ProductIDs() {
		excluded[id] = struct{}{}
	}

	out := make([]domain.Candidate, 0, max)
	for _, c := range master {
		if _, ok := excluded[c.ID]; ok {
			continue
		}
		out = append(out, c)
		if len(out) == max {
			break
		}
	}
	return out
}

// finalize applies the shared tail of every sourcing path: dedupe by id
// keeping the best score, drop anything already in the cart, then top up
// from popular products until the floor is met.
func (e *Engine) finalize(ctx context.Context, cands []domain.Candidate, cart domain.CartSnapshot, st domain.Settings) []domain.Candidate {
	excluded := make(map[int64]struct{}, len(cart.Items))
	for _, id := range cart.ProductIDs() {
		excluded[id] = struct{}{}
	}

	merged := dedupeAndScore(cands)
	kept := merged[:0]
	for _, c := range merged {
		if _, ok := excluded[c.ID]; ok {
			continue
		}
		kept = append(kept, c)
	}

	return e.ensureMinCount(ctx, kept, st, excluded)
}

// ensureMinCount tops the list up from the popular-products source until
// max(configured max, 4) unique candidates exist or the source is exhausted.
// Lists already at or above the floor are returned untouched.
func (e *Engine) ensureMinCount(ctx context.Context, cands []domain.Candidate, st domain.Settings, excluded map[int64]struct{}) []domain.Candidate {
	floor := maxInt(st.MaxRecommendations, minCandidateFloor)
	if len(cands) >= floor {
		return cands
	}

	present := make(map[int64]struct{}, len(cands))
	for _, c := range cands {
		present[c.ID] = struct{}{}
	}

	// Cart exclusions and dupes can consume a whole page, so widen the fetch
	// until the floor is met or the source stops yielding new products.
	prevFetched := -1
	for limit := floor * 2; len(cands) < floor; limit *= 2 {
		raws := e.fetchSource(ctx, "popular_topup", func(ctx context.Context) ([]RawProduct, error) {
			return e.source.PopularProducts(ctx, limit)
		})

		for _, raw := range raws {
			if len(cands) >= floor {
				break
			}
			c := normalizeRawProduct(raw, scorePopular, domain.ReasonPopularFallback)
			if c == nil {
				continue
			}
			if _, ok := excluded[c.ID]; ok {
				continue
			}
			if _, ok := present[c.ID]; ok {
				continue
			}
			present[c.ID] = struct{}{}
			cands = append(cands, *c)
		}

		if len(raws) < limit || len(raws) <= prevFetched {
			break
		}
		prevFetched = len(raws)
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
	return cands
}

// dedupeAndScore groups candidates by product id keeping the highest-score
// instance, then orders by descending score. Ties keep first-seen order:
// replacement happens in place and the sort is stable.
func dedupeAndScore(cands []domain.Candidate) []domain.Candidate {
	index := make(map[int64]int, len(cands))
	out := make([]domain.Candidate, 0, len(cands))
	for _, c := range cands {
		if at, ok := index[c.ID]; ok {
			if c.Score > out[at].Score {
				out[at] = c
			}
			continue
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// manualCandidates runs the merchant-declared sources: pinned products and
// keyword rules matched against the cart text.
func (e *Engine) manualCandidates(ctx context.Context, cart domain.CartSnapshot, st domain.Settings) []domain.Candidate {
	var cands []domain.Candidate

	for _, pick := range st.ManualRecommendationProducts {
		if id, ok := domain.CoerceID(pick); ok {
			cands = append(cands, e.lookupByID(ctx, id, scoreManualPick, domain.ReasonManualSelection)...)
			continue
		}
		raw, err := e.source.ProductByHandle(ctx, pick)
		if err != nil || raw == nil {
			if err != nil {
				log.Printf("[recommendation] manual pick %q lookup failed: %v", pick, err)
			}
			continue
		}
		if c := normalizeRawProduct(*raw, scoreManualPick, domain.ReasonManualSelection); c != nil {
			cands = append(cands, *c)
		}
	}

	for _, pattern := range sortedRuleKeys(st.ManualComplementRules) {
		if !cartMatches(cart, pattern) {
			continue
		}
		for _, keyword := range st.ManualComplementRules[pattern] {
			cands = append(cands, e.searchKeyword(ctx, keyword, scoreManualRule, domain.ReasonManualRule)...)
		}
	}

	return cands
}

// automaticCandidates fans out over the built-in detectors: text-pattern
// complements, frequently-bought pairs, price banding and seasonal terms.
// Results land in fixed slots so the concatenation order is deterministic
// regardless of goroutine scheduling.
func (e *Engine) automaticCandidates(ctx context.Context, cart domain.CartSnapshot, pairs []domain.PurchasePattern) []domain.Candidate {
	// One bounded listing fetch shared by the id-lookup detectors.
	var listing []RawProduct
	if len(pairs) > 0 || hasPricedLines(cart) {
		listing = e.fetchSource(ctx, "listing", func(ctx context.Context) ([]RawProduct, error) {
			return e.source.ListProducts(ctx, listingScanLimit)
		})
	}

	slots := make([][]domain.Candidate, 4)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	g.Go(func() error {
		slots[0] = e.patternComplements(gctx, cart)
		return nil
	})
	g.Go(func() error {
		slots[1] = e.frequentlyBought(cart, pairs, listing)
		return nil
	})
	g.Go(func() error {
		slots[2] = e.priceBand(cart, listing)
		return nil
	})
	g.Go(func() error {
		slots[3] = e.seasonal(gctx)
		return nil
	})
	_ = g.Wait()

	var cands []domain.Candidate
	for _, slot := range slots {
		cands = append(cands, slot...)
	}
	return cands
}

// patternComplements matches each non-gift cart line's text against the
// built-in pattern table and searches for the suggested keywords.
func (e *Engine) patternComplements(ctx context.Context, cart domain.CartSnapshot) []domain.Candidate {
	seen := map[string]struct{}{}
	var terms []string
	for _, line := range cart.Items {
		if line.IsGift() {
			continue
		}
		for _, kw := range keywordsForText(lineText(line)) {
			if _, ok := seen[kw]; ok {
				continue
			}
			seen[kw] = struct{}{}
			terms = append(terms, kw)
		}
	}
	if len(terms) > maxComplementTerms {
		terms = terms[:maxComplementTerms]
	}

	var cands []domain.Candidate
	for _, term := range terms {
		cands = append(cands, e.searchKeyword(ctx, term, scoreAutoPattern, domain.ReasonAIComplement)...)
	}
	return cands
}

// frequentlyBought maps purchase-pattern pairs whose source is in the cart
// onto the product listing. The pair affinity becomes the candidate score.
func (e *Engine) frequentlyBought(cart domain.CartSnapshot, pairs []domain.PurchasePattern, listing []RawProduct) []domain.Candidate {
	if len(pairs) == 0 || len(listing) == 0 {
		return nil
	}

	inCart := make(map[int64]struct{})
	for _, id := range cart.ProductIDs() {
		inCart[id] = struct{}{}
	}

	byID := indexListing(listing)
	var cands []domain.Candidate
	for _, pair := range pairs {
		if _, ok := inCart[pair.SourceProductID]; !ok {
			continue
		}
		if _, ok := inCart[pair.TargetProductID]; ok {
			continue
		}
		raw, ok := byID[pair.TargetProductID]
		if !ok {
			continue
		}
		if c := normalizeRawProduct(raw, pair.Affinity, domain.ReasonFrequentlyBought); c != nil {
			cands = append(cands, *c)
		}
	}
	return cands
}

// priceBand scans the listing for products priced within ±30% of the cart's
// average unit price.
func (e *Engine) priceBand(cart domain.CartSnapshot, listing []RawProduct) []domain.Candidate {
	avg := averageUnitPrice(cart)
	if avg <= 0 || len(listing) == 0 {
		return nil
	}
	low := int64(float64(avg) * 0.7)
	high := int64(float64(avg) * 1.3)

	var cands []domain.Candidate
	for _, raw := range listing {
		c := normalizeRawProduct(raw, scorePriceBand, domain.ReasonPriceIntelligence)
		if c == nil {
			continue
		}
		if c.PriceCents < low || c.PriceCents > high {
			continue
		}
		cands = append(cands, *c)
		if len(cands) >= keywordSearchLimit {
			break
		}
	}
	return cands
}

func (e *Engine) seasonal(ctx context.Context) []domain.Candidate {
	var cands []domain.Candidate
	for _, term := range seasonalKeywords(e.now().Month()) {
		cands = append(cands, e.searchKeyword(ctx, term, scoreSeasonal, domain.ReasonSeasonalTrending)...)
	}
	return cands
}

// searchKeyword resolves one complement keyword to products: primary
// full-text search, then a bounded linear scan over the product listing when
// the search comes back empty.
func (e *Engine) searchKeyword(ctx context.Context, keyword string, score float64, reason string) []domain.Candidate {
	raws := e.fetchSource(ctx, "search", func(ctx context.Context) ([]RawProduct, error) {
		return e.source.SearchProducts(ctx, keyword, keywordSearchLimit)
	})

	if len(raws) == 0 {
		listing := e.fetchSource(ctx, "search_fallback", func(ctx context.Context) ([]RawProduct, error) {
			return e.source.ListProducts(ctx, listingScanLimit)
		})
		needle := strings.ToLower(keyword)
		for _, raw := range listing {
			if strings.Contains(strings.ToLower(raw.Title+" "+raw.ProductType), needle) {
				raws = append(raws, raw)
				if len(raws) >= keywordSearchLimit {
					break
				}
			}
		}
		if len(raws) > 0 {
			// Fallback hits carry the generic keyword-match confidence.
			score = minFloat(score, scoreKeywordMatch)
		}
	}

	cands := make([]domain.Candidate, 0, len(raws))
	for _, raw := range raws {
		if c := normalizeRawProduct(raw, score, reason); c != nil {
			cands = append(cands, *c)
		}
	}
	return cands
}

func (e *Engine) lookupByID(ctx context.Context, id int64, score float64, reason string) []domain.Candidate {
	listing := e.fetchSource(ctx, "listing", func(ctx context.Context) ([]RawProduct, error) {
		return e.source.ListProducts(ctx, listingScanLimit)
	})
	raw, ok := indexListing(listing)[id]
	if !ok {
		return nil
	}
	c := normalizeRawProduct(raw, score, reason)
	if c == nil {
		return nil
	}
	return []domain.Candidate{*c}
}

// normalizeAll converts raw products, optionally re-resolving variant-less
// entries by handle (the server recommendation endpoint returns bare
// {id, handle} stubs that need a second lookup).
func (e *Engine) normalizeAll(ctx context.Context, raws []RawProduct, score float64, reason string, resolveHandles bool) []domain.Candidate {
	cands := make([]domain.Candidate, 0, len(raws))
	for _, raw := range raws {
		c := normalizeRawProduct(raw, score, reason)
		if c == nil && resolveHandles && raw.Handle != "" {
			full, err := e.source.ProductByHandle(ctx, raw.Handle)
			if err != nil {
				log.Printf("[recommendation] handle resolve %q failed: %v", raw.Handle, err)
			} else if full != nil {
				c = normalizeRawProduct(*full, score, reason)
			}
		}
		if c != nil {
			cands = append(cands, *c)
		}
	}
	return cands
}

// fetchSource is the single failure boundary for collaborator calls: any
// error is logged and swallowed, producing zero candidates from that source.
func (e *Engine) fetchSource(ctx context.Context, name string, fetch func(context.Context) ([]RawProduct, error)) []RawProduct {
	raws, err := fetch(ctx)
	if err != nil {
		log.Printf("[recommendation] %s source failed: %v", name, err)
		return nil
	}
	return raws
}

func indexListing(listing []RawProduct) map[int64]RawProduct {
	byID := make(map[int64]RawProduct, len(listing))
	for _, raw := range listing {
		if id, ok := domain.CoerceID(raw.ID); ok {
			if _, exists := byID[id]; !exists {
				byID[id] = raw
			}
		}
	}
	return byID
}

func lineText(line domain.CartLine) string {
	return strings.TrimSpace(line.ProductTitle + " " + line.ProductType)
}

// cartMatches reports whether any non-gift cart line's text matches the
// rule pattern: as a case-insensitive regexp when it compiles, else as a
// plain substring.
func cartMatches(cart domain.CartSnapshot, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	re, err := regexp.Compile("(?i)" + pattern)
	for _, line := range cart.Items {
		if line.IsGift() {
			continue
		}
		text := lineText(line)
		if err == nil {
			if re.MatchString(text) {
				return true
			}
			continue
		}
		if strings.Contains(strings.ToLower(text), strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func sortedRuleKeys(rules map[string][]string) []string {
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func hasPricedLines(cart domain.CartSnapshot) bool {
	for _, line := range cart.Items {
		if !line.IsGift() && line.Quantity > 0 && line.FinalPrice > 0 {
			return true
		}
	}
	return false
}

func averageUnitPrice(cart domain.CartSnapshot) int64 {
	var total, count int64
	for _, line := range cart.Items {
		if line.IsGift() || line.Quantity <= 0 || line.FinalPrice <= 0 {
			continue
		}
		total += line.FinalPrice
		count++
	}
	if count == 0 {
		return 0
	}
	return total / count
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
