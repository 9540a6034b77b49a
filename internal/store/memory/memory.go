// Package memory is the in-memory Repository used for dev mode and tests.
package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/adedayo14/AOV-v1-sub001/internal/domain"
	"github.com/adedayo14/AOV-v1-sub001/internal/store"
	"github.com/adedayo14/AOV-v1-sub001/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	settingsByShop  map[string]domain.ShopSettings
	rulesByID       map[string]domain.ManualRule
	patternsByShop  map[string][]domain.PurchasePattern
	discountsByKey  map[string]domain.DiscountCode
	events          []domain.RecommendationEvent
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		settingsByShop:  map[string]domain.ShopSettings{},
		rulesByID:       map[string]domain.ManualRule{},
		patternsByShop:  map[string][]domain.PurchasePattern{},
		discountsByKey:  map[string]domain.DiscountCode{},
		usersByUsername: map[string]domain.UserAccount{},
	}
}

// NewSeeded returns a store pre-loaded with a demo shop so the backend is
// usable without Postgres. The admin credential comes from
// SEED_ADMIN_PASSWORD; a hardcoded dev default is used (with a warning)
// when unset.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	s.settingsByShop["demo-shop.myshopify.com"] = domain.ShopSettings{
		Shop: "demo-shop.myshopify.com",
		Raw: map[string]any{
			"enableFreeShipping":         true,
			"freeShippingThresholdCents": float64(7500),
			"recommendationLayout":       "horizontal",
			"maxRecommendations":         float64(4),
			"complementDetectionMode":    "hybrid",
			"manualComplementRules": map[string]any{
				"running|athletic": []any{"performance socks", "water bottle"},
			},
		},
		UpdatedAt: now,
	}

	s.patternsByShop["demo-shop.myshopify.com"] = []domain.PurchasePattern{
		{Shop: "demo-shop.myshopify.com", SourceProductID: 1001, TargetProductID: 1002, Affinity: 0.82},
		{Shop: "demo-shop.myshopify.com", SourceProductID: 1001, TargetProductID: 1003, Affinity: 0.67},
		{Shop: "demo-shop.myshopify.com", SourceProductID: 1002, TargetProductID: 1004, Affinity: 0.58},
	}

	s.discountsByKey[discountKey("demo-shop.myshopify.com", "WELCOME10")] = domain.DiscountCode{
		Shop:         "demo-shop.myshopify.com",
		Code:         "WELCOME10",
		Kind:         domain.DiscountPercent,
		ValuePercent: 10,
		Active:       true,
		CreatedAt:    now,
	}

	adminPwd := os.Getenv("SEED_ADMIN_PASSWORD")
	if adminPwd == "" {
		adminPwd = "admin123"
		log.Println("[memory-store] WARNING: using default dev admin credential. Set SEED_ADMIN_PASSWORD to override.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPwd), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}
	s.usersByUsername["admin"] = domain.UserAccount{
		Username:  "admin",
		Password:  string(hash),
		Role:      "admin",
		Active:    true,
		CreatedAt: now,
	}

	return s
}

func (s *Store) GetShopSettings(_ context.Context, shop string) (*domain.ShopSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settingsByShop[shop]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := settings
	return &copied, nil
}

func (s *Store) UpsertShopSettings(_ context.Context, settings domain.ShopSettings) (*domain.ShopSettings, error) {
	if settings.Shop == "" {
		return nil, store.ErrInvalidInput
	}
	settings.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settingsByShop[settings.Shop] = settings

	copied := settings
	return &copied, nil
}

func (s *Store) ListManualRules(_ context.Context, shop string) ([]domain.ManualRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]domain.ManualRule, 0, 8)
	for _, rule := range s.rulesByID {
		if rule.Shop == shop {
			rules = append(rules, rule)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].CreatedAt.Before(rules[j].CreatedAt) })
	return rules, nil
}

func (s *Store) CreateManualRule(_ context.Context, rule domain.ManualRule) (*domain.ManualRule, error) {
	if rule.Shop == "" || strings.TrimSpace(rule.Pattern) == "" || len(rule.Complements) == 0 {
		return nil, store.ErrInvalidInput
	}
	if rule.ID == "" {
		rule.ID = xid.New("rule")
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rulesByID[rule.ID] = rule

	copied := rule
	return &copied, nil
}

func (s *Store) DeleteManualRule(_ context.Context, shop string, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rulesByID[ruleID]
	if !ok || rule.Shop != shop {
		return store.ErrNotFound
	}
	delete(s.rulesByID, ruleID)
	return nil
}

func (s *Store) ListPurchasePatterns(_ context.Context, shop string) ([]domain.PurchasePattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairs := s.patternsByShop[shop]
	out := make([]domain.PurchasePattern, len(pairs))
	copy(out, pairs)
	return out, nil
}

func (s *Store) ReplacePurchasePatterns(_ context.Context, shop string, pairs []domain.PurchasePattern) (int, error) {
	if shop == "" {
		return 0, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]domain.PurchasePattern, len(pairs))
	copy(stored, pairs)
	s.patternsByShop[shop] = stored
	return len(stored), nil
}

func (s *Store) GetDiscountCode(_ context.Context, shop string, code string) (*domain.DiscountCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	discount, ok := s.discountsByKey[discountKey(shop, code)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := discount
	return &copied, nil
}

func (s *Store) UpsertDiscountCode(_ context.Context, code domain.DiscountCode) (*domain.DiscountCode, error) {
	if code.Shop == "" || strings.TrimSpace(code.Code) == "" {
		return nil, store.ErrInvalidInput
	}
	code.Code = strings.ToUpper(strings.TrimSpace(code.Code))
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.discountsByKey[discountKey(code.Shop, code.Code)] = code

	copied := code
	return &copied, nil
}

func (s *Store) CreateRecommendationEvent(_ context.Context, event domain.RecommendationEvent) error {
	if event.Shop == "" || event.Type == "" {
		return store.ErrInvalidInput
	}
	if event.ID == "" {
		event.ID = xid.New("event")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *Store) ListRecommendationEvents(_ context.Context, shop string, since time.Time, limit int) ([]domain.RecommendationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RecommendationEvent, 0, limit)
	for i := len(s.events) - 1; i >= 0; i-- {
		event := s.events[i]
		if event.Shop != shop || event.CreatedAt.Before(since) {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrDuplicate
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func discountKey(shop string, code string) string {
	return shop + "|" + strings.ToUpper(strings.TrimSpace(code))
}
