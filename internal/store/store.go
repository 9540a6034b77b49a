package store

import (
	"context"
	"errors"
	"time"

	"github.com/adedayo14/AOV-v1-sub001/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDuplicate    = errors.New("already exists")
)

// Repository is the persistence boundary: merchant settings, complement
// rules, purchase patterns, discount codes, telemetry events and auth
// credentials. Implementations: memory (dev/tests) and postgres.
type Repository interface {
	GetShopSettings(ctx context.Context, shop string) (*domain.ShopSettings, error)
	UpsertShopSettings(ctx context.Context, settings domain.ShopSettings) (*domain.ShopSettings, error)

	ListManualRules(ctx context.Context, shop string) ([]domain.ManualRule, error)
	CreateManualRule(ctx context.Context, rule domain.ManualRule) (*domain.ManualRule, error)
	DeleteManualRule(ctx context.Context, shop string, ruleID string) error

	ListPurchasePatterns(ctx context.Context, shop string) ([]domain.PurchasePattern, error)
	ReplacePurchasePatterns(ctx context.Context, shop string, pairs []domain.PurchasePattern) (int, error)

	GetDiscountCode(ctx context.Context, shop string, code string) (*domain.DiscountCode, error)
	UpsertDiscountCode(ctx context.Context, code domain.DiscountCode) (*domain.DiscountCode, error)

	CreateRecommendationEvent(ctx context.Context, event domain.RecommendationEvent) error
	ListRecommendationEvents(ctx context.Context, shop string, since time.Time, limit int) ([]domain.RecommendationEvent, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
