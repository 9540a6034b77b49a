package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/adedayo14/AOV-v1-sub001/internal/domain"
	"github.com/adedayo14/AOV-v1-sub001/internal/store"
	"github.com/adedayo14/AOV-v1-sub001/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS shop_settings (
			shop TEXT PRIMARY KEY,
			raw JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS manual_rules (
			id TEXT PRIMARY KEY,
			shop TEXT NOT NULL,
			pattern TEXT NOT NULL,
			complements JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS manual_rules_shop_idx ON manual_rules (shop)`,
		`CREATE TABLE IF NOT EXISTS purchase_patterns (
			shop TEXT NOT NULL,
			source_product_id BIGINT NOT NULL,
			target_product_id BIGINT NOT NULL,
			affinity DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (shop, source_product_id, target_product_id)
		)`,
		`CREATE TABLE IF NOT EXISTS discount_codes (
			shop TEXT NOT NULL,
			code TEXT NOT NULL,
			kind TEXT NOT NULL,
			value_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			amount_cents BIGINT NOT NULL DEFAULT 0,
			min_subtotal_cents BIGINT NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (shop, code)
		)`,
		`CREATE TABLE IF NOT EXISTS recommendation_events (
			id TEXT PRIMARY KEY,
			shop TEXT NOT NULL,
			type TEXT NOT NULL,
			product_id BIGINT NOT NULL,
			anchor_id BIGINT,
			reason TEXT,
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS recommendation_events_shop_created_idx ON recommendation_events (shop, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS app_users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'admin',
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetShopSettings(ctx context.Context, shop string) (*domain.ShopSettings, error) {
	var settings domain.ShopSettings
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT shop, raw, updated_at
		FROM shop_settings
		WHERE shop = $1
	`, shop).Scan(&settings.Shop, &raw, &settings.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &settings.Raw); err != nil {
			return nil, err
		}
	}
	return &settings, nil
}

func (s *Store) UpsertShopSettings(ctx context.Context, settings domain.ShopSettings) (*domain.ShopSettings, error) {
	if settings.Shop == "" {
		return nil, store.ErrInvalidInput
	}
	if settings.Raw == nil {
		settings.Raw = map[string]any{}
	}
	raw, err := json.Marshal(settings.Raw)
	if err != nil {
		return nil, err
	}
	settings.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shop_settings (shop, raw, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (shop)
		DO UPDATE SET raw = EXCLUDED.raw, updated_at = EXCLUDED.updated_at
	`, settings.Shop, raw, settings.UpdatedAt)
	if err != nil {
		return nil, err
	}

	saved := settings
	return &saved, nil
}

func (s *Store) ListManualRules(ctx context.Context, shop string) ([]domain.ManualRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop, pattern, complements, created_at
		FROM manual_rules
		WHERE shop = $1
		ORDER BY created_at ASC
	`, shop)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]domain.ManualRule, 0, 16)
	for rows.Next() {
		var rule domain.ManualRule
		var complements []byte
		if err := rows.Scan(&rule.ID, &rule.Shop, &rule.Pattern, &complements, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.CreatedAt = rule.CreatedAt.UTC()
		if len(complements) > 0 {
			if err := json.Unmarshal(complements, &rule.Complements); err != nil {
				return nil, err
			}
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *Store) CreateManualRule(ctx context.Context, rule domain.ManualRule) (*domain.ManualRule, error) {
	if rule.Shop == "" || strings.TrimSpace(rule.Pattern) == "" || len(rule.Complements) == 0 {
		return nil, store.ErrInvalidInput
	}
	if rule.ID == "" {
		rule.ID = xid.New("rule")
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	complements, err := json.Marshal(rule.Complements)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO manual_rules (id, shop, pattern, complements, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, rule.ID, rule.Shop, rule.Pattern, complements, rule.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := rule
	return &created, nil
}

func (s *Store) DeleteManualRule(ctx context.Context, shop string, ruleID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM manual_rules
		WHERE id = $1 AND shop = $2
	`, ruleID, shop)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListPurchasePatterns(ctx context.Context, shop string) ([]domain.PurchasePattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT shop, source_product_id, target_product_id, affinity
		FROM purchase_patterns
		WHERE shop = $1
		ORDER BY source_product_id ASC, affinity DESC, target_product_id ASC
	`, shop)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pairs := make([]domain.PurchasePattern, 0, 64)
	for rows.Next() {
		var pair domain.PurchasePattern
		if err := rows.Scan(&pair.Shop, &pair.SourceProductID, &pair.TargetProductID, &pair.Affinity); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

func (s *Store) ReplacePurchasePatterns(ctx context.Context, shop string, pairs []domain.PurchasePattern) (int, error) {
	if shop == "" {
		return 0, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM purchase_patterns WHERE shop = $1`, shop); err != nil {
		return 0, err
	}

	for _, pair := range pairs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_patterns (shop, source_product_id, target_product_id, affinity, updated_at)
			VALUES ($1,$2,$3,$4,now())
			ON CONFLICT (shop, source_product_id, target_product_id)
			DO UPDATE SET affinity = EXCLUDED.affinity, updated_at = now()
		`, shop, pair.SourceProductID, pair.TargetProductID, pair.Affinity)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(pairs), nil
}

func (s *Store) GetDiscountCode(ctx context.Context, shop string, code string) (*domain.DiscountCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	var discount domain.DiscountCode
	err := s.db.QueryRowContext(ctx, `
		SELECT shop, code, kind, value_percent, amount_cents, min_subtotal_cents, active, created_at
		FROM discount_codes
		WHERE shop = $1 AND code = $2
	`, shop, code).Scan(
		&discount.Shop,
		&discount.Code,
		&discount.Kind,
		&discount.ValuePercent,
		&discount.AmountCents,
		&discount.MinSubtotalCents,
		&discount.Active,
		&discount.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	discount.CreatedAt = discount.CreatedAt.UTC()
	return &discount, nil
}

func (s *Store) UpsertDiscountCode(ctx context.Context, code domain.DiscountCode) (*domain.DiscountCode, error) {
	if code.Shop == "" || strings.TrimSpace(code.Code) == "" {
		return nil, store.ErrInvalidInput
	}
	code.Code = strings.ToUpper(strings.TrimSpace(code.Code))
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discount_codes (shop, code, kind, value_percent, amount_cents, min_subtotal_cents, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (shop, code)
		DO UPDATE SET kind = EXCLUDED.kind, value_percent = EXCLUDED.value_percent,
			amount_cents = EXCLUDED.amount_cents, min_subtotal_cents = EXCLUDED.min_subtotal_cents,
			active = EXCLUDED.active
	`, code.Shop, code.Code, code.Kind, code.ValuePercent, code.AmountCents, code.MinSubtotalCents, code.Active, code.CreatedAt)
	if err != nil {
		return nil, err
	}

	saved := code
	return &saved, nil
}

func (s *Store) CreateRecommendationEvent(ctx context.Context, event domain.RecommendationEvent) error {
	if event.Shop == "" || event.Type == "" {
		return store.ErrInvalidInput
	}
	if event.ID == "" {
		event.ID = xid.New("event")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recommendation_events (id, shop, type, product_id, anchor_id, reason, score, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, event.ID, event.Shop, event.Type, event.ProductID, nullIfZero(event.AnchorID), nullIfEmpty(event.Reason), event.Score, event.CreatedAt)
	return err
}

func (s *Store) ListRecommendationEvents(ctx context.Context, shop string, since time.Time, limit int) ([]domain.RecommendationEvent, error) {
	if limit < 1 {
		limit = 5000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop, type, product_id, COALESCE(anchor_id, 0), COALESCE(reason, ''), score, created_at
		FROM recommendation_events
		WHERE shop = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, shop, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.RecommendationEvent, 0, limit)
	for rows.Next() {
		var event domain.RecommendationEvent
		if err := rows.Scan(&event.ID, &event.Shop, &event.Type, &event.ProductID, &event.AnchorID, &event.Reason, &event.Score, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "admin"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullIfZero(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
