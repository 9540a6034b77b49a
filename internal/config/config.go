package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ShopDomain            string
	MasterListTTLSeconds  int
	ServerRecsTimeoutMS   int
	AuthSecret            string
	AccessTokenTTLMinutes int
	AdminUsername         string
	AdminPassword         string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttl, err := strconv.Atoi(getEnv("MASTER_LIST_TTL_SECONDS", "300"))
	if err != nil || ttl < 1 {
		ttl = 300
	}
	recsTimeout, err := strconv.Atoi(getEnv("SERVER_RECS_TIMEOUT_MS", "1500"))
	if err != nil || recsTimeout < 1 {
		recsTimeout = 1500
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		ShopDomain:            getEnv("SHOP_DOMAIN", "demo-shop.myshopify.com"),
		MasterListTTLSeconds:  ttl,
		ServerRecsTimeoutMS:   recsTimeout,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		AdminUsername:         strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_USERNAME"))),
		AdminPassword:         os.Getenv("ADMIN_PASSWORD"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
