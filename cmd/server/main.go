package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adedayo14/AOV-v1-sub001/internal/cache"
	"github.com/adedayo14/AOV-v1-sub001/internal/config"
	"github.com/adedayo14/AOV-v1-sub001/internal/domain"
	"github.com/adedayo14/AOV-v1-sub001/internal/httpapi"
	"github.com/adedayo14/AOV-v1-sub001/internal/recommendation"
	"github.com/adedayo14/AOV-v1-sub001/internal/service"
	"github.com/adedayo14/AOV-v1-sub001/internal/store"
	"github.com/adedayo14/AOV-v1-sub001/internal/store/memory"
	pgstore "github.com/adedayo14/AOV-v1-sub001/internal/store/postgres"
	"github.com/adedayo14/AOV-v1-sub001/internal/storefront"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	lists := cache.MasterListCache(cache.NoopMasterListCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisMasterListCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			lists = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	bootstrapAdmin(ctx, cfg, repo)

	source := storefront.New(cfg.ShopDomain, 5*time.Second)
	recommender := recommendation.NewEngine(source, time.Duration(cfg.ServerRecsTimeoutMS)*time.Millisecond)
	svc := service.New(repo, recommender, lists, time.Duration(cfg.MasterListTTLSeconds)*time.Second, cfg.ShopDomain)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("cart uplift backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// bootstrapAdmin upserts the ADMIN_USERNAME/ADMIN_PASSWORD account. The
// auth manager hashes plain-text store passwords on load, so the password
// never persists unhashed past startup.
func bootstrapAdmin(ctx context.Context, cfg config.Config, repo store.Repository) {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return
	}

	err := repo.CreateUser(ctx, domain.UserAccount{
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
		Role:     "admin",
		Active:   true,
	})
	switch {
	case err == nil:
		log.Printf("admin account %q created", cfg.AdminUsername)
	case errors.Is(err, store.ErrDuplicate):
		if err := repo.UpdateUserPassword(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			log.Printf("admin password update failed: %v", err)
		}
	default:
		log.Printf("admin bootstrap failed: %v", err)
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
