package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/adedayo14/AOV-v1-sub001/internal/domain"
	"github.com/adedayo14/AOV-v1-sub001/internal/store/memory"
)

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func TestAuthManager_LoginAndParse(t *testing.T) {
	repo := memory.New()
	if err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username: "admin",
		Password: mustHashPassword(t, "s3cret"),
		Role:     "admin",
		Active:   true,
	}); err != nil {
		t.Fatal(err)
	}
	auth := NewAuthManager("unit-test-secret", time.Hour, repo)

	// Username matching is case-insensitive.
	resp, err := auth.Login(domain.LoginRequest{Username: "  ADMIN ", Password: "s3cret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "admin" || resp.AccessToken == "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestAuthManager_RejectsBadCredentials(t *testing.T) {
	repo := memory.New()
	if err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username: "admin",
		Password: mustHashPassword(t, "s3cret"),
		Role:     "admin",
		Active:   true,
	}); err != nil {
		t.Fatal(err)
	}
	auth := NewAuthManager("unit-test-secret", time.Hour, repo)

	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "wrong"}); err == nil {
		t.Fatal("wrong password must fail")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "nobody", Password: "s3cret"}); err == nil {
		t.Fatal("unknown user must fail")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: ""}); err == nil {
		t.Fatal("blank password must fail")
	}
}

func TestAuthManager_RejectsInactiveAccount(t *testing.T) {
	repo := memory.New()
	if err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username: "retired",
		Password: mustHashPassword(t, "s3cret"),
		Role:     "admin",
		Active:   false,
	}); err != nil {
		t.Fatal(err)
	}
	auth := NewAuthManager("unit-test-secret", time.Hour, repo)

	_, err := auth.Login(domain.LoginRequest{Username: "retired", Password: "s3cret"})
	if err == nil || !strings.Contains(err.Error(), "inactive") {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

// Legacy accounts stored with plain-text passwords get upgraded to bcrypt in
// the store on bootstrap and still log in.
func TestAuthManager_UpgradesPlainTextPasswords(t *testing.T) {
	repo := memory.New()
	if err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username: "legacy",
		Password: "plain-old-password",
		Role:     "admin",
		Active:   true,
	}); err != nil {
		t.Fatal(err)
	}
	auth := NewAuthManager("unit-test-secret", time.Hour, repo)

	if _, err := auth.Login(domain.LoginRequest{Username: "legacy", Password: "plain-old-password"}); err != nil {
		t.Fatalf("login after upgrade: %v", err)
	}

	users, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, user := range users {
		if user.Username == "legacy" && !isPasswordHash(user.Password) {
			t.Fatal("stored password was not upgraded to a bcrypt hash")
		}
	}
}

func TestAuthManager_RejectsForeignToken(t *testing.T) {
	repo := memory.New()
	if err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username: "admin",
		Password: mustHashPassword(t, "s3cret"),
		Role:     "admin",
		Active:   true,
	}); err != nil {
		t.Fatal(err)
	}
	issuer := NewAuthManager("secret-one", time.Hour, repo)
	verifier := NewAuthManager("secret-two", time.Hour, repo)

	resp, err := issuer.Login(domain.LoginRequest{Username: "admin", Password: "s3cret"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("token signed with a different secret must be rejected")
	}
	if _, err := issuer.ParseToken("not-a-jwt"); err == nil {
		t.Fatal("malformed token must be rejected")
	}
}

func TestAuthManager_ExpiredTokenRejected(t *testing.T) {
	repo := memory.New()
	if err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username: "admin",
		Password: mustHashPassword(t, "s3cret"),
		Role:     "admin",
		Active:   true,
	}); err != nil {
		t.Fatal(err)
	}
	auth := NewAuthManager("unit-test-secret", time.Hour, repo)

	token, err := auth.sign("admin", "admin", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatal("expired token must be rejected")
	}
}
