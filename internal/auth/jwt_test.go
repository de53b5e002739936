package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
)

func TestGenerateAndValidateToken(t *testing.T) {
	secret := "test-secret"
	u := auth.User{Username: "ana", Role: "garcom", Department: "Restaurante"}

	token, err := auth.GenerateToken(secret, u, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := auth.ValidateToken(secret, token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}

	if claims.Username != u.Username {
		t.Errorf("username: got %v, want %v", claims.Username, u.Username)
	}
	if claims.Role != u.Role {
		t.Errorf("role: got %v, want %v", claims.Role, u.Role)
	}
	if claims.Actor().Elevated() {
		t.Error("garcom should not be elevated")
	}
}

func TestValidateTokenWithWrongSecret(t *testing.T) {
	token, err := auth.GenerateToken("secret-a", auth.User{Username: "ana", Role: "admin"}, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	_, err = auth.ValidateToken("secret-b", token)
	if err == nil {
		t.Fatal("expected error validating with wrong secret")
	}
}

func TestValidateTokenWithInvalidString(t *testing.T) {
	_, err := auth.ValidateToken("secret", "not-a-jwt")
	if err == nil {
		t.Fatal("expected error validating invalid token string")
	}
}

func TestNonPositiveTTLUsesDefault(t *testing.T) {
	token, err := auth.GenerateToken("s", auth.User{Username: "ana"}, -time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	// non-positive ttl falls back to the default lifetime
	if _, err := auth.ValidateToken("s", token); err != nil {
		t.Fatalf("validate token: %v", err)
	}
}

func TestValidateTokenRejectsForeignIssuer(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Username: "ana",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("s"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ValidateToken("s", token); err == nil {
		t.Fatal("expected foreign issuer to be rejected")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Username: "ana",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}).SignedString([]byte("s"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ValidateToken("s", token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}
