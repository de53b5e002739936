package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
)

type contextKey string

const claimsKey contextKey = "claims"

// Authenticate requires a valid "Authorization: Bearer <jwt>" header and puts
// the claims on the request context.
func Authenticate(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, msg := bearerToken(r)
			if msg != "" {
				deny(w, http.StatusUnauthorized, apperr.CodeAuthRequired, msg)
				return
			}
			claims, err := auth.ValidateToken(jwtSecret, token)
			if err != nil {
				deny(w, http.StatusUnauthorized, apperr.CodeAuthRequired, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// bearerToken returns the token, or a message saying what is wrong with the header.
func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", "invalid authorization format"
	}
	return strings.TrimSpace(token), ""
}

// RequireRole admits the listed roles. Elevated roles (admin, gerente,
// supervisor) pass every gate.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				deny(w, http.StatusUnauthorized, apperr.CodeAuthRequired, "not authenticated")
				return
			}
			if enum.IsElevated(claims.Role) || slices.Contains(roles, claims.Role) {
				next.ServeHTTP(w, r)
				return
			}
			log.Warn().
				Str("user", claims.Username).
				Str("role", claims.Role).
				Str("path", r.URL.Path).
				Msg("role gate refused request")
			deny(w, http.StatusForbidden, apperr.CodeForbidden, "insufficient permissions")
		})
	}
}

// RequireElevated admits admin, gerente and supervisor only.
func RequireElevated(next http.Handler) http.Handler {
	return RequireRole()(next)
}

func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// ActorFromContext is the authenticated actor, or the zero Actor.
func ActorFromContext(ctx context.Context) auth.Actor {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.Actor()
	}
	return auth.Actor{}
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func deny(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
