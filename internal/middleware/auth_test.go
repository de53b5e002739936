package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/middleware"
)

const testSecret = "test-secret"

func tokenFor(t *testing.T, username, role string) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, auth.User{Username: username, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

func TestAuthMiddleware_ValidToken(t *testing.T) {
	token := tokenFor(t, "joao", enum.RoleGarcom)

	handler := middleware.Authenticate(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := middleware.ActorFromContext(r.Context())
		if actor.Username != "joao" || actor.Role != enum.RoleGarcom {
			t.Errorf("actor: got %+v", actor)
		}
		w.WriteHeader(http.StatusOK)
	}))

	if rr := serve(handler, token); rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	handler := middleware.Authenticate(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	if rr := serve(handler, ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	handler := middleware.Authenticate(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	if rr := serve(handler, "invalid-token"); rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_WrongSecret(t *testing.T) {
	token, _ := auth.GenerateToken("other-secret", auth.User{Username: "x", Role: enum.RoleAdmin}, time.Hour)
	handler := middleware.Authenticate(testSecret)(ok)

	if rr := serve(handler, token); rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name string
		role string
		want int
	}{
		{"listed role", enum.RoleRecepcao, http.StatusOK},
		{"unlisted role", enum.RoleGarcom, http.StatusForbidden},
		{"elevated passes", enum.RoleSupervisor, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := middleware.Authenticate(testSecret)(middleware.RequireRole(enum.RoleRecepcao)(ok))
			if rr := serve(handler, tokenFor(t, "u", tt.role)); rr.Code != tt.want {
				t.Errorf("status: got %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestRequireElevated(t *testing.T) {
	handler := middleware.Authenticate(testSecret)(middleware.RequireElevated(ok))

	if rr := serve(handler, tokenFor(t, "caixa1", enum.RoleCaixa)); rr.Code != http.StatusForbidden {
		t.Errorf("caixa: got %d, want %d", rr.Code, http.StatusForbidden)
	}
	if rr := serve(handler, tokenFor(t, "chefe", enum.RoleGerente)); rr.Code != http.StatusOK {
		t.Errorf("gerente: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRequireRole_NoClaims(t *testing.T) {
	handler := middleware.RequireRole(enum.RoleCaixa)(ok)
	if rr := serve(handler, ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestActorFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if a := middleware.ActorFromContext(req.Context()); a.Username != "" {
		t.Errorf("expected zero actor, got %+v", a)
	}
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	handler := middleware.Authenticate(testSecret)(ok)
	for _, header := range []string{"Token abc", "Bearer", "Bearer   "} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", header)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%q: got %d, want %d", header, rr.Code, http.StatusUnauthorized)
		}
		var body map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%q: decode body: %v", header, err)
		}
		if body["code"] != "AUTH_REQUIRED" || body["error"] != "invalid authorization format" {
			t.Errorf("%q: body %v", header, body)
		}
	}
}

func TestRequireRole_ForbiddenCode(t *testing.T) {
	handler := middleware.Authenticate(testSecret)(middleware.RequireRole(enum.RoleCaixa)(ok))
	rr := serve(handler, tokenFor(t, "maria", enum.RoleCozinha))

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["code"] != "FORBIDDEN" {
		t.Errorf("code: got %q, want FORBIDDEN", body["code"])
	}
}
