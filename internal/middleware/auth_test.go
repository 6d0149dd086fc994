package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatsync/internal/auth"

	"github.com/gin-gonic/gin"
)

func TestRequireAuth_SetsUserID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := auth.CreateToken("user-1", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	r := gin.New()
	r.GET("/", RequireAuth(JWTVerifier(cfg)), func(c *gin.Context) {
		uid, ok := UserIDFromContext(c)
		if !ok || uid != "user-1" {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestRequireAuth_StaticToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RequireAuth(StaticToken("s3cret")), func(c *gin.Context) { c.Status(http.StatusOK) })

	for token, want := range map[string]int{"s3cret": http.StatusOK, "nope": http.StatusUnauthorized} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("token %q: expected %d, got %d", token, want, w.Code)
		}
	}

	if _, err := StaticToken("")("anything"); err == nil {
		t.Fatalf("an empty expected token must reject everything")
	}
}
