package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"carecall-rtc/internal/config"

	"github.com/gin-gonic/gin"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := newTestManager(t)

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, "kakao_1", "Grandma", "ward")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Identity != "kakao_1" || claims.Name != "Grandma" || claims.Role != "ward" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, err := m.IssuePair(time.Now(), "kakao_1", "", "ward")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, time.Now()); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := newTestManager(t)
	now := time.Unix(1700000000, 0).UTC()
	p, _ := m.IssuePair(now, "kakao_1", "", "ward")
	if _, err := m.Verify(p.AccessToken, TokenTypeAccess, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestOptionalAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestManager(t)

	r := gin.New()
	r.GET("/x", OptionalAccessToken(m), func(c *gin.Context) {
		if IsAuthenticated(c.Request.Context()) {
			id, _ := Identity(c.Request.Context())
			c.String(http.StatusOK, id)
			return
		}
		c.String(http.StatusOK, "anon")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK || w.Body.String() != "anon" {
		t.Fatalf("expected anonymous pass-through, got %d %q", w.Code, w.Body.String())
	}

	p, _ := m.IssuePair(time.Now(), "admin_jane", "", "operator")
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+p.AccessToken)
	r.ServeHTTP(w, req)
	if w.Body.String() != "admin_jane" {
		t.Fatalf("expected identity, got %q", w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid bearer, got %d", w.Code)
	}
}

func TestRequireAccessToken_QueryParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestManager(t)
	p, _ := m.IssuePair(time.Now(), "admin_jane", "", "operator")

	r := gin.New()
	r.GET("/ws", RequireAccessToken(m), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?access_token="+p.AccessToken, nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
