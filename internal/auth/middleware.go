package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// Browsers cannot set headers on a websocket upgrade, so the stream endpoint passes it here.
const accessTokenQuery = "access_token"

// RequireAccessToken verifies an access token and injects identity into request context.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearer(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		attach(c, claims)
		c.Next()
	}
}

// OptionalAccessToken attaches identity when a valid bearer is present and lets
// anonymous requests through. A present but invalid bearer is still rejected.
func OptionalAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearer(c)
		if !ok {
			c.Next()
			return
		}
		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		attach(c, claims)
		c.Next()
	}
}

func bearer(c *gin.Context) (string, bool) {
	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if strings.HasPrefix(raw, bearerPrefix) {
		tok := strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
		return tok, tok != ""
	}
	if raw == "" {
		if q := strings.TrimSpace(c.Query(accessTokenQuery)); q != "" {
			return q, true
		}
	}
	return "", false
}

func attach(c *gin.Context, claims Claims) {
	ctx := WithIdentity(c.Request.Context(), claims.Identity, claims.Name, claims.Role)
	c.Request = c.Request.WithContext(ctx)

	// Also store on gin context for handler convenience.
	c.Set("identity", claims.Identity)
	c.Set("role", claims.Role)
}
