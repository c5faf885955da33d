package rbac

import (
	"net/http"

	"carecall-rtc/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAnyRole allows access if the caller has any of the provided roles.
// admin bypasses all checks. Chain after auth.RequireAccessToken.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireStaff is RequireAnyRole(operator) with admin bypass.
func RequireStaff() gin.HandlerFunc {
	return RequireAnyRole(RoleOperator)
}
