package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"carecall-rtc/internal/auth"

	"github.com/gin-gonic/gin"
)

func withRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if role != "" {
			ctx := auth.WithIdentity(c.Request.Context(), "admin_u", "", role)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

func serve(t *testing.T, role string, mw gin.HandlerFunc) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", withRole(role), mw, func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serve(t, RoleAdmin, RequireAnyRole(RoleGuardian)); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_WardDeniedOnStaffRoutes(t *testing.T) {
	if code := serve(t, RoleWard, RequireStaff()); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_OperatorAllowed(t *testing.T) {
	if code := serve(t, RoleOperator, RequireStaff()); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_MissingRole(t *testing.T) {
	if code := serve(t, "", RequireStaff()); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}
