package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/p4-jakarta/portal-api/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func withClaims(claims *models.JWTClaims) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims != nil {
			c.Set(ContextUserKey, claims)
		}
		c.Next()
	}
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func TestRBACAllowsMatchingRole(t *testing.T) {
	r := gin.New()
	r.GET("/admin", withClaims(&models.JWTClaims{UserID: "u1", Role: models.RoleAdmin}), RequireRoles(models.RoleAdmin), okHandler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRBACRejectsOtherRole(t *testing.T) {
	r := gin.New()
	r.GET("/admin", withClaims(&models.JWTClaims{UserID: "u1", Role: models.RoleStudent}), RequireRoles(models.RoleAdmin), okHandler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRBACRejectsMissingClaims(t *testing.T) {
	r := gin.New()
	r.GET("/admin", withClaims(nil), RequireRoles(models.RoleAdmin), okHandler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRBACSelfMatchesPathParam(t *testing.T) {
	r := gin.New()
	r.GET("/users/:id", withClaims(&models.JWTClaims{UserID: "u1", Role: models.RoleStudent}), RBAC("ADMIN", "SELF"), okHandler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/u1", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/users/u2", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
