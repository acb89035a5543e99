package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ui-studio/internal/auth"
	"github.com/suPer8Hu/ui-studio/internal/common"
)

// UserIDKey is the gin context key holding the authenticated owner id (uint64).
const UserIDKey = "user_id"

// AuthRequired accepts "Authorization: Bearer <jwt>" signed with secret.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(h, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			common.AbortFail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			return
		}
		uid, err := auth.ParseJWT(strings.TrimSpace(token), secret)
		if err != nil {
			common.AbortFail(c, http.StatusUnauthorized, 40102, "invalid token")
			return
		}
		c.Set(UserIDKey, uid)
		c.Next()
	}
}
