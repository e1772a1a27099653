package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const DefaultUserHeader = "X-User-Id"

// IdentityMiddleware adopts the caller id forwarded by a trusted upstream
// gateway so that every audit record of the request carries it. An empty
// header name disables it.
func IdentityMiddleware(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if header == "" {
			c.Next()
			return
		}
		if userID := strings.TrimSpace(c.GetHeader(header)); userID != "" {
			SetUser(c, userID)
		}
		c.Next()
	}
}
