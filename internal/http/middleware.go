package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APITokenMiddleware rejects requests lacking the static bearer token. A
// constant-time comparison avoids leaking the token length through timing.
func APITokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		provided := strings.TrimPrefix(header, "Bearer ")
		if provided == header {
			provided = c.GetHeader("X-API-Token")
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or missing API token",
			})
			return
		}
		c.Next()
	}
}
