package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// requireAPIKey returns middleware that rejects requests whose key does not
// match. The key is read from X-API-Key or an Authorization bearer token.
// An empty configured key disables the check.
func requireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		presented := extractAPIKey(c.Request)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				&ErrorResponse{Error: "missing API key", Code: "UNAUTHORIZED"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				&ErrorResponse{Error: "invalid API key", Code: "UNAUTHORIZED"})
			return
		}
		c.Next()
	}
}

// extractAPIKey reads the key from X-API-Key, falling back to a bearer token.
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}
