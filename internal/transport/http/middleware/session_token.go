package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docchat/internal/pkg/jwtutil"
	"docchat/internal/transport/http/response"
)

const ContextSessionKey = "session_key"

// SessionToken resolves the bearer token to a session key. When required is false a
// request without a token passes through with no session key set; a bad token is always rejected.
func SessionToken(secret string, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			if required {
				response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing authorization header")
				c.Abort()
				return
			}
			c.Next()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextSessionKey, claims.SessionKey)
		c.Next()
	}
}

func SessionKey(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextSessionKey)
	if !exists {
		return "", false
	}
	key, ok := v.(string)
	return key, ok && key != ""
}
