package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserNameKey is the gin context key holding the authenticated user name.
const UserNameKey = "userName"

// TokenVerifier resolves a bearer token to a user name.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// AuthMiddleware validates the Authorization header and stores the caller's user name.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		userName, err := verifier.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserNameKey, userName)
		c.Next()
	}
}

// UserName returns the authenticated user name set by AuthMiddleware.
func UserName(c *gin.Context) string {
	return c.GetString(UserNameKey)
}
