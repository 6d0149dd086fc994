package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"chatsync/internal/auth"

	"github.com/gin-gonic/gin"
)

const userIDContextKey = "userID"

// TokenVerifier maps a bearer token to the user it authenticates.
type TokenVerifier func(token string) (userID string, err error)

// JWTVerifier accepts HS256 tokens signed with cfg's secret.
func JWTVerifier(cfg auth.TokenConfig) TokenVerifier {
	return func(token string) (string, error) {
		claims, err := auth.VerifyToken(token, cfg)
		if err != nil {
			return "", err
		}
		return claims.UserID, nil
	}
}

// StaticToken accepts exactly one shared token.
func StaticToken(expected string) TokenVerifier {
	return func(token string) (string, error) {
		if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			return "", errors.New("token mismatch")
		}
		return "local", nil
	}
}

func UserIDFromContext(c *gin.Context) (string, bool) {
	userID, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	value, ok := userID.(string)
	return value, ok && value != ""
}

func BearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func RequireAuth(verify TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		userID, err := verify(token)
		if err != nil || userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		c.Set(userIDContextKey, userID)
		c.Next()
	}
}
