package auth

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userIDContextKey = "auth_user_id"
	userIDHeader     = "X-User-ID"
	authHeader       = "Authorization"
)

// Middleware validates (user id, bearer token) against the session store and
// stores the authenticated user in the context. The client sends its user id
// in X-User-ID; the token alone does not identify the user.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, token := extractCredentials(c)
		if userID <= 0 || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		ok, err := s.ValidateSession(c.Request.Context(), userID, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session check failed"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}
		c.Set(userIDContextKey, userID)
		c.Next()
	}
}

// UserIDFromContext retrieves the authenticated user id from the gin context.
func UserIDFromContext(c *gin.Context) (int64, bool) {
	val, ok := c.Get(userIDContextKey)
	if !ok {
		return 0, false
	}
	userID, ok := val.(int64)
	return userID, ok
}

func extractCredentials(c *gin.Context) (int64, string) {
	userID, err := strconv.ParseInt(c.GetHeader(userIDHeader), 10, 64)
	if err != nil {
		return 0, ""
	}
	header := c.GetHeader(authHeader)
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return 0, ""
	}
	return userID, strings.TrimSpace(header[7:])
}
