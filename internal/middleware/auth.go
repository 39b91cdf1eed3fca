// Package middleware provides Gin HTTP middleware for session authentication, rate limiting,
// request IDs, metrics and security headers.
//
// Middleware ordering is set in router.go:
//
//	Recovery → RequestID → Metrics → Logger → Security → CORS → Auth → RateLimit → Handler
//
// Auth runs before rate limiting on report routes so authenticated callers are limited per
// user instead of per address.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vehicle-valuation/valuation-backend/internal/auth"
	"github.com/vehicle-valuation/valuation-backend/internal/db/models"
)

// Context keys set by the auth middleware.
const (
	UserKey      = "user"
	UserIDKey    = "user_id"
	UserEmailKey = "user_email"
)

// UserLookup loads the account behind a session. It returns nil, nil for unknown users.
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// bearerToken extracts the token from an Authorization header, or "" with a reason.
func bearerToken(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "Missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "Authorization header must start with 'Bearer '"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "Authorization token is empty"
	}
	return token, ""
}

func setIdentity(c *gin.Context, user *models.User) {
	c.Set(UserKey, user)
	c.Set(UserIDKey, user.ID)
	c.Set(UserEmailKey, user.Email)
}

// AuthMiddleware requires a valid session for an existing user.
func AuthMiddleware(sessions *auth.Sessions, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, reason := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
			return
		}

		claims, err := sessions.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			slog.Error("auth: failed to load user", "user_id", claims.UserID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			return
		}

		setIdentity(c, user)
		c.Next()
	}
}

// OptionalAuthMiddleware sets the identity when a valid session is present and otherwise
// lets the request through anonymously.
func OptionalAuthMiddleware(sessions *auth.Sessions, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := sessions.Validate(token)
		if err != nil {
			c.Next()
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			slog.Warn("optional auth: failed to load user, continuing anonymously", "user_id", claims.UserID, "error", err)
		}
		if user != nil {
			setIdentity(c, user)
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated user's ID and email, if any.
func CurrentUser(c *gin.Context) (userID, email string, ok bool) {
	userID = c.GetString(UserIDKey)
	if userID == "" {
		return "", "", false
	}
	return userID, c.GetString(UserEmailKey), true
}
