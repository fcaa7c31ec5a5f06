package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type contextKey string

const usernameKey contextKey = "authUsername"

// GetUsername retrieves the authenticated username from context.
func GetUsername(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(usernameKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// WithUsername returns a copy of ctx carrying username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

// SessionToken returns the session token presented by the request: the
// session cookie, or a bearer token for non-browser clients.
func SessionToken(c *gin.Context, cookieName string) (string, error) {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie, nil
	}
	header := c.Request.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("not authenticated")
	}
	return extractBearerToken(header)
}

// SessionMiddleware resolves the session token and injects the username.
// Requests without a live session are rejected with 401.
func SessionMiddleware(sessions SessionRegistry, cookieName string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := SessionToken(c, cookieName)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		username, ok, err := sessions.Resolve(c.Request.Context(), token)
		if err != nil {
			logger.Error("session lookup failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "session lookup failed"})
			return
		}
		if !ok {
			unauthorized(c, "session expired or invalid")
			return
		}

		c.Request = c.Request.WithContext(WithUsername(c.Request.Context(), username))
		c.Set(string(usernameKey), username)

		c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": message})
}
