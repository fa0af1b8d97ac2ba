package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ruslanbekov/magic-auth/internal/domain"
	"github.com/ruslanbekov/magic-auth/internal/metrics"
)

const (
	sessionCookieName   = "session_token"
	errNotAuthenticated = "Authentication required"
	errSessionExpired   = "Session has expired"
	errInternalServer   = "Internal server error"
)

// sessionValidator is the slice of the auth usecase the middleware needs.
type sessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*domain.Session, error)
}

// SessionAuth validates the session cookie and sets "userID" in the gin
// context. Every successful validation extends the session (sliding window).
// A missing or expired session is a 401; a store failure is a 500, never a
// silent logout: the auth path fails closed.
func SessionAuth(sessions sessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(sessionCookieName)
		if err != nil || token == "" {
			metrics.SessionValidationsTotal.WithLabelValues("missing").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errNotAuthenticated})
			return
		}

		session, err := sessions.ValidateSession(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrSessionExpired) {
				metrics.SessionValidationsTotal.WithLabelValues("expired").Inc()
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errSessionExpired})
				return
			}
			metrics.SessionValidationsTotal.WithLabelValues("error").Inc()
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
			return
		}

		metrics.SessionValidationsTotal.WithLabelValues("ok").Inc()
		c.Set("userID", session.UserID)
		c.Next()
	}
}
