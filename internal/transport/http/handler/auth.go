package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ruslanbekov/magic-auth/internal/domain"
	"github.com/ruslanbekov/magic-auth/internal/email"
	"github.com/ruslanbekov/magic-auth/internal/usecase"
)

const SessionCookieName = "session_token"

// authUsecaser is the subset of AuthUsecase the handler needs.
// Defined here (point of use) so tests can inject a fake.
type authUsecaser interface {
	RequestMagicLink(ctx context.Context, email, origin, userAgent string) (usecase.MagicLinkResult, error)
	VerifyMagicLink(ctx context.Context, token, origin, userAgent string) (*domain.AuthenticatedUser, error)
	Logout(ctx context.Context, sessionToken, origin string) error
}

type AuthHandler struct {
	authUsecase  authUsecaser
	secureCookie bool
	logger       *slog.Logger
}

// NewAuthHandler creates the auth endpoints. secureCookie should be false
// only for local development over plain HTTP.
func NewAuthHandler(authUsecase authUsecaser, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authUsecase:  authUsecase,
		secureCookie: secureCookie,
		logger:       logger.With("component", "auth_handler"),
	}
}

type requestLinkRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// clientIP returns the validated client address, or "" if gin could not
// determine one.
func clientIP(c *gin.Context) string {
	ip := c.ClientIP()
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

// rateLimited writes the uniform 429 response. The same body and header are
// used for the per-email limit and the enumeration limit so the two are
// indistinguishable to the caller.
func rateLimited(c *gin.Context, rl *domain.RateLimitError) {
	secs := rl.RetryAfterSeconds()
	c.Header("Retry-After", fmt.Sprintf("%d", secs))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error": fmt.Sprintf("Too many requests. Please wait %d seconds.", secs),
	})
}

// POST /auth/request-link
// The 200 body has the same shape whether the email is known or not.
func (h *AuthHandler) RequestLink(c *gin.Context) {
	var req requestLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.authUsecase.RequestMagicLink(
		c.Request.Context(), req.Email, clientIP(c), c.Request.UserAgent())
	if err != nil {
		var rl *domain.RateLimitError
		switch {
		case errors.As(err, &rl):
			rateLimited(c, rl)
		case errors.Is(err, email.ErrGateway):
			h.logger.Error("magic link email send", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": errEmailGateway})
		default:
			h.logger.Error("request magic link", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// GET /auth/verify?token=<raw>
// Sets the session cookie and returns the user on success.
func (h *AuthHandler) Verify(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errTokenRequired})
		return
	}

	auth, err := h.authUsecase.VerifyMagicLink(
		c.Request.Context(), token, clientIP(c), c.Request.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTokenInvalid):
			c.JSON(http.StatusUnauthorized, gin.H{"error": errTokenInvalid})
		case errors.Is(err, domain.ErrUserInactive):
			c.JSON(http.StatusForbidden, gin.H{"error": errUserInactive})
		default:
			h.logger.Error("verify magic link", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	maxAge := int(auth.Session.ExpiresAt.Sub(auth.Session.CreatedAt) / time.Second)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, auth.Session.Token, maxAge, "/", "", h.secureCookie, true)

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":    auth.User.ID,
			"email": auth.User.Email,
		},
	})
}

// POST /auth/logout
// Always 200 with no cookie present. A store failure during revocation is a
// 500 and keeps the cookie: the session is still live server-side, and
// clearing the cookie would make the client believe otherwise.
func (h *AuthHandler) Logout(c *gin.Context) {
	if token, err := c.Cookie(SessionCookieName); err == nil && token != "" {
		if err := h.authUsecase.Logout(c.Request.Context(), token, clientIP(c)); err != nil {
			h.logger.Error("logout", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
			return
		}
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", h.secureCookie, true)

	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// GET /auth/me
// Runs behind the session middleware, which sets "userID".
func (h *AuthHandler) Me(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errNotAuthenticated})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID})
}
