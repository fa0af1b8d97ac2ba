package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ruslanbekov/magic-auth/internal/domain"
	"github.com/ruslanbekov/magic-auth/internal/email"
	"github.com/ruslanbekov/magic-auth/internal/metrics"
	"github.com/ruslanbekov/magic-auth/internal/repository"
	"github.com/ruslanbekov/magic-auth/internal/session"
)

// SessionManager is the session lifecycle surface the orchestrator needs.
type SessionManager interface {
	Create(ctx context.Context, userID string) (*domain.Session, error)
	Validate(ctx context.Context, token string) (*domain.Session, error)
	Revoke(ctx context.Context, token string) error
}

// AttemptLimiter throttles magic-link requests per email.
type AttemptLimiter interface {
	Check(ctx context.Context, email string) error
	Reset(ctx context.Context, email string) error
}

// OriginGuard throttles account probing per client origin.
type OriginGuard interface {
	Blocked(ctx context.Context, origin string) error
	Record(ctx context.Context, origin string) error
	Reset(ctx context.Context, origin string) error
}

// AuditLogger records security events. Implementations must not fail the
// caller's flow.
type AuditLogger interface {
	Log(ctx context.Context, event domain.SecurityEvent)
}

// MagicLinkResult reports the outcome of a request. The two flags describe
// three states: sent, needs-signup, or (via error) rate-limited/gateway
// failure. The response shape is identical either way so the endpoint cannot
// be used to enumerate accounts.
type MagicLinkResult struct {
	Sent        bool `json:"sent"`
	NeedsSignup bool `json:"needs_signup"`
}

type AuthUsecase struct {
	users    repository.UserRepository
	sessions SessionManager
	limiter  AttemptLimiter
	guard    OriginGuard
	audit    AuditLogger
	email    email.Sender
	tokenTTL time.Duration
	baseURL  string
}

func NewAuthUsecase(
	users repository.UserRepository,
	sessions SessionManager,
	limiter AttemptLimiter,
	guard OriginGuard,
	auditLog AuditLogger,
	emailSender email.Sender,
	tokenTTL time.Duration,
	baseURL string,
) *AuthUsecase {
	return &AuthUsecase{
		users:    users,
		sessions: sessions,
		limiter:  limiter,
		guard:    guard,
		audit:    auditLog,
		email:    emailSender,
		tokenTTL: tokenTTL,
		baseURL:  baseURL,
	}
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// RequestMagicLink issues a magic-link token for an existing user and emails
// it. The enumeration guard runs before the user lookup so this path cannot
// itself be probed for valid accounts. An unknown email reports needs-signup
// with the same response shape and comparable timing as the sent case.
func (u *AuthUsecase) RequestMagicLink(ctx context.Context, emailAddr, origin, userAgent string) (MagicLinkResult, error) {
	emailAddr = normalizeEmail(emailAddr)

	if err := u.guard.Blocked(ctx, origin); err != nil {
		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			metrics.RateLimitHitsTotal.WithLabelValues("origin").Inc()
			u.audit.Log(ctx, domain.SecurityEvent{
				Type:      domain.EventRateLimited,
				Email:     emailAddr,
				IPAddress: origin,
				UserAgent: userAgent,
				Details:   map[string]any{"limiter": "enumeration"},
			})
		}
		return MagicLinkResult{}, err
	}

	user, err := u.users.FindByEmail(ctx, emailAddr)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			return MagicLinkResult{}, fmt.Errorf("find user: %w", err)
		}

		if err := u.guard.Record(ctx, origin); err != nil {
			return MagicLinkResult{}, err
		}

		u.audit.Log(ctx, domain.SecurityEvent{
			Type:      domain.EventMagicLinkFailed,
			Email:     emailAddr,
			IPAddress: origin,
			UserAgent: userAgent,
			Details:   map[string]any{"reason": "user_not_found"},
		})

		metrics.MagicLinkRequestsTotal.WithLabelValues("needs_signup").Inc()
		return MagicLinkResult{Sent: false, NeedsSignup: true}, nil
	}

	if err := u.limiter.Check(ctx, user.Email); err != nil {
		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			metrics.RateLimitHitsTotal.WithLabelValues("email").Inc()
			u.audit.Log(ctx, domain.SecurityEvent{
				Type:      domain.EventRateLimited,
				Email:     user.Email,
				UserID:    user.ID,
				IPAddress: origin,
				UserAgent: userAgent,
				Details:   map[string]any{"limiter": "magic_link"},
			})
		}
		return MagicLinkResult{}, err
	}

	tokenValue, err := session.NewToken()
	if err != nil {
		return MagicLinkResult{}, err
	}

	now := time.Now().UTC()
	token := &domain.MagicLinkToken{
		Token:     tokenValue,
		UserID:    user.ID,
		Email:     user.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(u.tokenTTL),
		Used:      false,
	}
	if err := u.users.StoreMagicLinkToken(ctx, token); err != nil {
		return MagicLinkResult{}, fmt.Errorf("store magic link token: %w", err)
	}

	u.audit.Log(ctx, domain.SecurityEvent{
		Type:      domain.EventMagicLinkRequested,
		Email:     user.Email,
		UserID:    user.ID,
		IPAddress: origin,
		UserAgent: userAgent,
	})

	// A send failure propagates, but the stored token stays valid: a retried
	// request works and counts against the rate limit.
	if err := u.email.SendMagicLink(ctx, user.Email, tokenValue, u.baseURL); err != nil {
		metrics.MagicLinkRequestsTotal.WithLabelValues("gateway_error").Inc()
		return MagicLinkResult{}, fmt.Errorf("send magic link: %w", err)
	}

	u.audit.Log(ctx, domain.SecurityEvent{
		Type:      domain.EventMagicLinkSent,
		Email:     user.Email,
		UserID:    user.ID,
		IPAddress: origin,
	})

	metrics.MagicLinkRequestsTotal.WithLabelValues("sent").Inc()
	return MagicLinkResult{Sent: true, NeedsSignup: false}, nil
}

// VerifyMagicLink consumes a magic-link token and opens a session. Absent,
// used, and expired tokens all surface ErrTokenInvalid; only the audit trail
// records which case occurred.
func (u *AuthUsecase) VerifyMagicLink(ctx context.Context, tokenValue, origin, userAgent string) (*domain.AuthenticatedUser, error) {
	token, err := u.users.FindMagicLinkToken(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, domain.ErrTokenInvalid) {
			u.audit.Log(ctx, domain.SecurityEvent{
				Type:      domain.EventMagicLinkFailed,
				IPAddress: origin,
				UserAgent: userAgent,
				Details:   map[string]any{"reason": "token_not_found"},
			})
			metrics.MagicLinkVerificationsTotal.WithLabelValues("invalid").Inc()
			return nil, domain.ErrTokenInvalid
		}
		return nil, fmt.Errorf("find magic link token: %w", err)
	}

	if token.Used {
		u.audit.Log(ctx, domain.SecurityEvent{
			Type:      domain.EventMagicLinkAlreadyUsed,
			Email:     token.Email,
			UserID:    token.UserID,
			IPAddress: origin,
			UserAgent: userAgent,
		})
		metrics.MagicLinkVerificationsTotal.WithLabelValues("invalid").Inc()
		return nil, domain.ErrTokenInvalid
	}

	now := time.Now().UTC()
	if now.After(token.ExpiresAt) {
		u.audit.Log(ctx, domain.SecurityEvent{
			Type:      domain.EventMagicLinkExpired,
			Email:     token.Email,
			UserID:    token.UserID,
			IPAddress: origin,
			UserAgent: userAgent,
		})
		metrics.MagicLinkVerificationsTotal.WithLabelValues("invalid").Inc()
		return nil, domain.ErrTokenInvalid
	}

	user, err := u.users.FindByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			metrics.MagicLinkVerificationsTotal.WithLabelValues("invalid").Inc()
			return nil, domain.ErrTokenInvalid
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if !user.IsActive {
		u.audit.Log(ctx, domain.SecurityEvent{
			Type:      domain.EventMagicLinkFailed,
			Email:     user.Email,
			UserID:    user.ID,
			IPAddress: origin,
			UserAgent: userAgent,
			Details:   map[string]any{"reason": "user_inactive"},
		})
		metrics.MagicLinkVerificationsTotal.WithLabelValues("inactive").Inc()
		return nil, domain.ErrUserInactive
	}

	// Atomic claim: a concurrent verification racing on the same token loses
	// here and reports it as already used.
	if err := u.users.MarkTokenUsed(ctx, tokenValue, now); err != nil {
		if errors.Is(err, domain.ErrTokenInvalid) {
			u.audit.Log(ctx, domain.SecurityEvent{
				Type:      domain.EventMagicLinkAlreadyUsed,
				Email:     token.Email,
				UserID:    token.UserID,
				IPAddress: origin,
				UserAgent: userAgent,
			})
			metrics.MagicLinkVerificationsTotal.WithLabelValues("invalid").Inc()
			return nil, domain.ErrTokenInvalid
		}
		return nil, fmt.Errorf("mark token used: %w", err)
	}

	sess, err := u.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := u.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("update last login: %w", err)
	}
	user.LastLoginAt = &now

	// A successful login forgives prior noise from both counters.
	if err := u.limiter.Reset(ctx, user.Email); err != nil {
		return nil, err
	}
	if err := u.guard.Reset(ctx, origin); err != nil {
		return nil, err
	}

	u.audit.Log(ctx, domain.SecurityEvent{
		Type:      domain.EventMagicLinkVerified,
		Email:     user.Email,
		UserID:    user.ID,
		IPAddress: origin,
		UserAgent: userAgent,
	})
	u.audit.Log(ctx, domain.SecurityEvent{
		Type:      domain.EventSessionCreated,
		Email:     user.Email,
		UserID:    user.ID,
		IPAddress: origin,
		UserAgent: userAgent,
	})

	metrics.MagicLinkVerificationsTotal.WithLabelValues("verified").Inc()
	return &domain.AuthenticatedUser{User: user, Session: sess}, nil
}

// Logout revokes the session. Safe with an invalid token; identity for the
// audit event is captured best-effort before revocation.
func (u *AuthUsecase) Logout(ctx context.Context, sessionToken, origin string) error {
	var emailAddr, userID string
	if s, err := u.sessions.Validate(ctx, sessionToken); err == nil {
		userID = s.UserID
		if user, err := u.users.FindByID(ctx, s.UserID); err == nil {
			emailAddr = user.Email
		}
	}

	if err := u.sessions.Revoke(ctx, sessionToken); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	u.audit.Log(ctx, domain.SecurityEvent{
		Type:      domain.EventSessionRevoked,
		Email:     emailAddr,
		UserID:    userID,
		IPAddress: origin,
	})
	return nil
}

// ValidateSession checks a session token and extends it on success.
func (u *AuthUsecase) ValidateSession(ctx context.Context, token string) (*domain.Session, error) {
	return u.sessions.Validate(ctx, token)
}
