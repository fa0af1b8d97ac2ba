package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ruslanbekov/magic-auth/internal/domain"
	"github.com/ruslanbekov/magic-auth/internal/usecase"
)

// ---- fakes ----

type fakeUserRepo struct {
	findByEmail         func(ctx context.Context, email string) (*domain.User, error)
	findByID            func(ctx context.Context, id string) (*domain.User, error)
	create              func(ctx context.Context, email string) (*domain.User, error)
	updateLastLogin     func(ctx context.Context, id string, at time.Time) error
	setActive           func(ctx context.Context, id string, active bool) error
	delete_             func(ctx context.Context, id string) error
	storeToken          func(ctx context.Context, token *domain.MagicLinkToken) error
	findToken           func(ctx context.Context, token string) (*domain.MagicLinkToken, error)
	markTokenUsed       func(ctx context.Context, token string, at time.Time) error
	deleteExpiredTokens func(ctx context.Context, now time.Time) (int64, error)
}

func (r *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findByEmail(ctx, email)
}

func (r *fakeUserRepo) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findByID(ctx, id)
}

func (r *fakeUserRepo) Create(ctx context.Context, email string) (*domain.User, error) {
	return r.create(ctx, email)
}

func (r *fakeUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.updateLastLogin(ctx, id, at)
}

func (r *fakeUserRepo) SetActive(ctx context.Context, id string, active bool) error {
	return r.setActive(ctx, id, active)
}

func (r *fakeUserRepo) Delete(ctx context.Context, id string) error {
	return r.delete_(ctx, id)
}

func (r *fakeUserRepo) StoreMagicLinkToken(ctx context.Context, token *domain.MagicLinkToken) error {
	return r.storeToken(ctx, token)
}

func (r *fakeUserRepo) FindMagicLinkToken(ctx context.Context, token string) (*domain.MagicLinkToken, error) {
	return r.findToken(ctx, token)
}

func (r *fakeUserRepo) MarkTokenUsed(ctx context.Context, token string, at time.Time) error {
	return r.markTokenUsed(ctx, token, at)
}

func (r *fakeUserRepo) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteExpiredTokens(ctx, now)
}

type fakeSessions struct {
	create   func(ctx context.Context, userID string) (*domain.Session, error)
	validate func(ctx context.Context, token string) (*domain.Session, error)
	revoke   func(ctx context.Context, token string) error
}

func (s *fakeSessions) Create(ctx context.Context, userID string) (*domain.Session, error) {
	return s.create(ctx, userID)
}

func (s *fakeSessions) Validate(ctx context.Context, token string) (*domain.Session, error) {
	return s.validate(ctx, token)
}

func (s *fakeSessions) Revoke(ctx context.Context, token string) error {
	return s.revoke(ctx, token)
}

type fakeLimiter struct {
	check func(ctx context.Context, email string) error
	reset func(ctx context.Context, email string) error
}

func (l *fakeLimiter) Check(ctx context.Context, email string) error { return l.check(ctx, email) }
func (l *fakeLimiter) Reset(ctx context.Context, email string) error { return l.reset(ctx, email) }

type fakeGuard struct {
	blocked func(ctx context.Context, origin string) error
	record  func(ctx context.Context, origin string) error
	reset   func(ctx context.Context, origin string) error
}

func (g *fakeGuard) Blocked(ctx context.Context, origin string) error { return g.blocked(ctx, origin) }
func (g *fakeGuard) Record(ctx context.Context, origin string) error { return g.record(ctx, origin) }
func (g *fakeGuard) Reset(ctx context.Context, origin string) error { return g.reset(ctx, origin) }

type fakeAudit struct {
	events []domain.SecurityEvent
}

func (a *fakeAudit) Log(_ context.Context, event domain.SecurityEvent) {
	a.events = append(a.events, event)
}

func (a *fakeAudit) types() []domain.EventType {
	out := make([]domain.EventType, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeSender struct {
	send func(ctx context.Context, to, token, baseURL string) error
}

func (s *fakeSender) SendMagicLink(ctx context.Context, to, token, baseURL string) error {
	return s.send(ctx, to, token, baseURL)
}

// ---- helpers ----

const (
	testOrigin    = "203.0.113.9"
	testUserAgent = "test-agent/1.0"
	testBaseURL   = "http://localhost:8080"
	testTokenTTL  = 10 * time.Minute
)

var testUser = &domain.User{ID: "user-1", Email: "test@example.com", IsActive: true}

type deps struct {
	repo     *fakeUserRepo
	sessions *fakeSessions
	limiter  *fakeLimiter
	guard    *fakeGuard
	audit    *fakeAudit
	sender   *fakeSender
}

// newDeps returns permissive fakes; tests override what they assert on.
func newDeps() *deps {
	return &deps{
		repo: &fakeUserRepo{
			findByEmail: func(_ context.Context, _ string) (*domain.User, error) {
				return testUser, nil
			},
			findByID: func(_ context.Context, _ string) (*domain.User, error) {
				return testUser, nil
			},
			updateLastLogin: func(_ context.Context, _ string, _ time.Time) error { return nil },
			storeToken:      func(_ context.Context, _ *domain.MagicLinkToken) error { return nil },
			markTokenUsed:   func(_ context.Context, _ string, _ time.Time) error { return nil },
		},
		sessions: &fakeSessions{
			create: func(_ context.Context, userID string) (*domain.Session, error) {
				now := time.Now().UTC()
				return &domain.Session{Token: "sess-1", UserID: userID, CreatedAt: now,
					ExpiresAt: now.Add(time.Hour), LastActivityAt: now}, nil
			},
			validate: func(_ context.Context, _ string) (*domain.Session, error) {
				return nil, domain.ErrSessionExpired
			},
			revoke: func(_ context.Context, _ string) error { return nil },
		},
		limiter: &fakeLimiter{
			check: func(_ context.Context, _ string) error { return nil },
			reset: func(_ context.Context, _ string) error { return nil },
		},
		guard: &fakeGuard{
			blocked: func(_ context.Context, _ string) error { return nil },
			record:  func(_ context.Context, _ string) error { return nil },
			reset:   func(_ context.Context, _ string) error { return nil },
		},
		audit: &fakeAudit{},
		sender: &fakeSender{
			send: func(_ context.Context, _, _, _ string) error { return nil },
		},
	}
}

func newUsecase(d *deps) *usecase.AuthUsecase {
	return usecase.NewAuthUsecase(d.repo, d.sessions, d.limiter, d.guard, d.audit, d.sender,
		testTokenTTL, testBaseURL)
}

// ---- RequestMagicLink ----

func TestRequestMagicLink_UnknownEmail_ReportsNeedsSignup(t *testing.T) {
	d := newDeps()
	emailSent := false
	recorded := false

	d.repo.findByEmail = func(_ context.Context, _ string) (*domain.User, error) {
		return nil, domain.ErrUserNotFound
	}
	d.guard.record = func(_ context.Context, origin string) error {
		recorded = true
		if origin != testOrigin {
			t.Errorf("recorded origin %q, want %q", origin, testOrigin)
		}
		return nil
	}
	d.sender.send = func(_ context.Context, _, _, _ string) error {
		emailSent = true
		return nil
	}

	result, err := newUsecase(d).RequestMagicLink(context.Background(), "ghost@example.com", testOrigin, testUserAgent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Sent || !result.NeedsSignup {
		t.Errorf("result = %+v, want sent=false needs_signup=true", result)
	}
	if emailSent {
		t.Error("no email must be sent for an unknown address")
	}
	if !recorded {
		t.Error("enumeration counter was not incremented")
	}

	types := d.audit.types()
	if len(types) != 1 || types[0] != domain.EventMagicLinkFailed {
		t.Errorf("audit events = %v, want [magic_link_failed]", types)
	}
	if reason := d.audit.events[0].Details["reason"]; reason != "user_not_found" {
		t.Errorf("reason = %v, want user_not_found", reason)
	}
}

func TestRequestMagicLink_EnumerationBlocked_FailsBeforeUserLookup(t *testing.T) {
	d := newDeps()
	d.guard.blocked = func(_ context.Context, _ string) error {
		return &domain.RateLimitError{RetryAfter: 42 * time.Second}
	}
	d.repo.findByEmail = func(_ context.Context, _ string) (*domain.User, error) {
		t.Fatal("user store must not be touched while the origin is blocked")
		return nil, nil
	}

	_, err := newUsecase(d).RequestMagicLink(context.Background(), "any@example.com", testOrigin, testUserAgent)

	var rl *domain.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("want RateLimitError, got %v", err)
	}
	if rl.RetryAfter != 42*time.Second {
		t.Errorf("RetryAfter = %v, want 42s", rl.RetryAfter)
	}
}

func TestRequestMagicLink_NormalizesEmailBeforeLookup(t *testing.T) {
	d := newDeps()
	var lookedUp string
	d.repo.findByEmail = func(_ context.Context, email string) (*domain.User, error) {
		lookedUp = email
		return testUser, nil
	}

	if _, err := newUsecase(d).RequestMagicLink(context.Background(), "  User@Example.COM ", testOrigin, testUserAgent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lookedUp != "user@example.com" {
		t.Errorf("lookup used %q, want normalized email", lookedUp)
	}
}

func TestRequestMagicLink_RateLimited(t *testing.T) {
	d := newDeps()
	d.limiter.check = func(_ context.Context, _ string) error {
		return &domain.RateLimitError{RetryAfter: 90 * time.Second}
	}
	d.repo.storeToken = func(_ context.Context, _ *domain.MagicLinkToken) error {
		t.Fatal("no token may be issued past the rate limit")
		return nil
	}

	_, err := newUsecase(d).RequestMagicLink(context.Background(), testUser.Email, testOrigin, testUserAgent)

	var rl *domain.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("want RateLimitError, got %v", err)
	}
	if rl.RetryAfterSeconds() <= 0 {
		t.Errorf("RetryAfterSeconds = %d, want > 0", rl.RetryAfterSeconds())
	}
}

func TestRequestMagicLink_StoresFailClosedToken(t *testing.T) {
	d := newDeps()
	var stored *domain.MagicLinkToken
	var emailedToken string

	d.repo.storeToken = func(_ context.Context, token *domain.MagicLinkToken) error {
		stored = token
		return nil
	}
	d.sender.send = func(_ context.Context, to, token, baseURL string) error {
		emailedToken = token
		if to != testUser.Email {
			t.Errorf("send to %q, want %q", to, testUser.Email)
		}
		if baseURL != testBaseURL {
			t.Errorf("baseURL = %q, want %q", baseURL, testBaseURL)
		}
		return nil
	}

	before := time.Now().UTC()
	result, err := newUsecase(d).RequestMagicLink(context.Background(), testUser.Email, testOrigin, testUserAgent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Sent || result.NeedsSignup {
		t.Errorf("result = %+v, want sent=true", result)
	}
	if stored == nil {
		t.Fatal("token was not stored")
	}
	if stored.Used {
		t.Error("token must be stored with used=false")
	}
	if len(stored.Token) < 43 {
		t.Errorf("token %q carries fewer than 32 bytes of randomness", stored.Token)
	}
	if stored.Token != emailedToken {
		t.Error("emailed token differs from the stored one")
	}
	if stored.UserID != testUser.ID || stored.Email != testUser.Email {
		t.Errorf("token identity = %s/%s", stored.UserID, stored.Email)
	}
	wantExpiry := before.Add(testTokenTTL)
	if stored.ExpiresAt.Before(wantExpiry) || stored.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("ExpiresAt = %v, want about %v", stored.ExpiresAt, wantExpiry)
	}

	types := d.audit.types()
	want := []domain.EventType{domain.EventMagicLinkRequested, domain.EventMagicLinkSent}
	if len(types) != 2 || types[0] != want[0] || types[1] != want[1] {
		t.Errorf("audit events = %v, want %v", types, want)
	}
}

func TestRequestMagicLink_SendFailure_PropagatesTokenStaysStored(t *testing.T) {
	d := newDeps()
	sendErr := errors.New("gateway unavailable")
	stored := false

	d.repo.storeToken = func(_ context.Context, _ *domain.MagicLinkToken) error {
		stored = true
		return nil
	}
	d.sender.send = func(_ context.Context, _, _, _ string) error { return sendErr }

	_, err := newUsecase(d).RequestMagicLink(context.Background(), testUser.Email, testOrigin, testUserAgent)
	if !errors.Is(err, sendErr) {
		t.Fatalf("want wrapped send error, got %v", err)
	}
	if !stored {
		t.Error("token must remain stored so a retried request can succeed")
	}
}

// ---- VerifyMagicLink ----

func validToken() *domain.MagicLinkToken {
	now := time.Now().UTC()
	return &domain.MagicLinkToken{
		Token:     "magic-1",
		UserID:    testUser.ID,
		Email:     testUser.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(testTokenTTL),
		Used:      false,
	}
}

func TestVerifyMagicLink_TokenNotFound(t *testing.T) {
	d := newDeps()
	d.repo.findToken = func(_ context.Context, _ string) (*domain.MagicLinkToken, error) {
		return nil, domain.ErrTokenInvalid
	}

	_, err := newUsecase(d).VerifyMagicLink(context.Background(), "missing", testOrigin, testUserAgent)
	if !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("want ErrTokenInvalid, got %v", err)
	}
	if reason := d.audit.events[0].Details["reason"]; reason != "token_not_found" {
		t.Errorf("audit reason = %v", reason)
	}
}

func TestVerifyMagicLink_AlreadyUsed(t *testing.T) {
	d := newDeps()
	token := validToken()
	token.Used = true
	d.repo.findToken = func(_ context.Context, _ string) (*domain.MagicLinkToken, error) {
		return token, nil
	}

	_, err := newUsecase(d).VerifyMagicLink(context.Background(), token.Token, testOrigin, testUserAgent)
	if !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("want ErrTokenInvalid, got %v", err)
	}

	types := d.audit.types()
	if len(types) != 1 || types[0] != domain.EventMagicLinkAlreadyUsed {
		t.Errorf("audit events = %v, want [magic_link_already_used]", types)
	}
}

func TestVerifyMagicLink_Expired_RegardlessOfUsedFlag(t *testing.T) {
	d := newDeps()
	token := validToken()
	token.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	d.repo.findToken = func(_ context.Context, _ string) (*domain.MagicLinkToken, error) {
		return token, nil
	}
	lastLoginTouched := false
	d.repo.updateLastLogin = func(_ context.Context, _ string, _ time.Time) error {
		lastLoginTouched = true
		return nil
	}

	_, err := newUsecase(d).VerifyMagicLink(context.Background(), token.Token, testOrigin, testUserAgent)
	if !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("want ErrTokenInvalid, got %v", err)
	}
	if lastLoginTouched {
		t.Error("last_login_at must not change for an expired token")
	}

	types := d.audit.types()
	if len(types) != 1 || types[0] != domain.EventMagicLinkExpired {
		t.Errorf("audit events = %v, want [magic_link_expired]", types)
	}
}

func TestVerifyMagicLink_UserInactive(t *testing.T) {
	d := newDeps()
	d.repo.findToken = func(_ context.Context, _ string) (*domain.MagicLinkToken, error) {
		return validToken(), nil
	}
	d.repo.findByID = func(_ context.Context, _ string) (*domain.User, error) {
		inactive := *testUser
		inactive.IsActive = false
		return &inactive, nil
	}
	d.repo.markTokenUsed = func(_ context.Context, _ string, _ time.Time) error {
		t.Fatal("an inactive user's token must not be consumed")
		return nil
	}

	_, err := newUsecase(d).VerifyMagicLink(context.Background(), "magic-1", testOrigin, testUserAgent)
	if !errors.Is(err, domain.ErrUserInactive) {
		t.Fatalf("want ErrUserInactive, got %v", err)
	}
}

func TestVerifyMagicLink_LostClaimRace_ReturnsInvalidToken(t *testing.T) {
	d := newDeps()
	d.repo.findToken = func(_ context.Context, _ string) (*domain.MagicLinkToken, error) {
		return validToken(), nil
	}
	d.repo.markTokenUsed = func(_ context.Context, _ string, _ time.Time) error {
		// A concurrent verification claimed the token first.
		return domain.ErrTokenInvalid
	}
	d.sessions.create = func(_ context.Context, _ string) (*domain.Session, error) {
		t.Fatal("no session may be created after losing the claim")
		return nil, nil
	}

	_, err := newUsecase(d).VerifyMagicLink(context.Background(), "magic-1", testOrigin, testUserAgent)
	if !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("want ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyMagicLink_Success(t *testing.T) {
	d := newDeps()
	d.repo.findToken = func(_ context.Context, _ string) (*domain.MagicLinkToken, error) {
		return validToken(), nil
	}

	var claimed, lastLogin bool
	var limiterReset, guardReset string
	d.repo.markTokenUsed = func(_ context.Context, token string, _ time.Time) error {
		claimed = token == "magic-1"
		return nil
	}
	d.repo.updateLastLogin = func(_ context.Context, id string, _ time.Time) error {
		lastLogin = id == testUser.ID
		return nil
	}
	d.limiter.reset = func(_ context.Context, email string) error {
		limiterReset = email
		return nil
	}
	d.guard.reset = func(_ context.Context, origin string) error {
		guardReset = origin
		return nil
	}

	auth, err := newUsecase(d).VerifyMagicLink(context.Background(), "magic-1", testOrigin, testUserAgent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !claimed {
		t.Error("token was not claimed")
	}
	if !lastLogin {
		t.Error("last_login_at was not updated")
	}
	if auth.User.LastLoginAt == nil {
		t.Error("returned user is missing last_login_at")
	}
	if limiterReset != testUser.Email {
		t.Errorf("rate limit reset for %q, want %q", limiterReset, testUser.Email)
	}
	if guardReset != testOrigin {
		t.Errorf("enumeration reset for %q, want %q", guardReset, testOrigin)
	}
	if auth.Session == nil || auth.Session.UserID != testUser.ID {
		t.Errorf("session = %+v", auth.Session)
	}

	types := d.audit.types()
	want := []domain.EventType{domain.EventMagicLinkVerified, domain.EventSessionCreated}
	if len(types) != 2 || types[0] != want[0] || types[1] != want[1] {
		t.Errorf("audit events = %v, want %v", types, want)
	}
}

// ---- Logout ----

func TestLogout_RevokesAndLogsIdentity(t *testing.T) {
	d := newDeps()
	var revoked string
	d.sessions.validate = func(_ context.Context, token string) (*domain.Session, error) {
		return &domain.Session{Token: token, UserID: testUser.ID}, nil
	}
	d.sessions.revoke = func(_ context.Context, token string) error {
		revoked = token
		return nil
	}

	if err := newUsecase(d).Logout(context.Background(), "sess-1", testOrigin); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if revoked != "sess-1" {
		t.Errorf("revoked %q, want sess-1", revoked)
	}
	types := d.audit.types()
	if len(types) != 1 || types[0] != domain.EventSessionRevoked {
		t.Errorf("audit events = %v, want [session_revoked]", types)
	}
	if d.audit.events[0].UserID != testUser.ID {
		t.Errorf("event user = %q, want %q", d.audit.events[0].UserID, testUser.ID)
	}
}

func TestLogout_InvalidToken_IsSafe(t *testing.T) {
	d := newDeps()
	revoked := false
	d.sessions.revoke = func(_ context.Context, _ string) error {
		revoked = true
		return nil
	}

	if err := newUsecase(d).Logout(context.Background(), "never-existed", testOrigin); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !revoked {
		t.Error("revoke must still run for an unknown token")
	}
}
