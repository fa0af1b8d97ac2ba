package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

// ErrGateway wraps any delivery failure so callers can map it to a distinct
// HTTP status without inspecting provider errors.
var ErrGateway = errors.New("email gateway failure")

// Sender delivers the magic-link email. Failures propagate to the caller;
// the stored token stays valid for a retried request.
type Sender interface {
	SendMagicLink(ctx context.Context, to, token, baseURL string) error
}

func magicLink(baseURL, token string) string {
	return baseURL + "/auth/verify?token=" + token
}

// LogSender logs the link instead of sending it. Used in ENV=local.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) SendMagicLink(_ context.Context, to, token, baseURL string) error {
	s.logger.Info("magic link email (local dev)", "to", to, "link", magicLink(baseURL, token))
	return nil
}

// ResendSender sends via the Resend API. Used in staging/production.
type ResendSender struct {
	client  *resend.Client
	from    string
	appName string
}

func (s *ResendSender) SendMagicLink(ctx context.Context, to, token, baseURL string) error {
	link := magicLink(baseURL, token)
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: fmt.Sprintf("Sign in to %s", s.appName),
		Html: fmt.Sprintf(
			`<p>Click the link below to sign in:</p><p><a href="%s">%s</a></p><p>The link is valid once and expires shortly.</p>`,
			link, link,
		),
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return nil
}

// NewSender returns a LogSender for ENV=local, ResendSender otherwise.
func NewSender(env, apiKey, from, appName string, logger *slog.Logger) Sender {
	if env == "local" {
		return &LogSender{logger: logger}
	}
	return &ResendSender{
		client:  resend.NewClient(apiKey),
		from:    from,
		appName: appName,
	}
}
