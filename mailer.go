package auth

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/gofiber/template/django/v3"
	goerrors "github.com/goliatone/go-errors"
)

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, recipient, subject, htmlBody, textBody string) error

func (f MailerFunc) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	if f == nil {
		return nil
	}
	return f(ctx, recipient, subject, htmlBody, textBody)
}

// NoopMailer drops every message. Used when no mail server is
// configured and in tests.
type NoopMailer struct{}

func (NoopMailer) Send(context.Context, string, string, string, string) error {
	return nil
}

// LogMailer writes composed messages to the logger instead of
// delivering them, which is what development runs want.
type LogMailer struct {
	Logger Logger
}

func (m LogMailer) Send(_ context.Context, recipient, subject, _, textBody string) error {
	logger := m.Logger
	if logger == nil {
		logger = defLogger{}
	}
	logger.Info("mail to=%s subject=%q body=%q", recipient, subject, textBody)
	return nil
}

// WrapMailError classifies a transport failure so the HTTP layer can
// answer 502 for infrastructure trouble while keeping the cause in
// metadata. Connection problems and authentication rejections get
// distinct kinds.
func WrapMailError(err error) error {
	if err == nil {
		return nil
	}

	kind := "unknown"
	var opErr *net.OpError
	switch {
	case goerrors.As(err, &opErr):
		kind = "connection"
	case strings.Contains(strings.ToLower(err.Error()), "auth"):
		kind = "authentication"
	}

	return goerrors.Wrap(err, goerrors.CategoryOperation, "mail delivery failed").
		WithTextCode(TextCodeMailDelivery).
		WithMetadata(map[string]any{"kind": kind})
}

// MailService composes the emails the auth flows send. Bodies render
// through a template engine when one is configured; otherwise a
// plain-text fallback keeps the flows working.
type MailService struct {
	mailer   Mailer
	renderer *django.Engine
	appName  string
	sender   string
	logger   Logger
}

func NewMailService(mailer Mailer, cfg MailConfig) *MailService {
	if mailer == nil {
		mailer = NoopMailer{}
	}
	return &MailService{
		mailer:  mailer,
		appName: cfg.AppName,
		sender:  cfg.Sender,
		logger:  defLogger{},
	}
}

func (m *MailService) WithLogger(logger Logger) *MailService {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithTemplates loads django-style templates from dir. Template names
// are confirm_email and password_reset, extension .html.
func (m *MailService) WithTemplates(dir string) (*MailService, error) {
	engine := django.New(dir, ".html")
	if err := engine.Load(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load mail templates")
	}
	m.renderer = engine
	return m, nil
}

// SendConfirmEmail delivers the address-verification message.
func (m *MailService) SendConfirmEmail(ctx context.Context, recipient, name, link string) error {
	subject := fmt.Sprintf("%s: confirm your email", m.appName)
	text := fmt.Sprintf(
		"Hi %s,\n\nWelcome to %s! Confirm your email address by visiting:\n%s\n\nThe link expires in 24 hours.",
		name, m.appName, link,
	)

	html, err := m.render("confirm_email", map[string]any{
		"name":     name,
		"app_name": m.appName,
		"link":     link,
	})
	if err != nil {
		return err
	}

	if err := m.mailer.Send(ctx, recipient, subject, html, text); err != nil {
		return WrapMailError(err)
	}
	return nil
}

// SendPasswordResetEmail delivers the reset link.
func (m *MailService) SendPasswordResetEmail(ctx context.Context, recipient, name, link string) error {
	subject := fmt.Sprintf("%s: password reset", m.appName)
	text := fmt.Sprintf(
		"Hi %s,\n\nSomeone asked to reset the password for this account on %s. If that was you, visit:\n%s\n\nThe link expires shortly; if you did not ask for it, ignore this message.",
		name, m.appName, link,
	)

	html, err := m.render("password_reset", map[string]any{
		"name":     name,
		"app_name": m.appName,
		"link":     link,
	})
	if err != nil {
		return err
	}

	if err := m.mailer.Send(ctx, recipient, subject, html, text); err != nil {
		return WrapMailError(err)
	}
	return nil
}

func (m *MailService) render(name string, binding map[string]any) (string, error) {
	if m.renderer == nil {
		return "", nil
	}

	var buf bytes.Buffer
	if err := m.renderer.Render(&buf, name, binding); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render mail template "+name)
	}
	return buf.String(), nil
}
