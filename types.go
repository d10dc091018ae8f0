package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-router"
)

// Logger is the minimal logging surface the package needs. Any
// printf-style logger can be adapted to it.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity is an authenticated principal. ID is the public identifier
// (an opaque uuid string), never the database key.
type Identity interface {
	ID() string
	Username() string
	Email() string
	Roles() []string
}

// Session is the decoded, validated view of an access token.
type Session interface {
	GetUserID() string
	GetUserRoles() []string
	GetIssuer() string
	GetAudience() []string
	GetIssuedAt() *time.Time
	GetExpiration() *time.Time
	GetData() map[string]any
}

// TokenPair is what a successful login or OAuth exchange produces:
// both tokens plus their double-submit CSRF tags. The tags travel in
// response headers, the tokens in cookies, so a cookie-borne request
// can only mutate state if the caller can also read the tag.
type TokenPair struct {
	AccessToken  string
	AccessCSRF   string
	RefreshToken string
	RefreshCSRF  string
}

// Authenticator drives the credential and token flows without any
// HTTP awareness.
type Authenticator interface {
	Login(ctx context.Context, identifier, password string) (*TokenPair, Identity, error)
	IssueSession(ctx context.Context, identity Identity) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (string, string, error)
	SessionFromToken(ctx context.Context, raw string) (Session, error)
	IdentityFromSession(ctx context.Context, session Session) (Identity, error)
}

// IdentityProvider resolves identities from credentials or stored
// identifiers.
type IdentityProvider interface {
	VerifyIdentity(ctx context.Context, identifier, password string) (Identity, error)
	FindIdentityByIdentifier(ctx context.Context, identifier string) (Identity, error)
}

// RoleProvider loads the role names granted to a user, keyed by the
// public identifier carried in token claims.
type RoleProvider interface {
	FindRoleNames(ctx context.Context, publicID string) ([]string, error)
}

// ValidSinceProvider reports the instant before which a user's tokens
// are no longer honored. A nil time means nothing was revoked.
type ValidSinceProvider interface {
	TokensValidFrom(ctx context.Context, publicID string) (*time.Time, error)
}

// Mailer delivers a rendered message. Implementations own transport;
// this package only composes recipients, subjects, and bodies.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error
}

// LoginPayload carries the credentials posted to the login endpoint.
type LoginPayload interface {
	GetIdentifier() string
	GetPassword() string
	GetExtendedSession() bool
}

// HTTPAuthenticator bridges the Authenticator to router handlers:
// cookie management, protected-route middleware, redirects.
type HTTPAuthenticator interface {
	Login(ctx router.Context, payload LoginPayload) (Identity, error)
	Logout(ctx router.Context)
	SetSessionCookies(ctx router.Context, pair *TokenPair, publicID string)
	ProtectedRoute(cfg Config, errorHandler func(router.Context, error) error) router.MiddlewareFunc
}

// Config is the read-only view of the runtime configuration the auth
// components consume. AppConfig implements it.
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetResetTokenTTL() time.Duration
	GetConfirmTokenTTL() time.Duration
	GetTokenLookup() string
	GetAuthScheme() string
	GetContextKey() string
	GetBaseURL() string
	GetCookieSecure() bool
	GetRejectedRouteKey() string
	GetRejectedRouteDefault() string
}

// NewDefaultLogger returns the stdout logger used when a component is
// built without an explicit Logger.
func NewDefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func newline(format string) string {
	if len(format) == 0 || format[len(format)-1] != '\n' {
		return format + "\n"
	}
	return format
}
