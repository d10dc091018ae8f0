package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Auther orchestrates the credential and token flows: password login,
// session issuance, refresh, and session decoding. HTTP specifics
// live in RouteAuthenticator; OAuth resolution lives in the oauth
// subpackage and feeds identities back through IssueSession.
type Auther struct {
	provider   IdentityProvider
	roles      RoleProvider
	tokens     TokenService
	validSince ValidSinceProvider
	activity   ActivitySink
	logger     Logger
}

var _ Authenticator = (*Auther)(nil)

func NewAuthenticator(provider IdentityProvider, tokens TokenService) *Auther {
	return &Auther{
		provider: provider,
		tokens:   tokens,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithRoleProvider makes session issuance re-resolve roles from
// storage instead of trusting the snapshot on the identity.
func (s *Auther) WithRoleProvider(roles RoleProvider) *Auther {
	s.roles = roles
	return s
}

// WithValidSinceProvider enables the revocation watermark check on
// every token the orchestrator accepts.
func (s *Auther) WithValidSinceProvider(provider ValidSinceProvider) *Auther {
	s.validSince = provider
	return s
}

func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activity = normalizeActivitySink(sink)
	return s
}

// Login verifies credentials and issues a fresh session pair.
func (s *Auther) Login(ctx context.Context, identifier, password string) (*TokenPair, Identity, error) {
	identity, err := s.provider.VerifyIdentity(ctx, identifier, password)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, "", map[string]any{
			"reason": "credential verification failed",
		})
		return nil, nil, err
	}

	pair, err := s.IssueSession(ctx, identity)
	if err != nil {
		return nil, nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, identity.ID(), nil)
	return pair, identity, nil
}

// IssueSession mints an access and refresh token for an already
// authenticated identity. OAuth logins and email confirmation land
// here after resolving their user.
func (s *Auther) IssueSession(ctx context.Context, identity Identity) (*TokenPair, error) {
	if identity == nil {
		return nil, ErrIdentityNotFound
	}

	roles := identity.Roles()
	if s.roles != nil {
		resolved, err := s.roles.FindRoleNames(ctx, identity.ID())
		if err != nil {
			s.logger.Error("role resolution failed for %s: %v", identity.ID(), err)
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve roles")
		}
		roles = resolved
	}

	access, accessCSRF, err := s.tokens.IssueAccessToken(ctx, identity, roles)
	if err != nil {
		return nil, err
	}

	refresh, refreshCSRF, err := s.tokens.IssueRefreshToken(ctx, identity)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		AccessCSRF:   accessCSRF,
		RefreshToken: refresh,
		RefreshCSRF:  refreshCSRF,
	}, nil
}

// Refresh trades a valid refresh token for a new access token and its
// CSRF tag. The refresh token itself is not rotated; it stays good
// until it expires or the account's watermark retires it.
func (s *Auther) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return "", "", err
	}

	if err := s.checkRevocation(ctx, claims); err != nil {
		return "", "", err
	}

	identity, err := s.provider.FindIdentityByIdentifier(ctx, claims.PublicID())
	if err != nil {
		return "", "", err
	}

	roles := identity.Roles()
	if s.roles != nil {
		if resolved, rerr := s.roles.FindRoleNames(ctx, identity.ID()); rerr == nil {
			roles = resolved
		}
	}

	access, csrf, err := s.tokens.IssueAccessToken(ctx, identity, roles)
	if err != nil {
		return "", "", err
	}

	s.emitAuthEvent(ctx, ActivityEventTokenRefresh, identity.ID(), nil)
	return access, csrf, nil
}

// SessionFromToken validates a raw access token, applies the
// revocation watermark, and returns the decoded session.
func (s *Auther) SessionFromToken(ctx context.Context, raw string) (Session, error) {
	claims, err := s.tokens.ValidateAccess(raw)
	if err != nil {
		return nil, err
	}

	if err := s.checkRevocation(ctx, claims); err != nil {
		return nil, err
	}

	return sessionFromAuthClaims(claims)
}

// IdentityFromSession loads the full identity behind a session.
func (s *Auther) IdentityFromSession(ctx context.Context, session Session) (Identity, error) {
	if session == nil || session.GetUserID() == "" {
		return nil, ErrIdentityNotFound
	}
	return s.provider.FindIdentityByIdentifier(ctx, session.GetUserID())
}

// TokenValidator exposes the orchestrator's full validation path,
// watermark included, for the route middleware.
func (s *Auther) TokenValidator() TokenValidator {
	base := AccessTokenValidator(s.tokens)
	if s.validSince == nil {
		return base
	}
	return NewValidSinceValidator(base, s.validSince)
}

func (s *Auther) checkRevocation(ctx context.Context, claims AuthClaims) error {
	if s.validSince == nil {
		return nil
	}

	validFrom, err := s.validSince.TokensValidFrom(ctx, claims.PublicID())
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "revocation lookup failed")
	}
	if validFrom == nil {
		return nil
	}

	issuedAt := claims.IssuedAt()
	if issuedAt == nil || issuedAt.Before(*validFrom) {
		return ErrTokenRevoked
	}
	return nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, userID string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := s.activity.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink rejected %s event: %v", eventType, err)
	}
}
