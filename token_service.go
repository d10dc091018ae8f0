package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService issues and validates the package's JWTs. Access and
// refresh issuance return the token plus its CSRF tag; scoped tokens
// carry a purpose instead and skip CSRF. Validation is a pure
// function of token, key, and clock.
type TokenService interface {
	IssueAccessToken(ctx context.Context, identity Identity, roles []string) (string, string, error)
	IssueRefreshToken(ctx context.Context, identity Identity) (string, string, error)
	IssueScopedToken(ctx context.Context, identity Identity, purpose string, ttl time.Duration) (string, error)
	SignClaims(claims *JWTClaims) (string, error)
	Validate(tokenString string) (AuthClaims, error)
	ValidateAccess(tokenString string) (AuthClaims, error)
	ValidateRefresh(tokenString string) (AuthClaims, error)
	ValidateScoped(tokenString, purpose string) (AuthClaims, error)
}

// ClaimsDecorator is the signing-time hook for applications that need
// extra claims, e.g. stamping bracket metadata into the roles list.
// The uid, type, purpose, and csrf claims are off limits; the signing
// path snapshots them and refuses the token if a decorator drifts any
// of them.
type ClaimsDecorator interface {
	Decorate(ctx context.Context, identity Identity, claims *JWTClaims) error
}

// ClaimsDecoratorFunc adapts a plain function into a ClaimsDecorator.
type ClaimsDecoratorFunc func(ctx context.Context, identity Identity, claims *JWTClaims) error

func (f ClaimsDecoratorFunc) Decorate(ctx context.Context, identity Identity, claims *JWTClaims) error {
	if f == nil {
		return nil
	}
	return f(ctx, identity, claims)
}

// TokenServiceImpl signs HMAC-SHA256 tokens with a shared key.
type TokenServiceImpl struct {
	signingKey []byte
	issuer     string
	audience   []string
	accessTTL  time.Duration
	refreshTTL time.Duration
	decorator  ClaimsDecorator
	timeNow    func() time.Time
	logger     Logger
}

// NewTokenService builds a service from runtime configuration.
func NewTokenService(cfg Config) *TokenServiceImpl {
	return &TokenServiceImpl{
		signingKey: []byte(cfg.GetSigningKey()),
		issuer:     cfg.GetIssuer(),
		audience:   cfg.GetAudience(),
		accessTTL:  cfg.GetAccessTokenTTL(),
		refreshTTL: cfg.GetRefreshTokenTTL(),
		timeNow:    time.Now,
		logger:     defLogger{},
	}
}

// WithLogger replaces the default stdout logger.
func (s *TokenServiceImpl) WithLogger(logger Logger) *TokenServiceImpl {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithClaimsDecorator installs a hook that can enrich claims before
// signing. Identity, type, purpose, and csrf claims are guarded; a
// decorator touching them aborts the issuance.
func (s *TokenServiceImpl) WithClaimsDecorator(d ClaimsDecorator) *TokenServiceImpl {
	s.decorator = d
	return s
}

// WithClock overrides the time source, mostly for tests.
func (s *TokenServiceImpl) WithClock(now func() time.Time) *TokenServiceImpl {
	if now != nil {
		s.timeNow = now
	}
	return s
}

// IssueAccessToken returns a signed access token and its CSRF tag.
// Roles ride along in the claims so the middleware can gate without a
// database hit; role-sensitive writes should still re-resolve.
func (s *TokenServiceImpl) IssueAccessToken(ctx context.Context, identity Identity, roles []string) (string, string, error) {
	if identity == nil {
		return "", "", ErrIdentityNotFound
	}

	csrf := uuid.NewString()
	claims := s.baseClaims(identity.ID(), s.accessTTL)
	claims.Type = TokenTypeAccess
	claims.CSRFToken = csrf
	claims.UserRoles = roles

	token, err := s.decorateAndSign(ctx, identity, claims)
	if err != nil {
		return "", "", err
	}
	return token, csrf, nil
}

// IssueRefreshToken returns a signed refresh token and its CSRF tag.
func (s *TokenServiceImpl) IssueRefreshToken(ctx context.Context, identity Identity) (string, string, error) {
	if identity == nil {
		return "", "", ErrIdentityNotFound
	}

	csrf := uuid.NewString()
	claims := s.baseClaims(identity.ID(), s.refreshTTL)
	claims.Type = TokenTypeRefresh
	claims.CSRFToken = csrf

	token, err := s.decorateAndSign(ctx, identity, claims)
	if err != nil {
		return "", "", err
	}
	return token, csrf, nil
}

// IssueScopedToken mints a short lived token bound to one purpose,
// e.g. confirm_email or password_reset. It is useless anywhere else.
func (s *TokenServiceImpl) IssueScopedToken(ctx context.Context, identity Identity, purpose string, ttl time.Duration) (string, error) {
	if identity == nil {
		return "", ErrIdentityNotFound
	}
	if purpose == "" {
		return "", goerrors.New("scoped token requires a purpose", goerrors.CategoryBadInput)
	}

	claims := s.baseClaims(identity.ID(), ttl)
	claims.Type = TokenTypeScoped
	claims.Scope = purpose
	return s.decorateAndSign(ctx, identity, claims)
}

// SignClaims signs arbitrary prepared claims with the service key.
func (s *TokenServiceImpl) SignClaims(claims *JWTClaims) (string, error) {
	ensureTokenID(claims)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}
	return signed, nil
}

// Validate parses and verifies a token of any type. Failures map to
// the package's typed errors so callers never inspect jwt internals.
func (s *TokenServiceImpl) Validate(tokenString string) (AuthClaims, error) {
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, goerrors.New("unexpected signing method: "+t.Method.Alg(), goerrors.CategoryAuth)
		}
		return s.signingKey, nil
	}, jwt.WithTimeFunc(s.timeNow))

	if err != nil {
		return nil, s.mapValidationError(err)
	}
	if !token.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.PublicID() == "" {
		return nil, ErrTokenMalformed.Clone().WithMetadata(map[string]any{
			"reason": "missing subject",
		})
	}
	return claims, nil
}

// ValidateAccess accepts only access tokens.
func (s *TokenServiceImpl) ValidateAccess(tokenString string) (AuthClaims, error) {
	return s.validateType(tokenString, TokenTypeAccess)
}

// ValidateRefresh accepts only refresh tokens; access tokens handed
// to the refresh endpoint fail here.
func (s *TokenServiceImpl) ValidateRefresh(tokenString string) (AuthClaims, error) {
	return s.validateType(tokenString, TokenTypeRefresh)
}

// ValidateScoped accepts only scoped tokens with the exact purpose.
func (s *TokenServiceImpl) ValidateScoped(tokenString, purpose string) (AuthClaims, error) {
	claims, err := s.validateType(tokenString, TokenTypeScoped)
	if err != nil {
		return nil, err
	}
	if claims.Purpose() != purpose {
		return nil, ErrTokenMalformed.Clone().WithMetadata(map[string]any{
			"reason":   "purpose mismatch",
			"expected": purpose,
		})
	}
	return claims, nil
}

func (s *TokenServiceImpl) decorateAndSign(ctx context.Context, identity Identity, claims *JWTClaims) (string, error) {
	if s.decorator == nil {
		return s.SignClaims(claims)
	}

	snapshot := captureImmutableClaims(claims)
	if err := s.decorator.Decorate(ctx, identity, claims); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "claims decoration failed")
	}
	if err := snapshot.validate(claims); err != nil {
		return "", err
	}
	return s.SignClaims(claims)
}

func (s *TokenServiceImpl) validateType(tokenString, tokenType string) (AuthClaims, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType() != tokenType {
		return nil, ErrTokenMalformed.Clone().WithMetadata(map[string]any{
			"reason":   "token type mismatch",
			"expected": tokenType,
			"got":      claims.TokenType(),
		})
	}
	return claims, nil
}

func (s *TokenServiceImpl) mapValidationError(err error) error {
	switch {
	case goerrors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case goerrors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrTokenMalformed.Clone().WithMetadata(map[string]any{
			"reason": "token not valid yet",
		})
	default:
		s.logger.Debug("token validation failed: %v", err)
		return ErrTokenMalformed
	}
}

func (s *TokenServiceImpl) baseClaims(publicID string, ttl time.Duration) *JWTClaims {
	now := s.timeNow()
	return &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   publicID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings(s.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID: publicID,
	}
}
