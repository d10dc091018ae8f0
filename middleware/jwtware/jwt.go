// Package jwtware gates router handlers behind JWT validation, the
// double-submit CSRF check for cookie-borne tokens, and role checks.
// It speaks to the auth package through small local interfaces so the
// two packages stay cycle-free.
package jwtware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup       = "cookie:access_token_cookie,header:" + router.HeaderAuthorization
	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
	ErrCSRFMismatch          = errors.New("CSRF tag missing or does not match session")
	ErrAccessDenied          = errors.New("access denied: insufficient roles")
)

// TokenValidator validates a raw token in the scope of a request.
type TokenValidator interface {
	ValidateToken(c router.Context, tokenString string) (AuthClaims, error)
}

// AuthClaims mirrors the claims surface of the auth package without
// importing it.
type AuthClaims interface {
	PublicID() string
	TokenType() string
	Purpose() string
	CSRF() string
	Roles() []string
}

// ValidationListener is invoked after a token has been validated but
// before authorization checks.
type ValidationListener func(ctx router.Context, claims AuthClaims) error

type Config struct {
	// Filter skips the middleware entirely when it returns true.
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler

	// TokenValidator is required.
	TokenValidator TokenValidator

	ContextKey  string
	TokenLookup string
	AuthScheme  string

	// CSRFHeader names the request header that must echo the token's
	// csrf claim on mutating requests when the token arrived in a
	// cookie. Empty disables the check.
	CSRFHeader string

	// RequiredRoles must all be held; AcceptedRoles needs one match.
	RequiredRoles []string
	AcceptedRoles []string

	// RoleProvider re-resolves roles from storage instead of trusting
	// the snapshot inside the token. Optional.
	RoleProvider func(ctx context.Context, publicID string) ([]string, error)

	// ContextEnricher propagates claims into the standard context
	// after successful validation.
	ContextEnricher func(c context.Context, claims AuthClaims) context.Context

	// ValidationListeners run after validation succeeds, before
	// authorization.
	ValidationListeners []ValidationListener
}

func New(config ...Config) router.HandlerFunc {
	cfg := GetDefaultConfig(config...)
	return func(ctx router.Context) error {
		if cfg.Filter != nil && cfg.Filter(ctx) {
			return ctx.Next()
		}

		raw, source, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
		if err != nil {
			return cfg.ErrorHandler(ctx, err)
		}

		claims, err := cfg.TokenValidator.ValidateToken(ctx, raw)
		if err != nil {
			return cfg.ErrorHandler(ctx, err)
		}

		if err := cfg.checkCSRF(ctx, source, claims); err != nil {
			return cfg.ErrorHandler(ctx, err)
		}

		if err := cfg.runValidationListeners(ctx, claims); err != nil {
			return cfg.ErrorHandler(ctx, err)
		}

		if err := cfg.performAuthorizationChecks(ctx, claims); err != nil {
			return cfg.ErrorHandler(ctx, err)
		}

		ctx.Locals(cfg.ContextKey, claims)

		if cfg.ContextEnricher != nil {
			ctx.SetContext(cfg.ContextEnricher(ctx.Context(), claims))
		}

		return cfg.SuccessHandler(ctx)
	}
}

// checkCSRF enforces the double-submit contract: when the token rode
// in on a cookie and the request can mutate state, the caller must
// echo the token's csrf claim in the configured header. Bearer tokens
// skip the check; an attacker who can set that header can read the
// response anyway.
func (cfg *Config) checkCSRF(ctx router.Context, source TokenSource, claims AuthClaims) error {
	if cfg.CSRFHeader == "" || source != TokenSourceCookie {
		return nil
	}
	if !isMutatingMethod(ctx.Method()) {
		return nil
	}

	tag := ctx.Header(cfg.CSRFHeader)
	if tag == "" || claims.CSRF() == "" || tag != claims.CSRF() {
		return ErrCSRFMismatch
	}
	return nil
}

func (cfg *Config) performAuthorizationChecks(ctx router.Context, claims AuthClaims) error {
	if len(cfg.RequiredRoles) == 0 && len(cfg.AcceptedRoles) == 0 {
		return nil
	}

	held := claims.Roles()
	if cfg.RoleProvider != nil {
		resolved, err := cfg.RoleProvider(ctx.Context(), claims.PublicID())
		if err != nil {
			return fmt.Errorf("role resolution failed: %w", err)
		}
		held = resolved
	}

	set := make(map[string]struct{}, len(held))
	for _, r := range held {
		set[r] = struct{}{}
	}

	for _, required := range cfg.RequiredRoles {
		if _, ok := set[required]; !ok {
			return fmt.Errorf("%w: missing role %q", ErrAccessDenied, required)
		}
	}

	if len(cfg.AcceptedRoles) > 0 {
		accepted := false
		for _, candidate := range cfg.AcceptedRoles {
			if _, ok := set[candidate]; ok {
				accepted = true
				break
			}
		}
		if !accepted {
			return fmt.Errorf("%w: none of the accepted roles held", ErrAccessDenied)
		}
	}

	return nil
}

// TokenSource says where the raw token came from; the CSRF check only
// applies to cookie-borne tokens.
type TokenSource int

const (
	TokenSourceNone TokenSource = iota
	TokenSourceHeader
	TokenSourceQuery
	TokenSourceParam
	TokenSourceCookie
)

func ExtractRawTokenFromContext(ctx router.Context, extractors []JWTExtractor) (string, TokenSource, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor.Extract(ctx)
		if raw != "" && err == nil {
			return raw, extractor.Source, nil
		}
	}

	if err == nil {
		err = ErrJWTMissingOrMalformed
	}
	return "", TokenSourceNone, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			switch {
			case errors.Is(err, ErrJWTMissingOrMalformed):
				return c.Status(router.StatusBadRequest).SendString(ErrJWTMissingOrMalformed.Error())
			case errors.Is(err, ErrCSRFMismatch), errors.Is(err, ErrAccessDenied):
				return c.Status(router.StatusForbidden).SendString(err.Error())
			default:
				return c.Status(router.StatusUnauthorized).SendString("Invalid or expired token")
			}
		}
	}

	if cfg.TokenValidator == nil {
		panic("AUTH: JWT middleware configuration: TokenValidator is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

// NewJWKSValidator builds a TokenValidator for externally issued
// tokens whose keys live in remote JWK sets, e.g. provider-minted id
// tokens accepted next to the local HMAC tokens.
func NewJWKSValidator(jwkSetURLs []string, newClaims func() AuthClaims) (TokenValidator, error) {
	kf, err := multiKeyfunc(nil, jwkSetURLs)
	if err != nil {
		return nil, err
	}

	return tokenValidatorFunc(func(_ router.Context, tokenString string) (AuthClaims, error) {
		claims := newClaims()
		parseable, ok := claims.(jwt.Claims)
		if !ok {
			return nil, fmt.Errorf("claims type %T does not implement jwt.Claims", claims)
		}
		if _, err := jwt.ParseWithClaims(tokenString, parseable, kf); err != nil {
			return nil, err
		}
		return claims, nil
	}), nil
}

type tokenValidatorFunc func(c router.Context, tokenString string) (AuthClaims, error)

func (f tokenValidatorFunc) ValidateToken(c router.Context, tokenString string) (AuthClaims, error) {
	return f(c, tokenString)
}

func multiKeyfunc(givenKeys map[string]keyfunc.GivenKey, jwtSetUrls []string) (jwt.Keyfunc, error) {
	opts := keyfuncOptions(givenKeys)
	m := make(map[string]keyfunc.Options, len(jwtSetUrls))
	for _, url := range jwtSetUrls {
		m[url] = opts
	}
	mopts := keyfunc.MultipleOptions{
		KeySelector: keyfunc.KeySelectorFirst,
	}
	multi, err := keyfunc.GetMultiple(m, mopts)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWT URLs: %w", err)
	}
	return multi.Keyfunc, nil
}

func keyfuncOptions(givenKeys map[string]keyfunc.GivenKey) keyfunc.Options {
	return keyfunc.Options{
		GivenKeys: givenKeys,
		RefreshErrorHandler: func(err error) {
			log.Printf("failed to do a background refresh of JWT set: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(ctx router.Context, claims AuthClaims) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, claims); err != nil {
			return err
		}
	}
	return nil
}

func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	// cookie:access_token_cookie,header:Authorization,query:token
	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) < 2 {
			continue
		}

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, JWTExtractor{
				Source:  TokenSourceHeader,
				Extract: jwtFromHeader(parts[1], authScheme),
			})
		case "query":
			extractors = append(extractors, JWTExtractor{
				Source:  TokenSourceQuery,
				Extract: jwtFromQuery(parts[1]),
			})
		case "param":
			extractors = append(extractors, JWTExtractor{
				Source:  TokenSourceParam,
				Extract: jwtFromParam(parts[1]),
			})
		case "cookie":
			extractors = append(extractors, JWTExtractor{
				Source:  TokenSourceCookie,
				Extract: jwtFromCookie(parts[1]),
			})
		}
	}

	return extractors
}

// JWTExtractor pairs an extraction function with its source so later
// checks can tell cookies from bearer headers.
type JWTExtractor struct {
	Source  TokenSource
	Extract func(c router.Context) (string, error)
}

// jwtFromHeader extracts a token from the request header.
func jwtFromHeader(header string, authScheme string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		a := c.Header(header)
		l := len(authScheme)
		if l == 0 {
			return "", ErrJWTMissingOrMalformed
		}
		authScheme = strings.TrimSpace(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

// jwtFromQuery extracts a token from the query string.
func jwtFromQuery(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromParam extracts a token from a url param.
func jwtFromParam(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromCookie extracts a token from the named cookie.
func jwtFromCookie(name string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func isMutatingMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "OPTIONS", "TRACE":
		return false
	default:
		return true
	}
}
