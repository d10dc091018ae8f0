package auth

import (
	"encoding/base64"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/pydino/go-bracket-auth/middleware/jwtware"
)

// Cookie names and paths. The access cookie is only sent to API
// routes and the refresh cookie only to the refresh endpoint, so a
// stolen page request can never replay the wrong token. The public id
// cookie is readable by the frontend on purpose.
const (
	CookieAccessToken  = "access_token_cookie"
	CookieRefreshToken = "refresh_token_cookie"
	CookiePublicID     = "public_id"

	CookiePathAccess  = "/api/"
	CookiePathRefresh = "/token/refresh"
	CookiePathRoot    = "/"
)

// Response headers carrying the double-submit CSRF tags. Mutating
// cookie-borne requests echo the access tag back in HeaderCSRF.
const (
	HeaderAccessCSRF  = "access"
	HeaderRefreshCSRF = "refresh"
	HeaderCSRF        = "X-CSRF-Token"
)

// RouteAuthenticator adapts the Auther to router handlers: cookie
// management, CSRF headers, and the protected-route middleware.
type RouteAuthenticator struct {
	auth             *Auther
	cfg              Config
	Logger           Logger
	AuthErrorHandler func(c router.Context, err error) error
	ErrorHandler     func(c router.Context, err error) error
}

var _ HTTPAuthenticator = (*RouteAuthenticator)(nil)

func NewHTTPAuthenticator(auther *Auther, cfg Config) (*RouteAuthenticator, error) {
	if auther == nil {
		return nil, goerrors.New("http authenticator requires an authenticator", goerrors.CategoryBadInput)
	}

	a := &RouteAuthenticator{
		auth:   auther,
		cfg:    cfg,
		Logger: defLogger{},
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a, nil
}

// Login verifies the payload's credentials and installs the session
// cookies plus CSRF headers on the response.
func (a *RouteAuthenticator) Login(ctx router.Context, payload LoginPayload) (Identity, error) {
	pair, identity, err := a.auth.Login(ctx.Context(), payload.GetIdentifier(), payload.GetPassword())
	if err != nil {
		a.Logger.Error("login error: %v", err)
		return nil, err
	}

	a.SetSessionCookies(ctx, pair, identity.ID())
	return identity, nil
}

// IssueSession mints a token pair for an already verified identity
// and installs the session cookies. OAuth and email confirmation use
// this path; password login goes through Login.
func (a *RouteAuthenticator) IssueSession(ctx router.Context, identity Identity) error {
	pair, err := a.auth.IssueSession(ctx.Context(), identity)
	if err != nil {
		a.Logger.Error("session issue error: %v", err)
		return err
	}

	a.SetSessionCookies(ctx, pair, identity.ID())
	return nil
}

// Logout clears every session cookie. Tokens already in the wild
// stay valid until they expire; bumping the account watermark is the
// stronger remedy when that matters.
func (a *RouteAuthenticator) Logout(ctx router.Context) {
	a.cookieDel(ctx, CookieAccessToken, CookiePathAccess)
	a.cookieDel(ctx, CookieRefreshToken, CookiePathRefresh)
	a.cookieDel(ctx, CookiePublicID, CookiePathRoot)
}

// SetSessionCookies installs both token cookies scoped to their
// paths, the readable public id cookie, and the CSRF tag headers.
func (a *RouteAuthenticator) SetSessionCookies(ctx router.Context, pair *TokenPair, publicID string) {
	now := time.Now()

	a.setCookie(ctx, CookieAccessToken, pair.AccessToken, CookiePathAccess, true,
		now.Add(a.cfg.GetAccessTokenTTL()))
	a.setCookie(ctx, CookieRefreshToken, pair.RefreshToken, CookiePathRefresh, true,
		now.Add(a.cfg.GetRefreshTokenTTL()))
	a.setCookie(ctx, CookiePublicID, publicID, CookiePathRoot, false,
		now.Add(a.cfg.GetRefreshTokenTTL()))

	ctx.SetHeader(HeaderAccessCSRF, pair.AccessCSRF)
	ctx.SetHeader(HeaderRefreshCSRF, pair.RefreshCSRF)
}

// Refresh validates the refresh cookie and rotates the access cookie
// and its CSRF header in place.
func (a *RouteAuthenticator) Refresh(ctx router.Context) error {
	raw := ctx.Cookies(CookieRefreshToken)
	if raw == "" {
		return ErrTokenMissing
	}

	access, csrf, err := a.auth.Refresh(ctx.Context(), raw)
	if err != nil {
		return err
	}

	a.setCookie(ctx, CookieAccessToken, access, CookiePathAccess, true,
		time.Now().Add(a.cfg.GetAccessTokenTTL()))
	ctx.SetHeader(HeaderAccessCSRF, csrf)
	return nil
}

// ProtectedRoute wraps a handler with token validation, the CSRF
// check, and optional role gating configured through cfg.
func (a *RouteAuthenticator) ProtectedRoute(cfg Config, errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return jwtware.New(jwtware.Config{
			ErrorHandler:   errorHandler,
			TokenValidator: routerTokenValidator{a.auth.TokenValidator()},
			AuthScheme:     cfg.GetAuthScheme(),
			ContextKey:     cfg.GetContextKey(),
			TokenLookup:    cfg.GetTokenLookup(),
			CSRFHeader:     HeaderCSRF,
			SuccessHandler: func(c router.Context) error {
				return hf(c)
			},
		})
	}
}

// RequireRoles builds middleware that rejects callers missing any of
// the listed roles.
func (a *RouteAuthenticator) RequireRoles(cfg Config, errorHandler func(router.Context, error) error, roleNames ...string) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return jwtware.New(jwtware.Config{
			ErrorHandler:   errorHandler,
			TokenValidator: routerTokenValidator{a.auth.TokenValidator()},
			AuthScheme:     cfg.GetAuthScheme(),
			ContextKey:     cfg.GetContextKey(),
			TokenLookup:    cfg.GetTokenLookup(),
			CSRFHeader:     HeaderCSRF,
			RequiredRoles:  roleNames,
			SuccessHandler: func(c router.Context) error {
				return hf(c)
			},
		})
	}
}

// AcceptRoles builds middleware that admits callers holding at least
// one of the listed roles.
func (a *RouteAuthenticator) AcceptRoles(cfg Config, errorHandler func(router.Context, error) error, roleNames ...string) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return jwtware.New(jwtware.Config{
			ErrorHandler:   errorHandler,
			TokenValidator: routerTokenValidator{a.auth.TokenValidator()},
			AuthScheme:     cfg.GetAuthScheme(),
			ContextKey:     cfg.GetContextKey(),
			TokenLookup:    cfg.GetTokenLookup(),
			CSRFHeader:     HeaderCSRF,
			AcceptedRoles:  roleNames,
			SuccessHandler: func(c router.Context) error {
				return hf(c)
			},
		})
	}
}

// GetRedirect returns a previously stashed rejected route, falling
// back to def.
func (a *RouteAuthenticator) GetRedirect(ctx router.Context, def ...string) string {
	rejectedRoute := a.cfg.GetRejectedRouteKey()
	r := ctx.Cookies(rejectedRoute)
	if r == "" && len(def) > 0 {
		return def[0]
	}
	a.cookieDel(ctx, rejectedRoute, CookiePathRoot)
	return r
}

// SetRedirect stashes the rejected route so the login flow can send
// the user back after authenticating.
func (a *RouteAuthenticator) SetRedirect(ctx router.Context) {
	ctx.Cookie(&router.Cookie{
		Name:     a.cfg.GetRejectedRouteKey(),
		Value:    ctx.OriginalURL(),
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) setCookie(c router.Context, name, value, path string, httpOnly bool, expires time.Time) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  expires,
		HTTPOnly: httpOnly,
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) cookieDel(c router.Context, name, path string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryAuth, "An unexpected authentication error").
			WithCode(goerrors.CodeUnauthorized)
	}

	a.Logger.Info("authentication error on %s: %s (%s)", c.OriginalURL(), richErr.Message, richErr.TextCode)

	return c.JSON(HTTPStatus(richErr), map[string]any{
		"error": richErr.Message,
	})
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	a.Logger.Info(
		"middleware error: %s category=%s details=%s",
		richErr.Message,
		richErr.Category,
		print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return a.AuthErrorHandler(c, richErr)
	default:
		return c.JSON(HTTPStatus(richErr), map[string]any{
			"error": richErr.Message,
		})
	}
}

// routerTokenValidator bridges the package TokenValidator to the
// jwtware middleware contract.
type routerTokenValidator struct {
	validator TokenValidator
}

func (v routerTokenValidator) ValidateToken(c router.Context, tokenString string) (jwtware.AuthClaims, error) {
	claims, err := v.validator.ValidateToken(c.Context(), tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseBasicAuth extracts credentials from a Basic Authorization
// header. Both login and registration take credentials this way.
func ParseBasicAuth(header string) (username, password string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}

	creds := string(decoded)
	idx := strings.IndexByte(creds, ':')
	if idx < 0 {
		return "", "", false
	}
	return creds[:idx], creds[idx+1:], true
}
