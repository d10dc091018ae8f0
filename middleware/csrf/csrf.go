// Package csrf implements stateless double-submit CSRF protection
// for the form flows that run before a session exists (login,
// registration, password reset pages). Tokens are HMAC-signed with a
// server key, so verification needs no storage.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-router"
)

var (
	ErrTokenMismatch    = errors.New("CSRF token mismatch")
	ErrTokenMissing     = errors.New("CSRF token missing")
	ErrTokenExpired     = errors.New("CSRF token expired")
	ErrSecureKeyMissing = errors.New("CSRF secure key required")
)

// DefaultContextKey is the default key for storing CSRF tokens in context
const DefaultContextKey = "csrf_token"

// DefaultFormFieldName is the default name for the CSRF token form field
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the default header name for CSRF tokens
const DefaultHeaderName = "X-CSRF-Token"

// DefaultExpiration bounds how long a minted token stays acceptable.
const DefaultExpiration = 2 * time.Hour

// Config defines the configuration for CSRF middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(router.Context) bool

	// ContextKey defines the key for storing the token in context
	ContextKey string

	// FormFieldName defines the name of the form field containing the token
	FormFieldName string

	// HeaderName defines the header name for the token
	HeaderName string

	// TokenLookup defines where to look for the token.
	// Format: "form:_token,header:X-CSRF-Token,query:_token"
	TokenLookup string

	// ErrorHandler defines the error handler
	ErrorHandler router.ErrorHandler

	// SuccessHandler defines the success handler
	SuccessHandler router.HandlerFunc

	// SafeMethods defines HTTP methods that don't require CSRF protection
	SafeMethods []string

	// Expiration defines how long minted tokens stay valid
	Expiration time.Duration

	// SecureKey signs the tokens; required.
	SecureKey []byte
}

// TokenExtractor defines a function to extract token from request
type TokenExtractor func(router.Context) (string, error)

// New creates a new CSRF middleware. Every request gets a fresh token
// stashed in locals for templates; mutating requests must present a
// previously issued token.
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := configDefault(config...)

		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return ctx.Next()
			}

			token, err := Mint(cfg.SecureKey, time.Now())
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, token)
			ctx.Locals(cfg.ContextKey+"_field", cfg.FormFieldName)
			ctx.Locals(cfg.ContextKey+"_header", cfg.HeaderName)

			method := strings.ToUpper(ctx.Method())
			if slices.Contains(cfg.SafeMethods, method) {
				return cfg.SuccessHandler(ctx)
			}

			presented, err := extractToken(ctx, cfg)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if err := Verify(cfg.SecureKey, presented, time.Now(), cfg.Expiration); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

// Mint produces a signed token: base64(nonce|issued-unix|mac).
func Mint(key []byte, now time.Time) (string, error) {
	if len(key) == 0 {
		return "", ErrSecureKeyMissing
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	payload := append([]byte{}, nonce...)
	payload = append(payload, '|')
	payload = strconv.AppendInt(payload, now.Unix(), 10)

	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	signed := append(payload, '|')
	signed = append(signed, mac.Sum(nil)...)

	return base64.RawURLEncoding.EncodeToString(signed), nil
}

// Verify checks the signature and the age of a presented token.
func Verify(key []byte, token string, now time.Time, maxAge time.Duration) error {
	if token == "" {
		return ErrTokenMissing
	}
	if len(key) == 0 {
		return ErrSecureKeyMissing
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	// nonce(16) | '|' | unix digits | '|' | mac(32)
	if len(raw) < 16+1+1+1+sha256.Size {
		return ErrTokenMismatch
	}

	macStart := len(raw) - sha256.Size
	if raw[macStart-1] != '|' {
		return ErrTokenMismatch
	}

	payload := raw[:macStart-1]
	presented := raw[macStart:]

	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	if subtle.ConstantTimeCompare(mac.Sum(nil), presented) != 1 {
		return ErrTokenMismatch
	}

	issuedAt, err := strconv.ParseInt(string(payload[17:]), 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	if maxAge > 0 && now.Sub(time.Unix(issuedAt, 0)) > maxAge {
		return ErrTokenExpired
	}
	return nil
}

func extractToken(ctx router.Context, cfg Config) (string, error) {
	for _, extractor := range extractors(cfg) {
		if token, err := extractor(ctx); err == nil && token != "" {
			return token, nil
		}
	}
	return "", ErrTokenMissing
}

func extractors(cfg Config) []TokenExtractor {
	out := make([]TokenExtractor, 0, 3)

	for _, rootPart := range strings.Split(cfg.TokenLookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(rootPart), ":", 2)
		if len(parts) != 2 {
			continue
		}

		name := strings.TrimSpace(parts[1])
		switch strings.TrimSpace(parts[0]) {
		case "form":
			out = append(out, fromForm(name))
		case "header":
			out = append(out, fromHeader(name))
		case "query":
			out = append(out, fromQuery(name))
		}
	}
	return out
}

func fromHeader(name string) TokenExtractor {
	return func(ctx router.Context) (string, error) {
		if v := ctx.Header(name); v != "" {
			return v, nil
		}
		return "", ErrTokenMissing
	}
}

func fromQuery(name string) TokenExtractor {
	return func(ctx router.Context) (string, error) {
		if v := ctx.Query(name, ""); v != "" {
			return v, nil
		}
		return "", ErrTokenMissing
	}
}

func fromForm(name string) TokenExtractor {
	return func(ctx router.Context) (string, error) {
		var form map[string]string
		if err := ctx.Bind(&form); err != nil {
			return "", ErrTokenMissing
		}
		if v := form[name]; v != "" {
			return v, nil
		}
		return "", ErrTokenMissing
	}
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.TokenLookup == "" {
		cfg.TokenLookup = "form:" + cfg.FormFieldName + ",header:" + cfg.HeaderName
	}
	if len(cfg.SafeMethods) == 0 {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}
	if cfg.Expiration == 0 {
		cfg.Expiration = DefaultExpiration
	}
	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(ctx router.Context, err error) error {
			switch {
			case errors.Is(err, ErrTokenMissing):
				return ctx.Status(router.StatusBadRequest).SendString("CSRF token missing")
			case errors.Is(err, ErrTokenExpired):
				return ctx.Status(router.StatusForbidden).SendString("CSRF token expired")
			case errors.Is(err, ErrTokenMismatch):
				return ctx.Status(router.StatusForbidden).SendString("CSRF token mismatch")
			default:
				return ctx.Status(router.StatusInternalServerError).SendString("CSRF validation error")
			}
		}
	}
	if len(cfg.SecureKey) == 0 {
		panic("AUTH: CSRF middleware configuration: SecureKey is required.")
	}

	return cfg
}
