package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types. Every token carries exactly one; endpoints reject the
// wrong type before looking at anything else.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
	TokenTypeScoped  = "scoped"
)

// Purposes for scoped single-use-style tokens. A scoped token is only
// accepted by the endpoint that asked for its exact purpose.
const (
	TokenPurposeConfirmEmail  = "confirm_email"
	TokenPurposePasswordReset = "password_reset"
)

// AuthClaims is the read-only view handlers get after validation.
type AuthClaims interface {
	PublicID() string
	TokenType() string
	Purpose() string
	CSRF() string
	Roles() []string
	Issuer() string
	Audience() []string
	IssuedAt() *time.Time
	Expiration() *time.Time
}

// JWTClaims is the wire shape of every token this package signs.
type JWTClaims struct {
	jwt.RegisteredClaims
	UID       string   `json:"uid,omitempty"`
	Type      string   `json:"type,omitempty"`
	Scope     string   `json:"purpose,omitempty"`
	CSRFToken string   `json:"csrf,omitempty"`
	UserRoles []string `json:"roles,omitempty"`
}

var _ AuthClaims = (*JWTClaims)(nil)

func (c *JWTClaims) PublicID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject
}

func (c *JWTClaims) TokenType() string { return c.Type }
func (c *JWTClaims) Purpose() string   { return c.Scope }
func (c *JWTClaims) CSRF() string      { return c.CSRFToken }
func (c *JWTClaims) Roles() []string   { return c.UserRoles }

func (c *JWTClaims) Issuer() string { return c.RegisteredClaims.Issuer }

func (c *JWTClaims) Audience() []string {
	return []string(c.RegisteredClaims.Audience)
}

func (c *JWTClaims) IssuedAt() *time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return nil
	}
	t := c.RegisteredClaims.IssuedAt.Time
	return &t
}

func (c *JWTClaims) Expiration() *time.Time {
	if c.ExpiresAt == nil {
		return nil
	}
	t := c.ExpiresAt.Time
	return &t
}
