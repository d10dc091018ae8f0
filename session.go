package auth

import (
	"fmt"
	"time"
)

var _ Session = &SessionObject{}

// SessionObject is the decoded view of a validated access token.
type SessionObject struct {
	UserID         string         `json:"user_id,omitempty"`
	UserRoles      []string       `json:"user_roles,omitempty"`
	Audience       []string       `json:"audience,omitempty"`
	Issuer         string         `json:"issuer,omitempty"`
	IssuedAt       *time.Time     `json:"issued_at,omitempty"`
	ExpirationDate *time.Time     `json:"expiration_date,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (s *SessionObject) GetUserID() string {
	return s.UserID
}

func (s *SessionObject) GetUserRoles() []string {
	return s.UserRoles
}

func (s *SessionObject) GetAudience() []string {
	return s.Audience
}

func (s *SessionObject) GetIssuer() string {
	return s.Issuer
}

func (s *SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s *SessionObject) GetExpiration() *time.Time {
	return s.ExpirationDate
}

func (s *SessionObject) GetData() map[string]any {
	return s.Data
}

// HasRole reports membership without touching storage; the roles were
// frozen into the token when it was minted.
func (s *SessionObject) HasRole(role string) bool {
	return NewRoleSet(s.UserRoles...).Contains(role)
}

func (s SessionObject) String() string {
	issuedAt := "<nil>"
	if s.IssuedAt != nil {
		issuedAt = s.IssuedAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"user=%s roles=%v aud=%v iss=%s iat=%s",
		s.UserID,
		s.UserRoles,
		s.Audience,
		s.Issuer,
		issuedAt,
	)
}

func sessionFromAuthClaims(claims AuthClaims) (*SessionObject, error) {
	if claims == nil {
		return nil, ErrTokenMalformed
	}

	data := map[string]any{
		"token_type": claims.TokenType(),
	}
	if purpose := claims.Purpose(); purpose != "" {
		data["purpose"] = purpose
	}

	return &SessionObject{
		UserID:         claims.PublicID(),
		UserRoles:      claims.Roles(),
		Audience:       claims.Audience(),
		Issuer:         claims.Issuer(),
		IssuedAt:       claims.IssuedAt(),
		ExpirationDate: claims.Expiration(),
		Data:           data,
	}, nil
}
