package auth

import (
	"context"
	"time"
)

// TokenValidator verifies a raw token and returns its claims. The
// context is there for validators that consult storage, e.g. the
// revocation watermark.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (AuthClaims, error)
}

// TokenValidatorFunc adapts a function to TokenValidator.
type TokenValidatorFunc func(ctx context.Context, tokenString string) (AuthClaims, error)

func (f TokenValidatorFunc) ValidateToken(ctx context.Context, tokenString string) (AuthClaims, error) {
	return f(ctx, tokenString)
}

// AccessTokenValidator exposes a TokenService's access-token path as
// a TokenValidator.
func AccessTokenValidator(svc TokenService) TokenValidator {
	return TokenValidatorFunc(func(_ context.Context, tokenString string) (AuthClaims, error) {
		return svc.ValidateAccess(tokenString)
	})
}

// MultiTokenValidator tries each validator in order and returns the
// first success. Non-expiry failures fall through to the next
// validator; the last error wins when all fail.
type MultiTokenValidator struct {
	validators []TokenValidator
}

func NewMultiTokenValidator(validators ...TokenValidator) *MultiTokenValidator {
	vs := make([]TokenValidator, 0, len(validators))
	for _, v := range validators {
		if v != nil {
			vs = append(vs, v)
		}
	}
	return &MultiTokenValidator{validators: vs}
}

func (m *MultiTokenValidator) ValidateToken(ctx context.Context, tokenString string) (AuthClaims, error) {
	if len(m.validators) == 0 {
		return nil, ErrTokenMalformed
	}

	var lastErr error
	for _, v := range m.validators {
		claims, err := v.ValidateToken(ctx, tokenString)
		if err == nil {
			return claims, nil
		}
		if IsTokenExpiredError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// ValidSinceValidator wraps another validator with the per-user
// revocation watermark: a token that verifies fine but was issued
// before the user's tokens-valid-from instant is rejected. Password
// changes bump the watermark, which retires every outstanding token
// without any server side token state.
type ValidSinceValidator struct {
	base     TokenValidator
	provider ValidSinceProvider
	leeway   time.Duration
}

func NewValidSinceValidator(base TokenValidator, provider ValidSinceProvider) *ValidSinceValidator {
	return &ValidSinceValidator{base: base, provider: provider}
}

// WithLeeway tolerates small clock skew between the issuing host and
// the database timestamp.
func (v *ValidSinceValidator) WithLeeway(d time.Duration) *ValidSinceValidator {
	if d > 0 {
		v.leeway = d
	}
	return v
}

func (v *ValidSinceValidator) ValidateToken(ctx context.Context, tokenString string) (AuthClaims, error) {
	claims, err := v.base.ValidateToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}

	if v.provider == nil {
		return claims, nil
	}

	validFrom, err := v.provider.TokensValidFrom(ctx, claims.PublicID())
	if err != nil {
		return nil, err
	}
	if validFrom == nil {
		return claims, nil
	}

	issuedAt := claims.IssuedAt()
	if issuedAt == nil || issuedAt.Add(v.leeway).Before(*validFrom) {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}
