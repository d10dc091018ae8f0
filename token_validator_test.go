package auth_test

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/pydino/go-bracket-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validSinceFunc func(ctx context.Context, publicID string) (*time.Time, error)

func (f validSinceFunc) TokensValidFrom(ctx context.Context, publicID string) (*time.Time, error) {
	return f(ctx, publicID)
}

func isRevoked(t *testing.T, err error) {
	t.Helper()
	var rich *goerrors.Error
	require.ErrorAs(t, err, &rich)
	assert.Equal(t, auth.TextCodeTokenRevoked, rich.TextCode)
}

func TestValidSinceValidator(t *testing.T) {
	svc := auth.NewTokenService(testConfig())
	base := auth.AccessTokenValidator(svc)

	token, _, err := svc.IssueAccessToken(context.Background(), testIdentity("user-123"), nil)
	require.NoError(t, err)

	t.Run("no watermark passes", func(t *testing.T) {
		v := auth.NewValidSinceValidator(base, validSinceFunc(func(context.Context, string) (*time.Time, error) {
			return nil, nil
		}))
		_, err := v.ValidateToken(context.Background(), token)
		assert.NoError(t, err)
	})

	t.Run("watermark in the past passes", func(t *testing.T) {
		earlier := time.Now().Add(-time.Hour)
		v := auth.NewValidSinceValidator(base, validSinceFunc(func(context.Context, string) (*time.Time, error) {
			return &earlier, nil
		}))
		_, err := v.ValidateToken(context.Background(), token)
		assert.NoError(t, err)
	})

	t.Run("token issued before watermark is revoked", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		v := auth.NewValidSinceValidator(base, validSinceFunc(func(context.Context, string) (*time.Time, error) {
			return &future, nil
		}))
		_, err := v.ValidateToken(context.Background(), token)
		require.Error(t, err)
		isRevoked(t, err)
	})

	t.Run("leeway tolerates clock skew", func(t *testing.T) {
		justAhead := time.Now().Add(10 * time.Second)
		v := auth.NewValidSinceValidator(base, validSinceFunc(func(context.Context, string) (*time.Time, error) {
			return &justAhead, nil
		})).WithLeeway(time.Minute)
		_, err := v.ValidateToken(context.Background(), token)
		assert.NoError(t, err)
	})

	t.Run("invalid token never reaches the watermark", func(t *testing.T) {
		called := false
		v := auth.NewValidSinceValidator(base, validSinceFunc(func(context.Context, string) (*time.Time, error) {
			called = true
			return nil, nil
		}))
		_, err := v.ValidateToken(context.Background(), "not-a-token")
		require.Error(t, err)
		assert.False(t, called)
	})
}

func TestMultiTokenValidator(t *testing.T) {
	svc := auth.NewTokenService(testConfig())
	token, _, err := svc.IssueAccessToken(context.Background(), testIdentity("user-123"), nil)
	require.NoError(t, err)

	failing := auth.TokenValidatorFunc(func(context.Context, string) (auth.AuthClaims, error) {
		return nil, auth.ErrTokenMalformed
	})

	t.Run("first success wins", func(t *testing.T) {
		v := auth.NewMultiTokenValidator(failing, auth.AccessTokenValidator(svc))
		claims, err := v.ValidateToken(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "user-123", claims.PublicID())
	})

	t.Run("expiry short circuits", func(t *testing.T) {
		expired := auth.TokenValidatorFunc(func(context.Context, string) (auth.AuthClaims, error) {
			return nil, auth.ErrTokenExpired
		})
		fallbackUsed := false
		fallback := auth.TokenValidatorFunc(func(context.Context, string) (auth.AuthClaims, error) {
			fallbackUsed = true
			return nil, auth.ErrTokenMalformed
		})

		v := auth.NewMultiTokenValidator(expired, fallback)
		_, err := v.ValidateToken(context.Background(), token)
		require.Error(t, err)
		assert.True(t, auth.IsTokenExpiredError(err))
		assert.False(t, fallbackUsed)
	})

	t.Run("last error surfaces when all fail", func(t *testing.T) {
		v := auth.NewMultiTokenValidator(failing, failing)
		_, err := v.ValidateToken(context.Background(), token)
		require.Error(t, err)
		assert.True(t, auth.IsMalformedError(err))
	})

	t.Run("no validators", func(t *testing.T) {
		v := auth.NewMultiTokenValidator()
		_, err := v.ValidateToken(context.Background(), token)
		assert.Error(t, err)
	})
}
