package auth_test

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/pydino/go-bracket-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializePasswordReset(t *testing.T) {
	repo := newMemRepo()
	tokens := auth.NewTokenService(testConfig())
	mailer := &captureMailer{}
	mail := auth.NewMailService(mailer, auth.MailConfig{AppName: "PyDino"})
	handler := auth.NewInitializePasswordResetHandler(repo, tokens, mail, testConfig())

	seedUser(t, repo, "forgetful@example.com", "forgetful", "cant-remember")

	t.Run("known account gets an email", func(t *testing.T) {
		var res *auth.InitializePasswordResetResponse
		err := handler.Execute(context.Background(), auth.InitializePasswordResetMessage{
			Identifier: "forgetful@example.com",
			OnResponse: func(r *auth.InitializePasswordResetResponse) {
				res = r
			},
		})
		require.NoError(t, err)
		require.NotNil(t, res)

		assert.True(t, res.Success)
		assert.Equal(t, auth.MsgPasswordResetSent, res.Message)

		require.Equal(t, 1, mailer.count())
		assert.Contains(t, mailer.Sent[0].Text, "http://localhost:3000/password/reset?token=")
	})

	t.Run("unknown account gets the identical answer and no email", func(t *testing.T) {
		before := mailer.count()

		var res *auth.InitializePasswordResetResponse
		err := handler.Execute(context.Background(), auth.InitializePasswordResetMessage{
			Identifier: "never-registered@example.com",
			OnResponse: func(r *auth.InitializePasswordResetResponse) {
				res = r
			},
		})
		require.NoError(t, err)
		require.NotNil(t, res)

		assert.True(t, res.Success)
		assert.Equal(t, auth.MsgPasswordResetSent, res.Message)
		assert.Equal(t, before, mailer.count())
	})

	t.Run("delivery failure surfaces as bad gateway", func(t *testing.T) {
		failing := auth.NewMailService(&captureMailer{Fail: assert.AnError}, auth.MailConfig{AppName: "PyDino"})
		h := auth.NewInitializePasswordResetHandler(repo, tokens, failing, testConfig())

		err := h.Execute(context.Background(), auth.InitializePasswordResetMessage{
			Identifier: "forgetful@example.com",
		})
		require.Error(t, err)
		assert.Equal(t, http.StatusBadGateway, auth.HTTPStatus(err))
	})
}

// resetTokenFromMail pulls the scoped token out of the emailed link.
func resetTokenFromMail(t *testing.T, body string) string {
	t.Helper()

	idx := strings.Index(body, "http://")
	require.GreaterOrEqual(t, idx, 0)

	link := body[idx:]
	if end := strings.IndexAny(link, " \n"); end >= 0 {
		link = link[:end]
	}

	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

func TestFinalizePasswordReset(t *testing.T) {
	repo := newMemRepo()
	tokens := auth.NewTokenService(testConfig())
	mailer := &captureMailer{}
	mail := auth.NewMailService(mailer, auth.MailConfig{AppName: "PyDino"})
	provider := auth.NewUserProvider(repo)

	user := seedUser(t, repo, "renew@example.com", "renew", "old-secret")

	init := auth.NewInitializePasswordResetHandler(repo, tokens, mail, testConfig())
	require.NoError(t, init.Execute(context.Background(), auth.InitializePasswordResetMessage{
		Identifier: "renew@example.com",
	}))
	require.Equal(t, 1, mailer.count())
	token := resetTokenFromMail(t, mailer.Sent[0].Text)

	finalize := auth.NewFinalizePasswordResetHandler(repo, tokens)

	t.Run("sets the new credential", func(t *testing.T) {
		var updated *auth.User
		err := finalize.Execute(context.Background(), auth.FinalizePasswordResetMessage{
			Token:    token,
			Password: "new-secret",
			OnResponse: func(u *auth.User) {
				updated = u
			},
		})
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, user.PublicID, updated.PublicID)

		_, err = provider.VerifyIdentity(context.Background(), "renew", "new-secret")
		assert.NoError(t, err)
		_, err = provider.VerifyIdentity(context.Background(), "renew", "old-secret")
		assert.Error(t, err)
	})

	t.Run("bumps the revocation watermark", func(t *testing.T) {
		validFrom, err := repo.Users().TokensValidFrom(context.Background(), user.PublicID)
		require.NoError(t, err)
		assert.NotNil(t, validFrom)
	})

	t.Run("empty password refused", func(t *testing.T) {
		err := finalize.Execute(context.Background(), auth.FinalizePasswordResetMessage{
			Token:    token,
			Password: "",
		})
		assert.ErrorIs(t, err, auth.ErrEmptyPassword)
	})

	t.Run("access token is not a reset token", func(t *testing.T) {
		access, _, err := tokens.IssueAccessToken(context.Background(), auth.NewIdentityFromUser(user), nil)
		require.NoError(t, err)

		err = finalize.Execute(context.Background(), auth.FinalizePasswordResetMessage{
			Token:    access,
			Password: "sneaky",
		})
		require.Error(t, err)
		assert.True(t, auth.IsMalformedError(err))
	})
}

func TestFinalizePasswordResetExpiredToken(t *testing.T) {
	repo := newMemRepo()
	user := seedUser(t, repo, "late@example.com", "late", "procrastinated")

	past := time.Now().Add(-time.Hour)
	issuer := auth.NewTokenService(testConfig()).WithClock(func() time.Time { return past })
	token, err := issuer.IssueScopedToken(
		context.Background(),
		auth.NewIdentityFromUser(user),
		auth.TokenPurposePasswordReset,
		500*time.Second,
	)
	require.NoError(t, err)

	finalize := auth.NewFinalizePasswordResetHandler(repo, auth.NewTokenService(testConfig()))
	err = finalize.Execute(context.Background(), auth.FinalizePasswordResetMessage{
		Token:    token,
		Password: "too-late-now",
	})
	require.Error(t, err)

	// an expired link is client input trouble, with a stable message
	assert.Equal(t, http.StatusBadRequest, auth.HTTPStatus(err))

	var rich *goerrors.Error
	require.ErrorAs(t, err, &rich)
	assert.Equal(t, auth.MsgResetTokenExpired, rich.Message)

	// the old credential still works
	_, verr := auth.NewUserProvider(repo).VerifyIdentity(context.Background(), "late", "procrastinated")
	assert.NoError(t, verr)
}
