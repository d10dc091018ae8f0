package oauth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	auth "github.com/pydino/go-bracket-auth"
	"github.com/uptrace/bun"
)

// Authenticator resolves a provider profile to a local user. Known
// provider identities log straight in; unknown ones either link to an
// existing account matched by verified email or create a fresh
// passwordless account.
type Authenticator struct {
	repo        auth.RepositoryManager
	activity    auth.ActivitySink
	logger      auth.Logger
	defaultRole string
}

func NewAuthenticator(repo auth.RepositoryManager) *Authenticator {
	return &Authenticator{
		repo:        repo,
		activity:    auth.NewNoopActivitySink(),
		logger:      auth.NewDefaultLogger(),
		defaultRole: auth.RoleMember,
	}
}

func (a *Authenticator) WithLogger(logger auth.Logger) *Authenticator {
	if logger != nil {
		a.logger = logger
	}
	return a
}

func (a *Authenticator) WithActivitySink(sink auth.ActivitySink) *Authenticator {
	if sink != nil {
		a.activity = sink
	}
	return a
}

func (a *Authenticator) WithDefaultRole(role string) *Authenticator {
	if role != "" {
		a.defaultRole = role
	}
	return a
}

// Login satisfies the social login contract used by the HTTP layer:
// it takes the raw provider payload and returns the resolved user and
// whether the account was created by this call.
func (a *Authenticator) Login(ctx context.Context, provider string, payload map[string]any) (*auth.User, bool, error) {
	profile, err := NormalizeProfile(provider, payload)
	if err != nil {
		return nil, false, err
	}
	return a.LoginProfile(ctx, profile)
}

// LoginBearer parses the profile payload out of a bearer
// Authorization header and resolves it. This is the shape the HTTP
// layer consumes.
func (a *Authenticator) LoginBearer(ctx context.Context, provider, authorizationHeader string) (*auth.User, bool, error) {
	payload, err := ParseBearerPayload(authorizationHeader)
	if err != nil {
		return nil, false, err
	}
	return a.Login(ctx, provider, payload)
}

// LoginProfile resolves an already normalized profile.
func (a *Authenticator) LoginProfile(ctx context.Context, profile *Profile) (*auth.User, bool, error) {
	account, err := a.repo.OAuthAccounts().FindByProviderUID(ctx, profile.Provider, profile.ProviderUID)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up oauth account")
	}

	if account != nil {
		user, err := a.repo.Users().GetByPublicID(ctx, account.UserUID)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return nil, false, auth.ErrIdentityNotFound
			}
			return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load oauth user")
		}

		a.recordLogin(ctx, user, profile, false)
		return user, false, nil
	}

	user, isNew, err := a.linkOrCreate(ctx, profile)
	if err != nil {
		// Two first logins racing on the same identity: the unique
		// index rejects the loser, who retries the lookup path.
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryConflict {
			return a.retryExisting(ctx, profile, err)
		}
		return nil, false, err
	}

	a.recordLogin(ctx, user, profile, isNew)
	return user, isNew, nil
}

func (a *Authenticator) linkOrCreate(ctx context.Context, profile *Profile) (*auth.User, bool, error) {
	var user *auth.User
	isNew := false

	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if profile.Email != "" && profile.EmailVerified {
			existing, err := a.repo.Users().GetByIdentifierTx(ctx, tx, profile.Email)
			if err != nil && !repository.IsRecordNotFound(err) {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to match oauth email")
			}
			user = existing
		}

		if user == nil {
			created := &auth.User{
				Name:     profile.Name,
				Email:    profile.Email,
				Picture:  profile.Picture,
				IsActive: true,
			}
			created.GeneratePublicID()
			if profile.EmailVerified {
				now := time.Now()
				created.ConfirmedAt = &now
			}

			record, err := a.repo.Users().CreateTx(ctx, tx, created)
			if err != nil {
				return err
			}
			user = record
			isNew = true

			if err := a.repo.Roles().Assign(ctx, tx, user.PublicID, a.defaultRole); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to assign default role")
			}
		}

		_, err := a.repo.OAuthAccounts().CreateTx(ctx, tx, &auth.OAuthAccount{
			Provider:    profile.Provider,
			ProviderUID: profile.ProviderUID,
			UserUID:     user.PublicID,
			Payload:     profile.Raw,
		})
		return err
	})

	if err != nil {
		return nil, false, err
	}
	return user, isNew, nil
}

// retryExisting handles the create race: by the time we get here the
// winning transaction has committed the account row. When no account
// row exists the conflict came from the users.email index instead — a
// password account already owns that address — so the caller gets the
// conflict itself, not a lookup failure.
func (a *Authenticator) retryExisting(ctx context.Context, profile *Profile, cause error) (*auth.User, bool, error) {
	account, err := a.repo.OAuthAccounts().FindByProviderUID(ctx, profile.Provider, profile.ProviderUID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, false, cause
		}
		return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve oauth account after conflict")
	}

	user, err := a.repo.Users().GetByPublicID(ctx, account.UserUID)
	if err != nil {
		return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load oauth user after conflict")
	}

	a.recordLogin(ctx, user, profile, false)
	return user, false, nil
}

func (a *Authenticator) recordLogin(ctx context.Context, user *auth.User, profile *Profile, isNew bool) {
	if err := a.repo.Users().TrackSuccessfulLogin(ctx, user); err != nil {
		a.logger.Warn("failed to track oauth login for %s: %v", user.PublicID, err)
	}

	_ = a.activity.Record(ctx, auth.ActivityEvent{
		EventType:  auth.ActivityEventOAuthLogin,
		UserID:     user.PublicID,
		OccurredAt: time.Now(),
		Metadata: map[string]any{
			"provider":     profile.Provider,
			"provider_uid": profile.ProviderUID,
			"is_new_user":  isNew,
		},
	})
}
