package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
)

// Login throttling: after MaxLoginAttempts consecutive failures the
// account cools down for CoolDownPeriod before new attempts count.
var (
	MaxLoginAttempts = 5
	CoolDownPeriod   = "24h"
)

// UserProvider resolves identities against the users repository and
// verifies passwords. Every verification miss, including unknown
// accounts and passwordless OAuth-only accounts, surfaces as the same
// ErrInvalidCredentials so responses cannot be used to enumerate
// registered emails.
type UserProvider struct {
	repo   RepositoryManager
	logger Logger
}

func NewUserProvider(repo RepositoryManager) *UserProvider {
	return &UserProvider{
		repo:   repo,
		logger: defLogger{},
	}
}

func (u *UserProvider) WithLogger(logger Logger) *UserProvider {
	if logger != nil {
		u.logger = logger
	}
	return u
}

var _ IdentityProvider = (*UserProvider)(nil)

// VerifyIdentity authenticates identifier plus password. Identifier
// can be a username or an email; resolution tries username first.
func (u *UserProvider) VerifyIdentity(ctx context.Context, identifier, password string) (Identity, error) {
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := u.repo.Users().GetByIdentifier(ctx, identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			u.logger.Debug("login miss: no account for identifier")
			return nil, ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "identity lookup failed")
	}

	if u.isCoolingDown(user) {
		u.logger.Warn("login throttled for user %s", user.PublicID)
		return nil, ErrTooManyLoginAttempts
	}

	if !user.HasPassword() {
		// OAuth-only account; same answer as a wrong password.
		u.trackFailure(ctx, user)
		return nil, ErrInvalidCredentials
	}

	if err := ComparePasswordAndHash(password+user.PasswordSalt, user.PasswordHash); err != nil {
		if IsInvalidCredentials(err) {
			u.trackFailure(ctx, user)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := u.repo.Users().TrackSuccessfulLogin(ctx, user); err != nil {
		u.logger.Error("failed to reset login attempts for %s: %v", user.PublicID, err)
	}

	return NewIdentityFromUser(user), nil
}

// FindIdentityByIdentifier resolves without verifying a password,
// for flows that already hold a validated token.
func (u *UserProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (Identity, error) {
	user, err := u.repo.Users().GetByIdentifier(ctx, identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "identity lookup failed")
	}
	return NewIdentityFromUser(user), nil
}

// SetPassword salts, hashes, and stores a new credential. The store
// bumps the tokens-valid-from watermark as part of the same write.
func (u *UserProvider) SetPassword(ctx context.Context, publicID, password string) error {
	if password == "" {
		return ErrEmptyPassword
	}

	salt, err := NewSalt()
	if err != nil {
		return err
	}

	hash, err := HashPassword(password + salt)
	if err != nil {
		return err
	}

	return u.repo.Users().SetPassword(ctx, publicID, hash, salt)
}

func (u *UserProvider) isCoolingDown(user *User) bool {
	if user.LoginAttempts < MaxLoginAttempts {
		return false
	}
	if user.LoginAttemptAt == nil {
		return false
	}
	return IsWithinThresholdPeriod(*user.LoginAttemptAt, CoolDownPeriod)
}

func (u *UserProvider) trackFailure(ctx context.Context, user *User) {
	if err := u.repo.Users().TrackAttemptedLogin(ctx, user); err != nil {
		u.logger.Error("failed to track login attempt for %s: %v", user.PublicID, err)
	}
}

// authIdentity is the concrete Identity the provider hands back.
type authIdentity struct {
	publicID  string
	username  string
	email     string
	roles     []string
	active    bool
	confirmed bool
}

// NewIdentityFromUser snapshots the parts of a user record the auth
// flows care about.
func NewIdentityFromUser(user *User) Identity {
	if user == nil {
		return nil
	}
	return &authIdentity{
		publicID:  user.PublicID,
		username:  user.Username,
		email:     user.Email,
		roles:     user.RoleNames(),
		active:    user.IsActive,
		confirmed: user.ConfirmedAt != nil,
	}
}

func (i *authIdentity) ID() string       { return i.publicID }
func (i *authIdentity) Username() string { return i.username }
func (i *authIdentity) Email() string    { return i.email }
func (i *authIdentity) Roles() []string {
	return append([]string(nil), i.roles...)
}

// Active reports whether the account finished email confirmation or
// came in through a provider that vouched for it.
func (i *authIdentity) Active() bool { return i.active }

// Confirmed reports whether the email was verified.
func (i *authIdentity) Confirmed() bool { return i.confirmed }
