package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the persistence surface for accounts. Tx variants run
// against a caller supplied transaction; the plain forms hit the
// manager's database handle.
type Users interface {
	GetByPublicID(ctx context.Context, publicID string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
	GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string) (*User, error)
	Create(ctx context.Context, record *User) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	SetPassword(ctx context.Context, publicID, passwordHash, passwordSalt string) error
	SetPasswordTx(ctx context.Context, tx bun.IDB, publicID, passwordHash, passwordSalt string) error
	Confirm(ctx context.Context, publicID string, at time.Time) (*User, error)
	ConfirmTx(ctx context.Context, tx bun.IDB, publicID string, at time.Time) (*User, error)
	TrackAttemptedLogin(ctx context.Context, user *User) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
	TokensValidFrom(ctx context.Context, publicID string) (*time.Time, error)
}

type users struct {
	db *bun.DB
}

func NewUsersRepository(db *bun.DB) Users {
	return &users{db: db}
}

var _ ValidSinceProvider = (Users)(nil)

func (a *users) GetByPublicID(ctx context.Context, publicID string) (*User, error) {
	return a.getByColumn(ctx, a.db, "public_id", publicID)
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.getByColumn(ctx, a.db, "email", email)
}

func (a *users) GetByUsername(ctx context.Context, username string) (*User, error) {
	return a.getByColumn(ctx, a.db, "username", username)
}

// GetByIdentifier resolves a user from whatever handle the caller
// has: a public id when it parses as a uuid, otherwise username then
// email, in that order.
func (a *users) GetByIdentifier(ctx context.Context, identifier string) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier)
}

func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string) (*User, error) {
	type option struct {
		column string
		value  string
	}

	options := []option{}
	if _, err := uuid.Parse(identifier); err == nil {
		options = append(options, option{column: "public_id", value: identifier})
	} else {
		options = append(options,
			option{column: "username", value: identifier},
			option{column: "email", value: identifier},
		)
	}

	for _, opt := range options {
		record, err := a.getByColumn(ctx, tx, opt.column, opt.value)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}
		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	return a.CreateTx(ctx, a.db, record)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	prepareUserDefaults(record)

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "user already exists").
				WithTextCode(TextCodeDuplicateRecord).
				WithMetadata(map[string]any{
					"email": record.Email,
				})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user").
			WithMetadata(map[string]any{
				"email": record.Email,
			})
	}
	return record, nil
}

func (a *users) SetPassword(ctx context.Context, publicID, passwordHash, passwordSalt string) error {
	return a.SetPasswordTx(ctx, a.db, publicID, passwordHash, passwordSalt)
}

// SetPasswordTx stores the new credential and bumps the revocation
// watermark in the same statement, so tokens minted before the change
// die with it.
func (a *users) SetPasswordTx(ctx context.Context, tx bun.IDB, publicID, passwordHash, passwordSalt string) error {
	now := time.Now()
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("password_salt = ?", passwordSalt).
		Set("tokens_valid_from = ?", now).
		Set("updated_at = ?", now).
		Where("?TableAlias.public_id = ?", publicID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, publicID)
}

func (a *users) Confirm(ctx context.Context, publicID string, at time.Time) (*User, error) {
	return a.ConfirmTx(ctx, a.db, publicID, at)
}

func (a *users) ConfirmTx(ctx context.Context, tx bun.IDB, publicID string, at time.Time) (*User, error) {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("confirmed_at = ?", at).
		Set("is_active = ?", true).
		Set("updated_at = ?", at).
		Where("?TableAlias.public_id = ?", publicID).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res, publicID); err != nil {
		return nil, err
	}
	return a.getByColumn(ctx, tx, "public_id", publicID)
}

func (a *users) TrackAttemptedLogin(ctx context.Context, user *User) error {
	_, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("login_attempt_at = ?", time.Now()).
		Set("login_attempts = login_attempts + 1").
		Where("?TableAlias.id = ?", user.ID).
		Exec(ctx)
	return err
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	_, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("logged_in_at = ?", time.Now()).
		Set("login_attempt_at = NULL").
		Set("login_attempts = 0").
		Where("?TableAlias.id = ?", user.ID).
		Exec(ctx)
	return err
}

// TokensValidFrom satisfies ValidSinceProvider for the revocation
// wrapping validator.
func (a *users) TokensValidFrom(ctx context.Context, publicID string) (*time.Time, error) {
	var validFrom *time.Time
	err := a.db.NewSelect().
		Model((*User)(nil)).
		Column("tokens_valid_from").
		Where("?TableAlias.public_id = ?", publicID).
		Limit(1).
		Scan(ctx, &validFrom)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"public_id": publicID})
		}
		return nil, err
	}
	return validFrom, nil
}

func (a *users) getByColumn(ctx context.Context, tx bun.IDB, column, value string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Relation("Roles").
		Where("?TableAlias."+column+" = ?", value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{column: value})
		}
		return nil, err
	}
	return record, nil
}

func requireAffected(res interface{ RowsAffected() (int64, error) }, publicID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{"public_id": publicID})
	}
	return nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}
	if record.PublicID == "" {
		record.GeneratePublicID()
	}
	if record.CreatedAt == nil {
		now := time.Now()
		record.CreatedAt = &now
	}
}
