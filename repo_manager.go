package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes the stores the auth flows use, plus the
// transaction boundary they share.
type RepositoryManager interface {
	Users() Users
	Roles() Roles
	OAuthAccounts() OAuthAccounts
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Validate() error
	MustValidate()
}

type mngr struct {
	db            *bun.DB
	users         Users
	roles         Roles
	oauthAccounts OAuthAccounts
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:            db,
		users:         NewUsersRepository(db),
		roles:         NewRolesRepository(db),
		oauthAccounts: NewOAuthAccountsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}
	if m.roles == nil {
		return errors.New("repository roles should be initialized")
	}
	if m.oauthAccounts == nil {
		return errors.New("repository oauthAccounts should be initialized")
	}
	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

// isUniqueViolation tells a unique-index rejection apart from every
// other insert failure, across the drivers the sqliteshim can select
// and postgres. Only these become Conflict; anything else is an
// infrastructure problem and stays Internal.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Roles() Roles {
	return m.roles
}

func (m mngr) OAuthAccounts() OAuthAccounts {
	return m.oauthAccounts
}
