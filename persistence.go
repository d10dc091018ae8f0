package auth

import (
	"context"
	"database/sql"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// OpenDB opens a sqlite backed bun handle and registers the join
// models the relations need. Use ":memory:" for throwaway databases.
func OpenDB(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open database")
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	db.RegisterModel((*UserRole)(nil))
	return db, nil
}

// CreateSchema creates the auth tables and seeds the built-in roles.
// It is idempotent.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*User)(nil),
		(*Role)(nil),
		(*UserRole)(nil),
		(*OAuthAccount)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create schema")
		}
	}

	return seedRoles(ctx, db)
}

func seedRoles(ctx context.Context, db *bun.DB) error {
	seeds := []Role{
		{Name: RoleAdmin, Label: "Administrator"},
		{Name: RoleMember, Label: "Member"},
		{Name: RoleGuest, Label: "Guest"},
	}

	for _, seed := range seeds {
		role := seed
		if _, err := db.NewInsert().
			Model(&role).
			On("CONFLICT (name) DO NOTHING").
			Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to seed roles")
		}
	}
	return nil
}
