package auth

import (
	"context"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Roles is the persistence surface for named grants and their
// assignment to users.
type Roles interface {
	RoleProvider
	GetByName(ctx context.Context, name string) (*Role, error)
	Ensure(ctx context.Context, tx bun.IDB, name, label string) (*Role, error)
	Assign(ctx context.Context, tx bun.IDB, userUID, roleName string) error
	Revoke(ctx context.Context, tx bun.IDB, userUID, roleName string) error
}

type roles struct {
	db *bun.DB
}

func NewRolesRepository(db *bun.DB) Roles {
	return &roles{db: db}
}

func (r *roles) GetByName(ctx context.Context, name string) (*Role, error) {
	record := &Role{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"name": name})
		}
		return nil, err
	}
	return record, nil
}

// Ensure creates the role if missing and returns the stored row
// either way.
func (r *roles) Ensure(ctx context.Context, tx bun.IDB, name, label string) (*Role, error) {
	if err := ValidateRoleName(name); err != nil {
		return nil, err
	}

	record := &Role{Name: name, Label: label}
	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT (name) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	err = tx.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Assign grants a role to a user, idempotently.
func (r *roles) Assign(ctx context.Context, tx bun.IDB, userUID, roleName string) error {
	role, err := r.Ensure(ctx, tx, roleName, "")
	if err != nil {
		return err
	}

	link := &UserRole{UserUID: userUID, RoleID: role.ID}
	exists, err := tx.NewSelect().
		Model((*UserRole)(nil)).
		Where("?TableAlias.user_uid = ?", userUID).
		Where("?TableAlias.role_id = ?", role.ID).
		Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = tx.NewInsert().Model(link).Exec(ctx)
	return err
}

func (r *roles) Revoke(ctx context.Context, tx bun.IDB, userUID, roleName string) error {
	role, err := r.GetByName(ctx, roleName)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil
		}
		return err
	}

	_, err = tx.NewDelete().
		Model((*UserRole)(nil)).
		Where("?TableAlias.user_uid = ?", userUID).
		Where("?TableAlias.role_id = ?", role.ID).
		Exec(ctx)
	return err
}

// FindRoleNames loads the role names granted to a user, keyed by the
// public id carried in token claims.
func (r *roles) FindRoleNames(ctx context.Context, publicID string) ([]string, error) {
	var names []string
	err := r.db.NewSelect().
		Model((*UserRole)(nil)).
		Column("rol.name").
		Join("JOIN roles AS rol ON rol.id = ?TableAlias.role_id").
		Where("?TableAlias.user_uid = ?", publicID).
		Scan(ctx, &names)
	if err != nil {
		return nil, err
	}
	return names, nil
}
