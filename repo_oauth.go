package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// OAuthAccounts is the persistence surface for provider credentials.
type OAuthAccounts interface {
	FindByProviderUID(ctx context.Context, provider, providerUID string) (*OAuthAccount, error)
	FindByProviderUIDTx(ctx context.Context, tx bun.IDB, provider, providerUID string) (*OAuthAccount, error)
	Create(ctx context.Context, record *OAuthAccount) (*OAuthAccount, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *OAuthAccount) (*OAuthAccount, error)
	ListByUser(ctx context.Context, userUID string) ([]*OAuthAccount, error)
}

type oauthAccounts struct {
	db *bun.DB
}

func NewOAuthAccountsRepository(db *bun.DB) OAuthAccounts {
	return &oauthAccounts{db: db}
}

func (a *oauthAccounts) FindByProviderUID(ctx context.Context, provider, providerUID string) (*OAuthAccount, error) {
	return a.FindByProviderUIDTx(ctx, a.db, provider, providerUID)
}

func (a *oauthAccounts) FindByProviderUIDTx(ctx context.Context, tx bun.IDB, provider, providerUID string) (*OAuthAccount, error) {
	record := &OAuthAccount{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", provider).
		Where("?TableAlias.provider_uid = ?", providerUID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"provider":     provider,
					"provider_uid": providerUID,
				})
		}
		return nil, err
	}
	return record, nil
}

func (a *oauthAccounts) Create(ctx context.Context, record *OAuthAccount) (*OAuthAccount, error) {
	return a.CreateTx(ctx, a.db, record)
}

// CreateTx inserts a provider credential. The unique (provider,
// provider_uid) index is the backstop against two concurrent logins
// for the same provider identity; the violation comes back as a
// Conflict the caller can recover from by re reading.
func (a *oauthAccounts) CreateTx(ctx context.Context, tx bun.IDB, record *OAuthAccount) (*OAuthAccount, error) {
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "oauth account already exists").
				WithTextCode(TextCodeDuplicateRecord).
				WithMetadata(map[string]any{
					"provider":     record.Provider,
					"provider_uid": record.ProviderUID,
				})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not create oauth account").
			WithMetadata(map[string]any{
				"provider":     record.Provider,
				"provider_uid": record.ProviderUID,
			})
	}
	return record, nil
}

func (a *oauthAccounts) ListByUser(ctx context.Context, userUID string) ([]*OAuthAccount, error) {
	var records []*OAuthAccount
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_uid = ?", userUID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}
