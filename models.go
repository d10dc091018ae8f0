package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Built-in role names seeded by CreateSchema.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleGuest  = "guest"
)

// User is the account record. The numeric primary key stays inside
// the database; everything external (claims, cookies, serializers)
// uses PublicID.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID       int64  `bun:"id,pk,autoincrement" json:"-"`
	PublicID string `bun:"public_id,notnull,unique" json:"public_id"`

	Name     string `bun:"name" json:"name,omitempty"`
	Email    string `bun:"email,notnull,unique" json:"email,omitempty"`
	Username string `bun:"username,nullzero,unique" json:"username,omitempty"`
	Picture  string `bun:"picture,nullzero" json:"picture,omitempty"`

	// Both nullable: OAuth-only accounts never get a password.
	PasswordHash string `bun:"password_hash,nullzero" json:"-"`
	PasswordSalt string `bun:"password_salt,nullzero" json:"-"`

	IsActive    bool       `bun:"is_active" json:"is_active"`
	ConfirmedAt *time.Time `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`

	// TokensValidFrom is the revocation watermark: tokens issued
	// before it are rejected even if their signature still checks out.
	TokensValidFrom *time.Time `bun:"tokens_valid_from,nullzero" json:"-"`

	LoginAttempts  int        `bun:"login_attempts" json:"-"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at,nullzero" json:"-"`
	LoggedInAt     *time.Time `bun:"logged_in_at,nullzero" json:"-"`

	CreatedAt *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`

	Roles []*Role `bun:"m2m:user_roles,join:User=Role" json:"roles,omitempty"`
}

// GeneratePublicID assigns a fresh random public identifier. Call it
// once, at creation; the value never changes afterwards.
func (u *User) GeneratePublicID() {
	u.PublicID = uuid.NewString()
}

// HasPassword reports whether the account can do password login at
// all. OAuth-only accounts return false.
func (u *User) HasPassword() bool {
	return u.PasswordHash != "" && u.PasswordSalt != ""
}

// RoleNames flattens the loaded role relation.
func (u *User) RoleNames() []string {
	if len(u.Roles) == 0 {
		return nil
	}
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		if r != nil && r.Name != "" {
			names = append(names, r.Name)
		}
	}
	return names
}

// Role is a named grant. Name is the stable machine identifier,
// Label the display string.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rol"`

	ID    int64  `bun:"id,pk,autoincrement" json:"-"`
	Name  string `bun:"name,notnull,unique" json:"name"`
	Label string `bun:"label" json:"label,omitempty"`
}

// UserRole joins users to roles. UserUID references users.public_id
// so role lookups can run straight off token claims.
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:url"`

	ID      int64  `bun:"id,pk,autoincrement" json:"-"`
	UserUID string `bun:"user_uid,notnull" json:"-"`
	RoleID  int64  `bun:"role_id,notnull" json:"-"`

	User *User `bun:"rel:belongs-to,join:user_uid=public_id" json:"-"`
	Role *Role `bun:"rel:belongs-to,join:role_id=id" json:"-"`
}

// OAuthAccount links a provider identity to a local user. The
// (provider, provider_uid) pair is unique; a concurrent duplicate
// insert fails there and the caller re-reads instead of duplicating
// the user.
type OAuthAccount struct {
	bun.BaseModel `bun:"table:oauth_accounts,alias:oac"`

	ID          int64          `bun:"id,pk,autoincrement" json:"-"`
	Provider    string         `bun:"provider,notnull,unique:provider_uid_idx" json:"provider"`
	ProviderUID string         `bun:"provider_uid,notnull,unique:provider_uid_idx" json:"provider_uid"`
	UserUID     string         `bun:"user_uid,notnull" json:"-"`
	Payload     map[string]any `bun:"payload,type:jsonb" json:"-"`

	CreatedAt *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`

	User *User `bun:"rel:belongs-to,join:user_uid=public_id" json:"-"`
}
