package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// RoleSet is an unordered collection of role names.
type RoleSet map[string]struct{}

// NewRoleSet builds a set, dropping empty names.
func NewRoleSet(names ...string) RoleSet {
	set := make(RoleSet, len(names))
	for _, n := range names {
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Contains reports membership of a single role.
func (s RoleSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// ContainsAll reports whether every name is in the set.
func (s RoleSet) ContainsAll(names ...string) bool {
	for _, n := range names {
		if !s.Contains(n) {
			return false
		}
	}
	return true
}

// ContainsAny reports whether at least one name is in the set.
func (s RoleSet) ContainsAny(names ...string) bool {
	for _, n := range names {
		if s.Contains(n) {
			return true
		}
	}
	return false
}

// Names returns the members in unspecified order.
func (s RoleSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	return out
}

// RequireRoles succeeds only when held covers every required role.
// An empty required list always passes; missing roles are reported in
// the error metadata, not the message.
func RequireRoles(held []string, required ...string) error {
	if len(required) == 0 {
		return nil
	}

	set := NewRoleSet(held...)
	missing := make([]string, 0, len(required))
	for _, r := range required {
		if !set.Contains(r) {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return ErrForbidden.Clone().WithMetadata(map[string]any{
			"missing_roles": missing,
		})
	}
	return nil
}

// AcceptRoles succeeds when held intersects accepted. An empty
// accepted list passes any authenticated caller.
func AcceptRoles(held []string, accepted ...string) error {
	if len(accepted) == 0 {
		return nil
	}
	if NewRoleSet(held...).ContainsAny(accepted...) {
		return nil
	}
	return ErrForbidden.Clone().WithMetadata(map[string]any{
		"accepted_roles": accepted,
	})
}

// RoleProviderFunc adapts a function to RoleProvider.
type RoleProviderFunc func(ctx context.Context, publicID string) ([]string, error)

func (f RoleProviderFunc) FindRoleNames(ctx context.Context, publicID string) ([]string, error) {
	return f(ctx, publicID)
}

// staticRoleProvider serves a fixed role list, useful in tests and
// for single-tenant tools.
type staticRoleProvider struct {
	roles []string
}

// NewStaticRoleProvider returns a RoleProvider that always answers
// with the given roles.
func NewStaticRoleProvider(roles ...string) RoleProvider {
	return &staticRoleProvider{roles: roles}
}

func (p *staticRoleProvider) FindRoleNames(_ context.Context, _ string) ([]string, error) {
	return append([]string(nil), p.roles...), nil
}

// ValidateRoleName rejects empty or oversized role names before they
// reach storage.
func ValidateRoleName(name string) error {
	if name == "" {
		return goerrors.New("role name cannot be empty", goerrors.CategoryValidation)
	}
	if len(name) > 64 {
		return goerrors.New("role name exceeds 64 characters", goerrors.CategoryValidation)
	}
	return nil
}
