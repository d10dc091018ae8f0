package auth_test

import (
	"encoding/json"
	"testing"

	auth "github.com/pydino/go-bracket-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeUser(t *testing.T) {
	user := &auth.User{
		ID:           42,
		Email:        "hidden@example.com",
		PasswordHash: "pbkdf2:sha512:80000$x$y",
		PasswordSalt: "salty",
		Name:         "Visible",
		Username:     "visible",
		IsActive:     true,
		Roles: []*auth.Role{
			{Name: auth.RoleMember, Label: "Member"},
			nil,
		},
	}
	user.GeneratePublicID()

	public := auth.SerializeUser(user)
	require.NotNil(t, public)

	assert.Equal(t, user.PublicID, public.PublicID)
	assert.Equal(t, "visible", public.Username)
	require.Len(t, public.Roles, 1)
	assert.Equal(t, auth.RoleMember, public.Roles[0].Name)

	t.Run("secrets never reach the wire", func(t *testing.T) {
		data, err := json.Marshal(public)
		require.NoError(t, err)

		assert.NotContains(t, string(data), "hidden@example.com")
		assert.NotContains(t, string(data), "pbkdf2")
		assert.NotContains(t, string(data), "salty")
	})

	t.Run("nil user", func(t *testing.T) {
		assert.Nil(t, auth.SerializeUser(nil))
	})
}

func TestSerializeUsers(t *testing.T) {
	a := &auth.User{Username: "a"}
	a.GeneratePublicID()

	out := auth.SerializeUsers([]*auth.User{a, nil})
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Username)
}
