package auth

import "time"

// PublicUser is the account representation safe to hand to any
// caller. The numeric id, email, password hash, and salt never leave
// the server through this shape.
type PublicUser struct {
	PublicID    string       `json:"public_id"`
	Name        string       `json:"name,omitempty"`
	Username    string       `json:"username,omitempty"`
	Picture     string       `json:"picture,omitempty"`
	IsActive    bool         `json:"is_active"`
	ConfirmedAt *time.Time   `json:"confirmed_at,omitempty"`
	CreatedAt   *time.Time   `json:"created_at,omitempty"`
	Roles       []PublicRole `json:"roles,omitempty"`
}

// PublicRole is the serialized role shape.
type PublicRole struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
}

// SerializeUser converts a stored record into its public shape.
func SerializeUser(user *User) *PublicUser {
	if user == nil {
		return nil
	}

	out := &PublicUser{
		PublicID:    user.PublicID,
		Name:        user.Name,
		Username:    user.Username,
		Picture:     user.Picture,
		IsActive:    user.IsActive,
		ConfirmedAt: user.ConfirmedAt,
		CreatedAt:   user.CreatedAt,
	}

	for _, role := range user.Roles {
		if role == nil {
			continue
		}
		out.Roles = append(out.Roles, PublicRole{
			Name:  role.Name,
			Label: role.Label,
		})
	}
	return out
}

// SerializeUsers maps a slice of records, skipping nils.
func SerializeUsers(users []*User) []*PublicUser {
	out := make([]*PublicUser, 0, len(users))
	for _, u := range users {
		if s := SerializeUser(u); s != nil {
			out = append(out, s)
		}
	}
	return out
}
