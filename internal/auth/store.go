package auth

import "context"

// UserStore persists operator accounts.
type UserStore interface {
	// FindByIdentifier matches either the email or the username.
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u *User) error
}

// RoleStore persists roles.
type RoleStore interface {
	FindByID(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	Create(ctx context.Context, role *Role) error
}
