// Package seed bootstraps the Admin role and the first administrator.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"consulta.cl/internal/auth"
)

// Admin describes the administrator account to ensure.
type Admin struct {
	Username string
	Email    string
	Password string
}

// DefaultAdmin matches the account documented for fresh installs.
var DefaultAdmin = Admin{
	Username: "admin",
	Email:    "admin@demo.cl",
	Password: "Admin123!",
}

// Result reports what EnsureAdmin did.
type Result struct {
	RoleCreated bool
	UserCreated bool
	User        *auth.User
}

// EnsureAdmin creates the Admin role and the admin user unless they already
// exist. The role is looked up by name and the user by email, so repeated runs
// never insert duplicates.
func EnsureAdmin(ctx context.Context, roles auth.RoleStore, users auth.UserStore, admin Admin) (Result, error) {
	var res Result
	admin.Email = strings.TrimSpace(admin.Email)
	admin.Username = strings.TrimSpace(admin.Username)
	if admin.Email == "" || admin.Username == "" || admin.Password == "" {
		return res, fmt.Errorf("%w: admin username, email and password are required", auth.ErrInvalidInput)
	}

	role, err := roles.FindByName(ctx, auth.AdminRoleName)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		role = &auth.Role{Name: auth.AdminRoleName, Permissions: []string{auth.PermAll}}
		if err := roles.Create(ctx, role); err != nil {
			return res, fmt.Errorf("create role: %w", err)
		}
		res.RoleCreated = true
	case err != nil:
		return res, fmt.Errorf("find role: %w", err)
	}

	existing, err := users.FindByEmail(ctx, admin.Email)
	if err == nil {
		res.User = existing
		return res, nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return res, fmt.Errorf("find admin: %w", err)
	}

	hash, err := auth.HashPassword(admin.Password)
	if err != nil {
		return res, fmt.Errorf("hash password: %w", err)
	}
	user := &auth.User{
		Username:     admin.Username,
		Email:        admin.Email,
		PasswordHash: hash,
		RoleID:       role.ID,
	}
	if err := users.Create(ctx, user); err != nil {
		// A concurrent run inserted the same email first.
		if errors.Is(err, auth.ErrAlreadyExists) {
			existing, findErr := users.FindByEmail(ctx, admin.Email)
			if findErr != nil {
				return res, fmt.Errorf("find admin: %w", findErr)
			}
			res.User = existing
			return res, nil
		}
		return res, fmt.Errorf("create admin: %w", err)
	}
	res.UserCreated = true
	res.User = user
	return res, nil
}
