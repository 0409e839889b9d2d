package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *User
}

// Service authenticates operators against the user store.
type Service struct {
	users  UserStore
	roles  RoleStore
	tokens *Tokens
}

// NewService wires the user and role stores and the token signer.
func NewService(users UserStore, roles RoleStore, tokens *Tokens) *Service {
	return &Service{users: users, roles: roles, tokens: tokens}
}

// Tokens exposes the signer so the HTTP layer can verify bearer tokens.
func (s *Service) Tokens() *Tokens { return s.tokens }

// Login checks identifier (email or username) and password. Unknown users and
// wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, identifier, password string) (Session, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		burnPasswordCheck(password)
		return Session{}, ErrInvalidCredentials
	}
	user, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnPasswordCheck(password)
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("find user: %w", err)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	token, expiresAt, err := s.tokens.Issue(user.ID, user.RoleID)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// Authorize checks that the role named in claims grants perm. A missing or
// unknown role yields ErrForbidden.
func (s *Service) Authorize(ctx context.Context, claims *Claims, perm string) error {
	if claims == nil || strings.TrimSpace(claims.RolID) == "" || s.roles == nil {
		return ErrForbidden
	}
	role, err := s.roles.FindByID(ctx, claims.RolID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrForbidden
		}
		return fmt.Errorf("find role: %w", err)
	}
	if !role.Allows(perm) {
		return ErrForbidden
	}
	return nil
}
