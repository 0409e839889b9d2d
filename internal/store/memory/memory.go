// Package memory keeps users, roles, customers and the lookup history in
// process memory. Used by tests and local runs with DATABASE_URL=memory:.
package memory

import (
	"context"
	"strings"
	"sync"

	"consulta.cl/internal/audit"
	"consulta.cl/internal/auth"
	"consulta.cl/internal/customers"
	"consulta.cl/internal/ids"
)

type Store struct {
	mu        sync.RWMutex
	users     map[string]auth.User
	roles     map[string]auth.Role
	customers map[string]customers.Customer
	lookups   []audit.Lookup
}

func New() *Store {
	return &Store{
		users:     make(map[string]auth.User),
		roles:     make(map[string]auth.Role),
		customers: make(map[string]customers.Customer),
	}
}

func (s *Store) Users() auth.UserStore      { return userStore{s} }
func (s *Store) Roles() auth.RoleStore      { return roleStore{s} }
func (s *Store) Customers() customers.Store { return customerStore{s} }
func (s *Store) Lookups() audit.Store       { return lookupStore{s} }

func (s *Store) Ping(context.Context) error { return nil }

// EnsureIndexes is a no-op: uniqueness is enforced on insert.
func (s *Store) EnsureIndexes(context.Context) error { return nil }

func (s *Store) Close(context.Context) error { return nil }

// PutCustomer inserts or replaces a customer, keyed by rut.
func (s *Store) PutCustomer(c customers.Customer) customers.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = ids.New()
	}
	c.Attributes = cloneMap(c.Attributes)
	s.customers[c.RUT] = c
	return c
}

// LookupHistory returns a copy of every recorded lookup, oldest first.
func (s *Store) LookupHistory() []audit.Lookup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Lookup, len(s.lookups))
	copy(out, s.lookups)
	return out
}

// CountUsers and CountRoles are used to check seeding idempotency.
func (s *Store) CountUsers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *Store) CountRoles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.roles)
}

type userStore struct{ s *Store }

func (u userStore) FindByIdentifier(_ context.Context, identifier string) (*auth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	var byName *auth.User
	for _, user := range u.s.users {
		if user.Email == identifier {
			found := user
			return &found, nil
		}
		if byName == nil && user.Username == identifier {
			found := user
			byName = &found
		}
	}
	if byName == nil {
		return nil, auth.ErrNotFound
	}
	return byName, nil
}

func (u userStore) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, user := range u.s.users {
		if user.Email == email {
			found := user
			return &found, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (u userStore) Create(_ context.Context, user *auth.User) error {
	if strings.TrimSpace(user.Email) == "" {
		return auth.ErrInvalidInput
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, existing := range u.s.users {
		if existing.Email == user.Email {
			return auth.ErrAlreadyExists
		}
	}
	if user.ID == "" {
		user.ID = ids.New()
	}
	u.s.users[user.ID] = *user
	return nil
}

type roleStore struct{ s *Store }

func (r roleStore) FindByID(_ context.Context, id string) (*auth.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	role, ok := r.s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	role.Permissions = append([]string(nil), role.Permissions...)
	return &role, nil
}

func (r roleStore) FindByName(_ context.Context, name string) (*auth.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, role := range r.s.roles {
		if role.Name == name {
			found := role
			found.Permissions = append([]string(nil), role.Permissions...)
			return &found, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r roleStore) Create(_ context.Context, role *auth.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if role.ID == "" {
		role.ID = ids.New()
	}
	stored := *role
	stored.Permissions = append([]string(nil), role.Permissions...)
	r.s.roles[role.ID] = stored
	return nil
}

type customerStore struct{ s *Store }

func (c customerStore) FindByRUT(_ context.Context, rut string) (*customers.Customer, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	found, ok := c.s.customers[rut]
	if !ok {
		return nil, customers.ErrNotFound
	}
	found.Attributes = cloneMap(found.Attributes)
	return &found, nil
}

type lookupStore struct{ s *Store }

func (l lookupStore) Append(_ context.Context, entry *audit.Lookup) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = ids.NewAt(entry.At)
	}
	l.s.lookups = append(l.s.lookups, *entry)
	return nil
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
