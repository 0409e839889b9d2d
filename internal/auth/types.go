package auth

// User is an operator allowed to look up customers.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	RoleID       string
}

// Role groups permissions. A "*" entry grants everything.
type Role struct {
	ID          string
	Name        string
	Permissions []string
}

// Allows reports whether the role carries perm or the wildcard.
func (r Role) Allows(perm string) bool {
	for _, p := range r.Permissions {
		if p == PermAll || p == perm {
			return true
		}
	}
	return false
}
