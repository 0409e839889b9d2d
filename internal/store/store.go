// Package store picks the persistence backend from the connection string.
package store

import (
	"context"
	"strings"

	"consulta.cl/internal/audit"
	"consulta.cl/internal/auth"
	"consulta.cl/internal/customers"
	"consulta.cl/internal/store/memory"
	"consulta.cl/internal/store/mongo"
	"consulta.cl/internal/store/pg"
)

// Store is what the API and the maintenance tooling need from a backend.
type Store interface {
	Users() auth.UserStore
	Roles() auth.RoleStore
	Customers() customers.Store
	Lookups() audit.Store

	Ping(ctx context.Context) error
	// EnsureIndexes creates the unique constraints on customer rut and user email.
	EnsureIndexes(ctx context.Context) error
	Close(ctx context.Context) error
}

var (
	_ Store = (*pg.Store)(nil)
	_ Store = (*mongo.Store)(nil)
	_ Store = (*memory.Store)(nil)
)

// Kind reports which backend Open would use for dsn: "mongo", "memory" or "postgres".
func Kind(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "mongodb://"), strings.HasPrefix(dsn, "mongodb+srv://"):
		return "mongo"
	case strings.HasPrefix(dsn, "memory:"):
		return "memory"
	default:
		return "postgres"
	}
}

// Open connects to the backend named by dsn. mongoDatabase applies only to
// Mongo URIs without a database path.
func Open(ctx context.Context, dsn, mongoDatabase string) (Store, error) {
	switch Kind(dsn) {
	case "mongo":
		s, err := mongo.Open(ctx, dsn, mongoDatabase)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return memory.New(), nil
	default:
		s, err := pg.Open(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
