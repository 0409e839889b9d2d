package pg

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"consulta.cl/internal/auth"
	"consulta.cl/internal/customers"
	"consulta.cl/internal/migrate"
	"consulta.cl/internal/seed"
	"consulta.cl/ops/migrations"
)

// startPostgres runs a throwaway PostgreSQL and applies the schema.
func startPostgres(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("consulta_test"),
		postgres.WithUsername("consulta"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	st, err := Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(ctx) })

	if _, err := migrate.NewManager(st.DB(), migrations.SQL()).Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	return st
}

func TestIntegrationEnsureIndexesTwice(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := st.EnsureIndexes(ctx); err != nil {
			t.Fatalf("ensure indexes (run %d): %v", i+1, err)
		}
	}

	var count int
	err := st.DB().QueryRowContext(ctx,
		`select count(*) from pg_indexes where indexname in ('clientes_rut_key', 'usuarios_correo_key')`,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count indexes: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 unique indexes, got %d", count)
	}
}

func TestIntegrationSeedAndLookup(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	first, err := seed.EnsureAdmin(ctx, st.Roles(), st.Users(), seed.DefaultAdmin)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	second, err := seed.EnsureAdmin(ctx, st.Roles(), st.Users(), seed.DefaultAdmin)
	if err != nil {
		t.Fatalf("seed again: %v", err)
	}
	if !first.UserCreated || second.UserCreated || second.RoleCreated {
		t.Fatalf("seeding is not idempotent: %+v / %+v", first, second)
	}
	var users, roles int
	_ = st.DB().QueryRowContext(ctx, `select count(*) from usuarios`).Scan(&users)
	_ = st.DB().QueryRowContext(ctx, `select count(*) from roles`).Scan(&roles)
	if users != 1 || roles != 1 {
		t.Fatalf("expected 1 user and 1 role, got %d/%d", users, roles)
	}

	dup := &auth.User{Username: "otro", Email: seed.DefaultAdmin.Email, PasswordHash: "x"}
	if err := st.Users().Create(ctx, dup); !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	if _, err := st.DB().ExecContext(ctx,
		`insert into clientes (id, rut, atributos) values ('c1', '11.111.111-1', '{"nombre":"Ana"}')`,
	); err != nil {
		t.Fatalf("insert customer: %v", err)
	}

	svc := customers.NewService(st.Customers(), st.Lookups())
	c, err := svc.LookupByRUT(ctx, first.User.ID, "11.111.111-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if c.ID != "c1" || c.Attributes["nombre"] != "Ana" {
		t.Fatalf("unexpected customer: %+v", c)
	}
	if _, err := svc.LookupByRUT(ctx, first.User.ID, "nope"); !errors.Is(err, customers.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var lookups int
	if err := st.DB().QueryRowContext(ctx,
		`select count(*) from historial_consultas where usuario_id = $1 and cliente_id = 'c1' and tipo = 'consulta'`,
		first.User.ID,
	).Scan(&lookups); err != nil {
		t.Fatalf("count history: %v", err)
	}
	if lookups != 1 {
		t.Fatalf("expected one history row, got %d", lookups)
	}
}
