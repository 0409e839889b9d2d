package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"consulta.cl/internal/audit"
	"consulta.cl/internal/auth"
	"consulta.cl/internal/customers"
	"consulta.cl/internal/ids"
)

// IndexStatements create the uniqueness constraints on customer rut and user email.
// Each statement is a no-op when the index already exists.
var IndexStatements = []string{
	`create unique index if not exists clientes_rut_key on clientes (rut)`,
	`create unique index if not exists usuarios_correo_key on usuarios (correo)`,
}

type Store struct {
	db *sql.DB
}

// Open connects through the pgx stdlib driver. The pool is shared by all requests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle (tests, migrations).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close(context.Context) error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, stmt := range IndexStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure index: %w", err)
		}
	}
	return nil
}

func (s *Store) Users() auth.UserStore      { return &userStore{db: s.db} }
func (s *Store) Roles() auth.RoleStore      { return &roleStore{db: s.db} }
func (s *Store) Customers() customers.Store { return &customerStore{db: s.db} }
func (s *Store) Lookups() audit.Store       { return &lookupStore{db: s.db} }

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

const selectUser = `select id, nombre_usuario, correo, contrasena_hash, coalesce(rol_id, '') from usuarios`

func (s *userStore) FindByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	// An email match wins over a username that happens to equal someone's email.
	row := s.db.QueryRowContext(ctx,
		selectUser+` where correo = $1 or nombre_usuario = $1 order by (correo = $1) desc limit 1`, identifier)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, selectUser+` where correo = $1`, email)
	return scanUser(row)
}

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	if strings.TrimSpace(u.Email) == "" {
		return auth.ErrInvalidInput
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into usuarios(id, nombre_usuario, correo, contrasena_hash, rol_id) values ($1,$2,$3,$4,nullif($5,''))`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.RoleID,
	)
	if isUniqueViolation(err) {
		return auth.ErrAlreadyExists
	}
	return err
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.RoleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Role store ---------------------------------------------------------------
type roleStore struct{ db *sql.DB }

func (s *roleStore) FindByID(ctx context.Context, id string) (*auth.Role, error) {
	return scanRole(s.db.QueryRowContext(ctx, `select id, nombre_rol, permisos from roles where id = $1`, id))
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	return scanRole(s.db.QueryRowContext(ctx, `select id, nombre_rol, permisos from roles where nombre_rol = $1`, name))
}

func scanRole(row *sql.Row) (*auth.Role, error) {
	var (
		role  auth.Role
		perms []byte
	)
	if err := row.Scan(&role.ID, &role.Name, &perms); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &role.Permissions); err != nil {
			return nil, fmt.Errorf("decode permisos: %w", err)
		}
	}
	return &role, nil
}

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	perms := role.Permissions
	if perms == nil {
		perms = []string{}
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into roles(id, nombre_rol, permisos) values ($1,$2,$3)`,
		role.ID, role.Name, raw,
	)
	if isUniqueViolation(err) {
		return auth.ErrAlreadyExists
	}
	return err
}

// Customer store -----------------------------------------------------------
type customerStore struct{ db *sql.DB }

func (s *customerStore) FindByRUT(ctx context.Context, rut string) (*customers.Customer, error) {
	row := s.db.QueryRowContext(ctx, `select id, rut, atributos from clientes where rut = $1`, rut)
	var (
		c     customers.Customer
		attrs []byte
	)
	if err := row.Scan(&c.ID, &c.RUT, &attrs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, customers.ErrNotFound
		}
		return nil, err
	}
	c.Attributes = map[string]any{}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &c.Attributes); err != nil {
			return nil, fmt.Errorf("decode atributos: %w", err)
		}
	}
	return &c, nil
}

// Lookup history -----------------------------------------------------------
type lookupStore struct{ db *sql.DB }

func (s *lookupStore) Append(ctx context.Context, entry *audit.Lookup) error {
	if entry.ID == "" {
		entry.ID = ids.NewAt(entry.At)
	}
	_, err := s.db.ExecContext(ctx,
		`insert into historial_consultas(id, usuario_id, cliente_id, fecha_consulta, tipo, detalle)
		 values ($1,$2,$3,$4,$5,$6)`,
		entry.ID, entry.UserID, entry.CustomerID, entry.At, entry.Type, entry.Detail,
	)
	return err
}
