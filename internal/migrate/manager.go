package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

const defaultMigrationsTable = "schema_migrations"

// Manager applies SQL migrations read from an fs.FS (usually the embedded
// ops/migrations set). Files are named NNNN_name.up.sql / NNNN_name.down.sql.
type Manager struct {
	db              *sql.DB
	files           fs.FS
	migrationsTable string
	now             func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, files fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		files:           files,
		migrationsTable: defaultMigrationsTable,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations and returns the names it applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx)
	if err != nil {
		return nil, err
	}
	names, err := m.collect(".up.sql")
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, name := range names {
		if executed[name] {
			continue
		}
		if err := m.exec(ctx, name); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", name, err)
		}
		if err := m.insertRecord(ctx, name); err != nil {
			return applied, err
		}
		applied = append(applied, name)
	}
	return applied, nil
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return "", err
	}
	executed, err := m.history(ctx)
	if err != nil {
		return "", err
	}
	if len(executed) == 0 {
		return "", errors.New("no migrations applied")
	}
	last := executed[len(executed)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if _, err := fs.Stat(m.files, down); err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	if err := m.exec(ctx, down); err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last, err)
	}
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last); err != nil {
		return "", err
	}
	return last, nil
}

// Status returns ordered applied migrations.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx)
}

func (m *Manager) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		);`, m.migrationsTable)
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

func (m *Manager) exec(ctx context.Context, name string) error {
	sqlBytes, err := fs.ReadFile(m.files, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(sqlBytes)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) insertRecord(ctx context.Context, name string) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, m.migrationsTable),
		name, m.now().UTC())
	return err
}

func (m *Manager) listExecuted(ctx context.Context) (map[string]bool, error) {
	names, err := m.history(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(names))
	for _, name := range names {
		result[name] = true
	}
	return result, nil
}

func (m *Manager) history(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, m.migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func (m *Manager) collect(suffix string) ([]string, error) {
	if m.files == nil {
		return nil, nil
	}
	var names []string
	err := fs.WalkDir(m.files, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			names = append(names, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements naively splits SQL by semicolon, ignoring semicolons inside quotes.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString bool
	for _, r := range sql {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
