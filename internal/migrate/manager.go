// Package migrate applies the SQL files under migrations/ to PostgreSQL and
// keeps a bookkeeping table of what ran.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"prodtrack.org/internal/obs"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// ErrNoMigrations is returned by Down when nothing has been applied.
var ErrNoMigrations = errors.New("no migrations applied")

// Manager runs migration and seed files from an fs.FS. Migrations are named
// NNNN_name.up.sql with an optional NNNN_name.down.sql twin; seeds are any
// *.sql file. Each file runs in its own transaction together with its
// bookkeeping row.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	log             logrus.FieldLogger
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager constructs a Manager. Either filesystem may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		seeds:           seeds,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		log:             obs.Logger().WithField("component", "migrate"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending migrations in name order and returns what it applied.
// On failure the returned slice holds the files applied before the error.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	return m.run(ctx, m.migrations, m.migrationsTable, upSuffix)
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	return m.run(ctx, m.seeds, m.seedsTable, ".sql")
}

// Pending lists migrations Up would apply, without applying them.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	files, err := m.plan(ctx, m.migrations, m.migrationsTable, upSuffix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.name)
	}
	return names, nil
}

// Status returns applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx, m.migrationsTable)
}

// Down rolls back the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	applied, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", ErrNoMigrations
	}
	last := applied[len(applied)-1]
	down := strings.TrimSuffix(last, upSuffix) + downSuffix
	p, err := findFile(m.migrations, down)
	if err != nil {
		return "", fmt.Errorf("missing %s for %s", down, last)
	}
	body, err := fs.ReadFile(m.migrations, p)
	if err != nil {
		return "", err
	}
	record := fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable)
	if err := m.execFile(ctx, string(body), record, last); err != nil {
		return "", fmt.Errorf("roll back %s: %w", last, err)
	}
	m.log.WithField("file", last).Info("migration rolled back")
	return last, nil
}

func (m *Manager) run(ctx context.Context, fsys fs.FS, table, suffix string) ([]string, error) {
	files, err := m.plan(ctx, fsys, table, suffix)
	if err != nil {
		return nil, err
	}
	record := fmt.Sprintf(`insert into %s (name, checksum) values ($1, $2)`, table)

	var applied []string
	for _, f := range files {
		if err := m.execFile(ctx, f.body, record, f.name, f.checksum); err != nil {
			return applied, fmt.Errorf("apply %s: %w", f.name, err)
		}
		m.log.WithFields(logrus.Fields{"file": f.name, "checksum": f.checksum[:12]}).Info("migration applied")
		applied = append(applied, f.name)
	}
	return applied, nil
}

// plan returns the files in fsys not yet recorded in table.
func (m *Manager) plan(ctx context.Context, fsys fs.FS, table, suffix string) ([]sqlFile, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	done, err := m.history(ctx, table)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(fsys, suffix)
	if err != nil {
		return nil, err
	}
	pending := files[:0]
	for _, f := range files {
		if !slices.Contains(done, f.name) {
			pending = append(pending, f)
		}
	}
	return pending, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
	name       text primary key,
	checksum   text not null default '',
	applied_at timestamptz not null default now()
)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

// execFile runs every statement of body and then the bookkeeping statement
// in a single transaction.
func (m *Manager) execFile(ctx context.Context, body, record string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) history(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type sqlFile struct {
	name     string
	body     string
	checksum string
}

func collectSQL(fsys fs.FS, suffix string) ([]sqlFile, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []sqlFile
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || !strings.HasSuffix(name, suffix) {
			return nil
		}
		// ".sql" would also match down files when collecting seeds.
		if suffix != downSuffix && strings.HasSuffix(name, downSuffix) {
			return nil
		}
		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(body)
		files = append(files, sqlFile{name: name, body: string(body), checksum: hex.EncodeToString(sum[:])})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	slices.SortFunc(files, func(a, b sqlFile) int { return strings.Compare(a.name, b.name) })
	return files, nil
}

func findFile(fsys fs.FS, base string) (string, error) {
	if fsys == nil {
		return "", fs.ErrNotExist
	}
	var found string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && path.Base(p) == base {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fs.ErrNotExist
	}
	return found, nil
}

// splitStatements splits SQL on semicolons that are outside single-quoted
// literals and "--" comments. Comments are dropped; blank statements are
// skipped.
func splitStatements(src string) []string {
	var (
		stmts   []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case !quoted && c == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			current.WriteByte('\n')
		case c == '\'':
			quoted = !quoted
			current.WriteByte(c)
		case c == ';' && !quoted:
			current.WriteByte(c)
			flush()
		default:
			current.WriteByte(c)
		}
	}
	flush()
	return stmts
}
