package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Dialect selects placeholder style and pragmas for the underlying database.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqlStore implements Store over database/sql. Queries are written with ? placeholders
// and rebound for Postgres.
type sqlStore struct {
	DB      *sql.DB
	dialect Dialect
	onClose func()

	// Prepared statements for hot paths (prepared at open, closed in Close).
	stmtTouchAgent    *sql.Stmt
	stmtInsertMessage *sql.Stmt
	stmtListUnread    *sql.Stmt
	stmtCountUnread   *sql.Stmt
}

// OpenOptions configures how to open the store (driver and location).
type OpenOptions struct {
	Driver string // "sqlite" (default) or "postgres"
	Home   string // for sqlite: directory containing protected/db.sqlite
	DSN    string // sqlite file path or DSN when Home is empty
}

// Open opens the default SQLite store at home/protected/db.sqlite.
func Open(home string) (Store, error) {
	return OpenWithOptions(OpenOptions{Driver: "sqlite", Home: home})
}

// OpenWithOptions opens a store based on driver and options. Driver "" or "sqlite" uses Home or DSN.
// For driver "postgres", the caller must use postgres.Open(dsn) from internal/store/postgres to avoid import cycles.
func OpenWithOptions(opts OpenOptions) (Store, error) {
	if opts.Driver == "postgres" {
		return nil, errors.New("for postgres use postgres.Open(dsn) from github.com/SikeGottem/agent-comms/internal/store/postgres")
	}
	if opts.Home == "" && opts.DSN != "" {
		return openSQLiteDSN(opts.DSN)
	}
	return openSQLite(opts.Home)
}

func openSQLite(home string) (*sqlStore, error) {
	dbPath := filepath.Join(home, "protected", "db.sqlite")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	return openSQLiteDSN("file:" + dbPath + "?_pragma=busy_timeout(5000)")
}

func openSQLiteDSN(dsn string) (*sqlStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite DSN required")
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &sqlStore{DB: db, dialect: DialectSQLite}
	if err := s.initPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an already opened database (used by the postgres package), runs
// migrations and prepares statements. onClose, if set, runs after the DB is closed.
func NewSQL(ctx context.Context, db *sql.DB, d Dialect, onClose func()) (Store, error) {
	s := &sqlStore{DB: db, dialect: d, onClose: onClose}
	if err := s.init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) init(ctx context.Context) error {
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	return s.prepareStatements(ctx)
}

// EnsureSchema creates the store at home, runs migrations, and closes it; used to bootstrap the DB.
func EnsureSchema(home string) error {
	s, err := Open(home)
	if err != nil {
		return err
	}
	return s.Close()
}

func (s *sqlStore) prepareStatements(ctx context.Context) error {
	pairs := []struct {
		dest **sql.Stmt
		q    string
	}{
		{&s.stmtTouchAgent, `UPDATE agents SET last_seen_at = ? WHERE id = ?`},
		{&s.stmtInsertMessage, `INSERT INTO messages(id, from_agent, to_agent, channel, type, content, metadata, priority, created_at, reply_to, pinned, expires_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&s.stmtListUnread, `SELECT ` + messageColumns + ` FROM messages WHERE ` + unreadWhere + ` ORDER BY ` + priorityOrder + `, created_at ASC`},
		{&s.stmtCountUnread, `SELECT COUNT(*) FROM messages WHERE ` + unreadWhere},
	}
	for _, p := range pairs {
		st, err := s.DB.PrepareContext(ctx, s.rebind(p.q))
		if err != nil {
			return err
		}
		*p.dest = st
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	for _, st := range []*sql.Stmt{s.stmtTouchAgent, s.stmtInsertMessage, s.stmtListUnread, s.stmtCountUnread} {
		if st != nil {
			_ = st.Close()
		}
	}
	err := s.DB.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *sqlStore) initPragmas(ctx context.Context) error {
	// WAL keeps readers (stream backlogs, polling) off the writer's path.
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA temp_store=MEMORY;",
		// Negative cache_size means KB.
		"PRAGMA cache_size=-20000;",
	}
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $1..$n for Postgres.
func (s *sqlStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.DB.ExecContext(ctx, s.rebind(q), args...)
}

func (s *sqlStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.DB.QueryContext(ctx, s.rebind(q), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.DB.QueryRowContext(ctx, s.rebind(q), args...)
}

// Migrate runs pending migrations (only those not already in schema_migrations).
func (s *sqlStore) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store not initialized")
	}

	// Ensure migrations table exists even before we run migration files.
	if _, err := s.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at BIGINT NOT NULL
);`); err != nil {
		return err
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}

	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var migs []migration
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		v, err := parseMigrationVersion(name)
		if err != nil {
			return err
		}
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		migs = append(migs, migration{Version: v, Name: name, SQL: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })

	for _, m := range migs {
		if applied[m.Version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

func (s *sqlStore) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func (s *sqlStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`), m.Version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

// splitStatements splits a migration file on statement-terminating semicolons.
// Migrations contain no semicolons inside literals.
func splitStatements(body string) []string {
	var out []string
	for _, part := range strings.Split(body, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func parseMigrationVersion(filename string) (int, error) {
	base := strings.TrimSuffix(filename, ".sql")
	parts := strings.SplitN(base, "_", 2)
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid migration version in %s", filename)
	}
	return v, nil
}
