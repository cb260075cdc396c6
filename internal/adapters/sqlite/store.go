package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    password_hash BLOB NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('Admin','Techniker','Viewer')),
    clinics TEXT NOT NULL DEFAULT 'ALL'
);

CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    clinic TEXT NOT NULL,
    device_name TEXT NOT NULL,
    wave_number TEXT,
    submitter TEXT,
    service_provider TEXT,
    status TEXT NOT NULL CHECK (status IN ('In Reparatur','Abgeschlossen')) DEFAULT 'In Reparatur',
    reason TEXT,
    date_submitted TEXT,
    date_returned TEXT,
    created_by TEXT,
    closed_by TEXT,
    notes TEXT
);

CREATE TABLE IF NOT EXISTS clinics (
    name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts TEXT NOT NULL DEFAULT (datetime('now')),
    action TEXT NOT NULL,
    entity TEXT,
    entity_id TEXT,
    details TEXT
);

CREATE INDEX IF NOT EXISTS idx_cases_clinic ON cases(clinic);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
`

// seedClinics are created on first open so a fresh database is usable
// without an admin round trip.
var seedClinics = []string{"Neuro", "Viszeral", "Thorax", "Ortho"}

// Store is the shared repair-case database, typically a SQLite file on a
// network drive written by several workstations. It implements
// ports.OperationStore.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	ready bool
}

// Open prepares the case database at the given path. The file itself is not
// touched until the first operation: a share that is down at process start
// must surface as a connectivity error on Apply or Ping, where the buffer
// can handle it, not as a constructor failure. Schema creation, column
// migrations, and clinic seeding run on first use and are idempotent, so
// Open is safe against databases created by older versions.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// spurious SQLITE_BUSY between our own statements.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

// ensureReady applies pragmas, schema, and seed data once. Failures are
// classified and leave the store unprepared, so the next operation retries.
func (s *Store) ensureReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}
	if err := applyPragmas(s.db); err != nil {
		return classify(err)
	}
	if err := applySchema(s.db); err != nil {
		return classify(err)
	}
	s.ready = true
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the store is reachable. The error wraps
// domain.ErrStoreUnreachable when it is not.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	if err := s.db.PingContext(ctx); err != nil {
		return classify(err)
	}
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return classify(err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return err
	}

	if err := migrateColumns(db); err != nil {
		return err
	}

	for _, name := range seedClinics {
		if _, err := db.Exec("INSERT OR IGNORE INTO clinics(name) VALUES (?)", name); err != nil {
			return err
		}
	}
	return nil
}

// migrateColumns adds columns that older databases lack. SQLite has no
// ADD COLUMN IF NOT EXISTS, so presence is checked via table_info.
func migrateColumns(db *sql.DB) error {
	cols, err := tableColumns(db, "cases")
	if err != nil {
		return err
	}

	migrations := []struct {
		col  string
		stmt string
	}{
		{"date_returned", "ALTER TABLE cases ADD COLUMN date_returned TEXT"},
		{"created_by", "ALTER TABLE cases ADD COLUMN created_by TEXT"},
		{"closed_by", "ALTER TABLE cases ADD COLUMN closed_by TEXT"},
		{"notes", "ALTER TABLE cases ADD COLUMN notes TEXT"},
	}
	for _, m := range migrations {
		if cols[m.col] {
			continue
		}
		if _, err := db.Exec(m.stmt); err != nil {
			return err
		}
	}

	userCols, err := tableColumns(db, "users")
	if err != nil {
		return err
	}
	if !userCols["clinics"] {
		if _, err := db.Exec("ALTER TABLE users ADD COLUMN clinics TEXT NOT NULL DEFAULT 'ALL'"); err != nil {
			return err
		}
	}
	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
