// Package store persists what the dev backend serves on its polling endpoints
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open creates or opens a SQLite database at the given path
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	// WAL lets the polling endpoints read while the publisher writes
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Migrate runs all database migrations
func (db *DB) Migrate() error {
	migrations := []string{
		migrationAuditLog,
		migrationPricingEvents,
		migrationWorkflowExecutions,
		migrationSecurityEvents,
		migrationAdminSessions,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewPrefixedID generates a new ID with a prefix (e.g., "sec-1b4e28ba")
func NewPrefixedID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// Timestamps are stored as fixed-width UTC text so that string comparison in
// since filters orders them correctly
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTS(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTS(t), Valid: true}
}

func parseNullTS(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return parseTS(s.String)
}

// sinceClause appends an inclusive lower bound when since is set
func sinceClause(query string, args []any, since time.Time) (string, []any) {
	if since.IsZero() {
		return query, args
	}
	return query + " WHERE ts >= ?", append(args, formatTS(since))
}

const defaultLimit = 50

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultLimit
	}
	return limit
}

// Migration SQL statements

const migrationAuditLog = `
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT,
	entity_name TEXT,
	user_email TEXT,
	details TEXT,  -- JSON object
	ts TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_ts ON audit_log(ts);
`

const migrationPricingEvents = `
CREATE TABLE IF NOT EXISTS pricing_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	product_id TEXT,
	product_name TEXT,
	rule_id TEXT,
	rule_name TEXT,
	old_price REAL,
	new_price REAL,
	currency TEXT,
	message TEXT,
	ts TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pricing_events_ts ON pricing_events(ts);
`

const migrationWorkflowExecutions = `
CREATE TABLE IF NOT EXISTS workflow_executions (
	id TEXT PRIMARY KEY,
	workflow_id TEXT,
	workflow_name TEXT,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	error TEXT,
	steps TEXT NOT NULL DEFAULT '[]'  -- JSON array of steps
);

CREATE INDEX IF NOT EXISTS idx_workflow_executions_status ON workflow_executions(status);
CREATE INDEX IF NOT EXISTS idx_workflow_executions_started ON workflow_executions(started_at);
`

const migrationSecurityEvents = `
CREATE TABLE IF NOT EXISTS security_events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	user_email TEXT,
	ip_address TEXT,
	description TEXT,
	ts TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_security_events_ts ON security_events(ts);
`

const migrationAdminSessions = `
CREATE TABLE IF NOT EXISTS admin_sessions (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	ip_address TEXT,
	user_agent TEXT,
	created_at TEXT NOT NULL,
	last_active_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
);
`
