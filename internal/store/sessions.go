package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lirancohen/adminpulse/internal/auth"
)

// SessionStore keeps admin sessions in the admin_sessions table
type SessionStore struct {
	db *DB
}

var _ auth.SessionStore = (*SessionStore)(nil)

// Sessions returns the session store backed by db
func (db *DB) Sessions() *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `SELECT id, email, ip_address, user_agent, created_at, last_active_at, expires_at FROM admin_sessions`

// Get retrieves a session by ID
func (s *SessionStore) Get(id string) (*auth.Session, error) {
	session, err := scanSession(s.db.QueryRow(sessionColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// Set inserts or updates a session
func (s *SessionStore) Set(session *auth.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO admin_sessions (id, email, ip_address, user_agent, created_at, last_active_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   last_active_at = excluded.last_active_at,
		   expires_at = excluded.expires_at`,
		session.ID, session.Email, session.IPAddress, session.UserAgent,
		formatTS(session.CreatedAt), formatTS(session.LastActiveAt), formatTS(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes a session
func (s *SessionStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM admin_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns every stored session, oldest first
func (s *SessionStore) List() ([]*auth.Session, error) {
	rows, err := s.db.Query(sessionColumns + ` ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var list []*auth.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		list = append(list, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return list, nil
}

func scanSession(row scanner) (*auth.Session, error) {
	var (
		session                  auth.Session
		ip, agent                sql.NullString
		created, active, expires string
	)
	if err := row.Scan(&session.ID, &session.Email, &ip, &agent, &created, &active, &expires); err != nil {
		return nil, err
	}
	session.IPAddress, session.UserAgent = ip.String, agent.String

	var err error
	if session.CreatedAt, err = parseTS(created); err != nil {
		return nil, err
	}
	if session.LastActiveAt, err = parseTS(active); err != nil {
		return nil, err
	}
	if session.ExpiresAt, err = parseTS(expires); err != nil {
		return nil, err
	}
	return &session, nil
}
