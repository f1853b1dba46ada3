package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lirancohen/adminpulse/internal/events"
)

// InsertSecurityEvent stores an event, assigning an id and timestamp when unset
func (db *DB) InsertSecurityEvent(e *events.SecurityEvent) error {
	if e.ID == "" {
		e.ID = NewPrefixedID("sec")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = events.NewTime(time.Now())
	}
	_, err := db.Exec(
		`INSERT INTO security_events (id, type, severity, user_email, ip_address, description, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.Severity, e.UserEmail, e.IPAddress, e.Description, formatTS(e.Timestamp.Time),
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

// ListSecurityEvents returns events newest first, at or after since when set
func (db *DB) ListSecurityEvents(limit int, since time.Time) ([]events.SecurityEvent, error) {
	query, args := sinceClause(
		`SELECT id, type, severity, user_email, ip_address, description, ts FROM security_events`,
		nil, since)
	rows, err := db.Query(query+" ORDER BY ts DESC, id DESC LIMIT ?", append(args, limitOrDefault(limit))...)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	defer rows.Close()

	list := []events.SecurityEvent{}
	for rows.Next() {
		var (
			e                 events.SecurityEvent
			email, ip, detail sql.NullString
			ts                string
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Severity, &email, &ip, &detail, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		e.UserEmail, e.IPAddress, e.Description = email.String, ip.String, detail.String
		t, err := parseTS(ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp = events.NewTime(t)
		list = append(list, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security events: %w", err)
	}
	return list, nil
}
