package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lirancohen/adminpulse/internal/events"
)

// InsertAuditLog stores an entry and fills in its id, and its timestamp when
// unset
func (db *DB) InsertAuditLog(e *events.AuditLogEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = events.NewTime(time.Now())
	}

	var details sql.NullString
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	res, err := db.Exec(
		`INSERT INTO audit_log (action, entity_type, entity_id, entity_name, user_email, details, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Action, e.EntityType, e.EntityID, e.EntityName, e.UserEmail, details, formatTS(e.Timestamp.Time),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read audit log id: %w", err)
	}
	e.ID = id
	return nil
}

// ListAuditLog returns entries newest first, at or after since when set
func (db *DB) ListAuditLog(limit int, since time.Time) ([]events.AuditLogEvent, error) {
	query, args := sinceClause(
		`SELECT id, action, entity_type, entity_id, entity_name, user_email, details, ts FROM audit_log`,
		nil, since)
	rows, err := db.Query(query+" ORDER BY ts DESC, id DESC LIMIT ?", append(args, limitOrDefault(limit))...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	entries := []events.AuditLogEvent{}
	for rows.Next() {
		var (
			e                           events.AuditLogEvent
			entityID, entityName, email sql.NullString
			details                     sql.NullString
			ts                          string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &entityID, &entityName, &email, &details, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit log entry: %w", err)
		}
		e.EntityID, e.EntityName, e.UserEmail = entityID.String, entityName.String, email.String
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to parse audit details: %w", err)
			}
		}
		t, err := parseTS(ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp = events.NewTime(t)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return entries, nil
}
