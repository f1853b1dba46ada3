package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lirancohen/adminpulse/internal/events"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// SaveExecution inserts or replaces an execution with its steps
func (db *DB) SaveExecution(e *events.Execution) error {
	steps := e.Steps
	if steps == nil {
		steps = []events.Step{}
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	_, err = db.Exec(
		`INSERT INTO workflow_executions (id, workflow_id, workflow_name, status, started_at, completed_at, error, steps)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   workflow_id = excluded.workflow_id,
		   workflow_name = excluded.workflow_name,
		   status = excluded.status,
		   started_at = excluded.started_at,
		   completed_at = excluded.completed_at,
		   error = excluded.error,
		   steps = excluded.steps`,
		e.ExecutionID, e.WorkflowID, e.WorkflowName, e.Status,
		formatTS(e.StartedAt.Time), nullTS(e.CompletedAt.Time), e.Error, string(b),
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by its ID
func (db *DB) GetExecution(id string) (*events.Execution, error) {
	row := db.QueryRow(executionColumns+` WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return e, nil
}

// ListActiveExecutions returns the running executions, newest first
func (db *DB) ListActiveExecutions() ([]events.Execution, error) {
	return db.listExecutions(executionColumns+` WHERE status = ? ORDER BY started_at DESC`, events.ExecutionRunning)
}

// ListRecentExecutions returns the most recently started executions
func (db *DB) ListRecentExecutions(limit int) ([]events.Execution, error) {
	return db.listExecutions(executionColumns+` ORDER BY started_at DESC LIMIT ?`, limitOrDefault(limit))
}

const executionColumns = `SELECT id, workflow_id, workflow_name, status, started_at, completed_at, error, steps FROM workflow_executions`

func (db *DB) listExecutions(query string, args ...any) ([]events.Execution, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	list := []events.Execution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		list = append(list, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return list, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*events.Execution, error) {
	var (
		e                events.Execution
		workflowID, name sql.NullString
		errText          sql.NullString
		started, steps   string
		completed        sql.NullString
	)
	if err := row.Scan(&e.ExecutionID, &workflowID, &name, &e.Status, &started, &completed, &errText, &steps); err != nil {
		return nil, err
	}
	e.WorkflowID, e.WorkflowName, e.Error = workflowID.String, name.String, errText.String

	startedAt, err := parseTS(started)
	if err != nil {
		return nil, err
	}
	completedAt, err := parseNullTS(completed)
	if err != nil {
		return nil, err
	}
	e.StartedAt = events.NewTime(startedAt)
	if !completedAt.IsZero() {
		e.CompletedAt = events.NewTime(completedAt)
	}

	if err := json.Unmarshal([]byte(steps), &e.Steps); err != nil {
		return nil, fmt.Errorf("failed to parse steps: %w", err)
	}
	if e.Steps == nil {
		e.Steps = []events.Step{}
	}
	return &e, nil
}
