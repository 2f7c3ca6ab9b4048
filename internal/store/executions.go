package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mtzanidakis/maistro/internal/execution"
)

const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// ExecutionRecord is the persisted history of one execution.
type ExecutionRecord struct {
	ID             string     `json:"id"`
	ConfigID       string     `json:"configId"`
	ConfigName     string     `json:"configName"`
	ParentID       string     `json:"parentId,omitempty"`
	SessionName    string     `json:"sessionName"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	TotalSteps     int        `json:"totalSteps"`
	CompletedSteps int        `json:"completedSteps"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

func scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*ExecutionRecord, error) {
	r := &ExecutionRecord{}
	var parentID, errText *string
	err := scanner.Scan(&r.ID, &r.ConfigID, &r.ConfigName, &parentID, &r.SessionName, &r.Status, &errText,
		&r.TotalSteps, &r.CompletedSteps, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	if parentID != nil {
		r.ParentID = *parentID
	}
	if errText != nil {
		r.Error = *errText
	}
	return r, nil
}

const executionColumns = `id, config_id, config_name, parent_id, session_name, status, error,
	total_steps, completed_steps, started_at, finished_at`

// Record applies an orchestrator lifecycle event to the history.
func (s *Store) Record(ev execution.Event) error {
	e := ev.Execution
	at := ev.At.UTC()

	var err error
	switch ev.Kind {
	case execution.EventStarted:
		var parent any
		if e.ParentID != "" {
			parent = e.ParentID
		}
		_, err = s.db.Exec(`
			INSERT INTO executions (id, config_id, config_name, parent_id, session_name, status, total_steps, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				total_steps = excluded.total_steps`,
			e.ID, e.ConfigID, e.ConfigName, parent, e.SessionName, StatusRunning, e.TotalSteps, e.StartedAt.UTC())
	case execution.EventStepCompleted:
		_, err = s.db.Exec(`UPDATE executions SET completed_steps = ? WHERE id = ?`, e.Step+1, e.ID)
	case execution.EventCompleted:
		_, err = s.db.Exec(`UPDATE executions SET status = ?, finished_at = ? WHERE id = ?`,
			StatusCompleted, at, e.ID)
	case execution.EventFailed:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		_, err = s.db.Exec(`UPDATE executions SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
			StatusFailed, msg, at, e.ID)
	default:
		return fmt.Errorf("unknown lifecycle event %q", ev.Kind)
	}
	if err != nil {
		return fmt.Errorf("record %s: %w", ev.Kind, err)
	}
	return nil
}

func (s *Store) GetExecution(id string) (*ExecutionRecord, error) {
	row := s.db.QueryRow(`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	r, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return r, nil
}

// ListExecutions returns the most recent executions, newest first. An empty
// configID lists all configurations.
func (s *Store) ListExecutions(configID string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	args := []any{}
	if configID != "" {
		query += ` WHERE config_id = ?`
		args = append(args, configID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	records := []ExecutionRecord{}
	for rows.Next() {
		r, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// PruneExecutions deletes finished executions that started before the cutoff.
func (s *Store) PruneExecutions(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM executions WHERE status != ? AND started_at < ?`,
		StatusRunning, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	return res.RowsAffected()
}

// MarkInterrupted closes out executions left running by a previous process.
func (s *Store) MarkInterrupted() (int64, error) {
	res, err := s.db.Exec(`UPDATE executions SET status = ?, finished_at = ? WHERE status = ?`,
		StatusInterrupted, time.Now().UTC(), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	return res.RowsAffected()
}
