package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pinefield/focusd/internal/bus"
)

// SessionRecord is a persisted focus session.
type SessionRecord struct {
	ID               string       `json:"id"`
	Mode             string       `json:"mode"`
	PlannedMinutes   int          `json:"planned_minutes"`
	EarlyTermination bool         `json:"early_termination"`
	StartedAt        time.Time    `json:"started_at"`
	EndedAt          *time.Time   `json:"ended_at,omitempty"`
	Goals            []GoalRecord `json:"goals,omitempty"`
}

// GoalRecord is one checklist item within a session.
type GoalRecord struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
	Text      string `json:"text"`
	Checked   bool   `json:"checked"`
}

// AppUsageRecord is accumulated foreground time for one app in one session.
type AppUsageRecord struct {
	SessionID string `json:"session_id"`
	App       string `json:"app"`
	Seconds   int    `json:"seconds"`
}

// InsertSession creates a session row together with its goal checklist.
// Returns the session ID (generated when record.ID is empty).
func (s *Store) InsertSession(ctx context.Context, record SessionRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin insert session tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, mode, planned_minutes, started_at, created_at, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
		`, record.ID, record.Mode, record.PlannedMinutes); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		for i, goal := range record.Goals {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO session_goals (session_id, idx, text, checked)
				VALUES (?, ?, ?, ?);
			`, record.ID, i, goal.Text, boolToInt(goal.Checked)); err != nil {
				return fmt.Errorf("insert session goal: %w", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return record.ID, nil
}

// FinishSession stamps a session's end time and early-termination flag.
// Finishing an already-finished session is a no-op.
func (s *Store) FinishSession(ctx context.Context, sessionID string, early bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET ended_at = CURRENT_TIMESTAMP, early_termination = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND ended_at IS NULL;
	`, boolToInt(early), sessionID)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 1 && s.bus != nil {
		completed, total, _ := s.goalCounts(ctx, sessionID)
		s.bus.Publish(bus.TopicSessionEnded, bus.SessionEndedEvent{
			SessionID:        sessionID,
			EarlyTermination: early,
			CompletedGoals:   completed,
			TotalGoals:       total,
		})
	}
	return nil
}

func (s *Store) goalCounts(ctx context.Context, sessionID string) (completed, total int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(checked), 0), COUNT(1)
		FROM session_goals WHERE session_id = ?;
	`, sessionID).Scan(&completed, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("goal counts: %w", err)
	}
	return completed, total, nil
}

// AddSessionGoal appends a checklist item to a running session.
func (s *Store) AddSessionGoal(ctx context.Context, sessionID, text string) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO session_goals (session_id, idx, text, checked)
			SELECT ?, COALESCE(MAX(idx), -1) + 1, ?, 0
			FROM session_goals WHERE session_id = ?;
		`, sessionID, text, sessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("add session goal: %w", err)
	}
	return nil
}

// SetGoalChecked flips one checklist item's state.
func (s *Store) SetGoalChecked(ctx context.Context, sessionID string, idx int, checked bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE session_goals SET checked = ? WHERE session_id = ? AND idx = ?;
	`, boolToInt(checked), sessionID, idx)
	if err != nil {
		return fmt.Errorf("set goal checked: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("goal %d not found for session %s", idx, sessionID)
	}
	return nil
}

// SessionGoals returns a session's checklist in order.
func (s *Store) SessionGoals(ctx context.Context, sessionID string) ([]GoalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, idx, text, checked
		FROM session_goals WHERE session_id = ? ORDER BY idx ASC;
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session goals: %w", err)
	}
	defer rows.Close()

	var out []GoalRecord
	for rows.Next() {
		var g GoalRecord
		var checked int
		if err := rows.Scan(&g.SessionID, &g.Index, &g.Text, &checked); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		g.Checked = checked != 0
		out = append(out, g)
	}
	return out, rows.Err()
}

// SessionByID loads one session with its goals.
func (s *Store) SessionByID(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var rec SessionRecord
	var early int
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mode, planned_minutes, early_termination, started_at, ended_at
		FROM sessions WHERE id = ?;
	`, sessionID).Scan(&rec.ID, &rec.Mode, &rec.PlannedMinutes, &early, &rec.StartedAt, &endedAt)
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	rec.EarlyTermination = early != 0
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	goals, err := s.SessionGoals(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rec.Goals = goals
	return &rec, nil
}

// ListSessions returns recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, planned_minutes, early_termination, started_at, ended_at
		FROM sessions ORDER BY started_at DESC LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var early int
		var endedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Mode, &rec.PlannedMinutes, &early, &rec.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.EarlyTermination = early != 0
		if endedAt.Valid {
			t := endedAt.Time
			rec.EndedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordAppUsage accumulates foreground seconds for an app within a session.
func (s *Store) RecordAppUsage(ctx context.Context, sessionID, app string, seconds int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_app_usage (session_id, app, seconds)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id, app) DO UPDATE SET seconds = seconds + excluded.seconds;
	`, sessionID, app, seconds)
	if err != nil {
		return fmt.Errorf("record app usage: %w", err)
	}
	return nil
}

// SessionAppUsage returns per-app foreground time for a session, most-used first.
func (s *Store) SessionAppUsage(ctx context.Context, sessionID string) ([]AppUsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, app, seconds
		FROM session_app_usage WHERE session_id = ? ORDER BY seconds DESC;
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query app usage: %w", err)
	}
	defer rows.Close()

	var out []AppUsageRecord
	for rows.Next() {
		var u AppUsageRecord
		if err := rows.Scan(&u.SessionID, &u.App, &u.Seconds); err != nil {
			return nil, fmt.Errorf("scan app usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
