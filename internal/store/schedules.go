package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ScheduledComm is a stored recurring operator comm. Target is a minion name
// or a "#channel" reference, resolved at fire time.
type ScheduledComm struct {
	ID        string     `json:"id"`
	LegionID  string     `json:"legion_id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"` // schedule JSON, see internal/schedule
	Target    string     `json:"target"`
	CommType  string     `json:"comm_type"`
	Content   string     `json:"content"`
	Status    string     `json:"status"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (s *Store) SaveScheduledComm(sc *ScheduledComm) error {
	if sc.Status == "" {
		sc.Status = "active"
	}
	if sc.CommType == "" {
		sc.CommType = "task"
	}
	_, err := s.db.Exec(`
		INSERT INTO scheduled_comms (id, legion_id, name, schedule, target, comm_type, content, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			target = excluded.target,
			comm_type = excluded.comm_type,
			content = excluded.content,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		sc.ID, sc.LegionID, sc.Name, sc.Schedule, sc.Target, sc.CommType, sc.Content, sc.Status, sc.NextRunAt)
	if err != nil {
		return fmt.Errorf("save scheduled comm: %w", err)
	}
	return nil
}

const scheduledColumns = `id, legion_id, name, schedule, target, comm_type, content, status, next_run_at, last_run_at, last_error, created_at`

func scanScheduledComm(scanner interface{ Scan(dest ...any) error }) (*ScheduledComm, error) {
	sc := &ScheduledComm{}
	var lastError sql.NullString
	var nextRun, lastRun sql.NullTime
	err := scanner.Scan(&sc.ID, &sc.LegionID, &sc.Name, &sc.Schedule, &sc.Target, &sc.CommType, &sc.Content, &sc.Status, &nextRun, &lastRun, &lastError, &sc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if nextRun.Valid {
		sc.NextRunAt = &nextRun.Time
	}
	if lastRun.Valid {
		sc.LastRunAt = &lastRun.Time
	}
	sc.LastError = lastError.String
	return sc, nil
}

func (s *Store) GetScheduledComm(id string) (*ScheduledComm, error) {
	row := s.db.QueryRow(`SELECT `+scheduledColumns+` FROM scheduled_comms WHERE id = ?`, id)
	sc, err := scanScheduledComm(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled comm: %w", err)
	}
	return sc, nil
}

func (s *Store) ListScheduledComms(legionID string) ([]ScheduledComm, error) {
	rows, err := s.db.Query(`SELECT `+scheduledColumns+` FROM scheduled_comms WHERE legion_id = ? ORDER BY created_at`, legionID)
	if err != nil {
		return nil, fmt.Errorf("list scheduled comms: %w", err)
	}
	defer rows.Close()

	var out []ScheduledComm
	for rows.Next() {
		sc, err := scanScheduledComm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled comm: %w", err)
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

// DueScheduledComms returns active schedules whose next run time has passed.
func (s *Store) DueScheduledComms(now time.Time) ([]ScheduledComm, error) {
	rows, err := s.db.Query(`
		SELECT `+scheduledColumns+`
		FROM scheduled_comms
		WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("due scheduled comms: %w", err)
	}
	defer rows.Close()

	var out []ScheduledComm
	for rows.Next() {
		sc, err := scanScheduledComm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled comm: %w", err)
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

// MarkScheduledRun records a fire attempt and the next run time. A nil next
// run deactivates one-shot schedules.
func (s *Store) MarkScheduledRun(id string, next *time.Time, runErr string) error {
	status := "active"
	if next == nil {
		status = "completed"
	}
	_, err := s.db.Exec(`
		UPDATE scheduled_comms
		SET last_run_at = CURRENT_TIMESTAMP, last_error = ?, next_run_at = ?, status = ?
		WHERE id = ?`, nullable(runErr), next, status, id)
	return err
}

func (s *Store) DeleteScheduledComm(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_comms WHERE id = ?`, id)
	return err
}
