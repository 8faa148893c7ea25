package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Minion struct {
	ID         string    `json:"id"`
	LegionID   string    `json:"legion_id"`
	Name       string    `json:"name"`
	Role       string    `json:"role,omitempty"`
	State      string    `json:"state"`
	ParentID   string    `json:"parent_id,omitempty"`
	HordeID    string    `json:"horde_id"`
	IsOverseer bool      `json:"is_overseer"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active,omitempty"`
}

func (s *Store) SaveMinion(m *Minion) error {
	_, err := s.db.Exec(`
		INSERT INTO minions (id, legion_id, name, role, state, parent_id, horde_id, is_overseer, last_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			state = excluded.state,
			is_overseer = excluded.is_overseer,
			last_active = CURRENT_TIMESTAMP`,
		m.ID, m.LegionID, m.Name, m.Role, m.State, nullable(m.ParentID), m.HordeID, m.IsOverseer)
	if err != nil {
		return fmt.Errorf("save minion: %w", err)
	}
	return nil
}

func (s *Store) GetMinion(id string) (*Minion, error) {
	m := &Minion{}
	var role, parentID sql.NullString
	var lastActive sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, legion_id, name, role, state, parent_id, horde_id, is_overseer, created_at, last_active
		FROM minions WHERE id = ?`, id).
		Scan(&m.ID, &m.LegionID, &m.Name, &role, &m.State, &parentID, &m.HordeID, &m.IsOverseer, &m.CreatedAt, &lastActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get minion: %w", err)
	}
	m.Role = role.String
	m.ParentID = parentID.String
	m.LastActive = lastActive.Time
	return m, nil
}

func (s *Store) ListMinions(legionID string) ([]Minion, error) {
	rows, err := s.db.Query(`
		SELECT id, legion_id, name, role, state, parent_id, horde_id, is_overseer, created_at, last_active
		FROM minions WHERE legion_id = ? ORDER BY created_at`, legionID)
	if err != nil {
		return nil, fmt.Errorf("list minions: %w", err)
	}
	defer rows.Close()

	var minions []Minion
	for rows.Next() {
		var m Minion
		var role, parentID sql.NullString
		var lastActive sql.NullTime
		if err := rows.Scan(&m.ID, &m.LegionID, &m.Name, &role, &m.State, &parentID, &m.HordeID, &m.IsOverseer, &m.CreatedAt, &lastActive); err != nil {
			return nil, fmt.Errorf("scan minion: %w", err)
		}
		m.Role = role.String
		m.ParentID = parentID.String
		m.LastActive = lastActive.Time
		minions = append(minions, m)
	}
	return minions, rows.Err()
}

func (s *Store) DeleteMinion(id string) error {
	_, err := s.db.Exec(`DELETE FROM minions WHERE id = ?`, id)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
