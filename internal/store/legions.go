package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Legion struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MaxMinions int       `json:"max_minions"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Store) SaveLegion(l *Legion) error {
	_, err := s.db.Exec(`
		INSERT INTO legions (id, name, max_minions)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			max_minions = excluded.max_minions`,
		l.ID, l.Name, l.MaxMinions)
	if err != nil {
		return fmt.Errorf("save legion: %w", err)
	}
	return nil
}

func (s *Store) GetLegion(id string) (*Legion, error) {
	l := &Legion{}
	err := s.db.QueryRow(`SELECT id, name, max_minions, created_at FROM legions WHERE id = ?`, id).
		Scan(&l.ID, &l.Name, &l.MaxMinions, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get legion: %w", err)
	}
	return l, nil
}

func (s *Store) ListLegions() ([]Legion, error) {
	rows, err := s.db.Query(`SELECT id, name, max_minions, created_at FROM legions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list legions: %w", err)
	}
	defer rows.Close()

	var legions []Legion
	for rows.Next() {
		var l Legion
		if err := rows.Scan(&l.ID, &l.Name, &l.MaxMinions, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan legion: %w", err)
		}
		legions = append(legions, l)
	}
	return legions, rows.Err()
}

// DeleteLegion removes the legion and everything scoped to it.
func (s *Store) DeleteLegion(id string) error {
	for _, q := range []string{
		`DELETE FROM comms WHERE legion_id = ?`,
		`DELETE FROM scheduled_comms WHERE legion_id = ?`,
		`DELETE FROM channels WHERE legion_id = ?`,
		`DELETE FROM minions WHERE legion_id = ?`,
		`DELETE FROM legions WHERE id = ?`,
	} {
		if _, err := s.db.Exec(q, id); err != nil {
			return fmt.Errorf("delete legion: %w", err)
		}
	}
	return nil
}
