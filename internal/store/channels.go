package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Channel struct {
	ID          string    `json:"id"`
	LegionID    string    `json:"legion_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Purpose     string    `json:"purpose,omitempty"`
	Creator     string    `json:"creator"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Store) SaveChannel(c *Channel) error {
	_, err := s.db.Exec(`
		INSERT INTO channels (id, legion_id, name, description, purpose, creator)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			purpose = excluded.purpose`,
		c.ID, c.LegionID, c.Name, c.Description, c.Purpose, c.Creator)
	if err != nil {
		return fmt.Errorf("save channel: %w", err)
	}
	return nil
}

func (s *Store) GetChannel(id string) (*Channel, error) {
	c := &Channel{}
	var description, purpose sql.NullString
	err := s.db.QueryRow(`
		SELECT id, legion_id, name, description, purpose, creator, created_at
		FROM channels WHERE id = ?`, id).
		Scan(&c.ID, &c.LegionID, &c.Name, &description, &purpose, &c.Creator, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	c.Description = description.String
	c.Purpose = purpose.String
	return c, nil
}

func (s *Store) ListChannels(legionID string) ([]Channel, error) {
	rows, err := s.db.Query(`
		SELECT id, legion_id, name, description, purpose, creator, created_at
		FROM channels WHERE legion_id = ? ORDER BY created_at`, legionID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var c Channel
		var description, purpose sql.NullString
		if err := rows.Scan(&c.ID, &c.LegionID, &c.Name, &description, &purpose, &c.Creator, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		c.Description = description.String
		c.Purpose = purpose.String
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

func (s *Store) DeleteChannel(id string) error {
	_, err := s.db.Exec(`DELETE FROM channels WHERE id = ?`, id)
	return err
}
