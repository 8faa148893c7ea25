package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Comm is the queryable archive row for one routed comm. The JSONL logs are
// the durable record; this table exists for history queries and counts.
type Comm struct {
	ID          string          `json:"id"`
	LegionID    string          `json:"legion_id"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	CommType    string          `json:"comm_type"`
	Content     string          `json:"content"`
	ReplyTo     string          `json:"reply_to,omitempty"`
	Hidden      bool            `json:"hidden,omitempty"`
	Tags        json.RawMessage `json:"tags,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (s *Store) SaveComm(c *Comm) error {
	_, err := s.db.Exec(`
		INSERT INTO comms (id, legion_id, source, destination, comm_type, content, reply_to, hidden, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.LegionID, c.Source, c.Destination, c.CommType, c.Content, nullable(c.ReplyTo), c.Hidden, nullableRaw(c.Tags))
	if err != nil {
		return fmt.Errorf("save comm: %w", err)
	}
	return nil
}

func (s *Store) GetComms(legionID string, limit int) ([]Comm, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, legion_id, source, destination, comm_type, content, reply_to, hidden, tags, created_at
		FROM comms
		WHERE legion_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, legionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get comms: %w", err)
	}
	defer rows.Close()

	var comms []Comm
	for rows.Next() {
		var c Comm
		var replyTo, tags sql.NullString
		if err := rows.Scan(&c.ID, &c.LegionID, &c.Source, &c.Destination, &c.CommType, &c.Content, &replyTo, &c.Hidden, &tags, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comm: %w", err)
		}
		c.ReplyTo = replyTo.String
		if tags.Valid {
			c.Tags = json.RawMessage(tags.String)
		}
		comms = append(comms, c)
	}

	// Reverse to get chronological order
	for i, j := 0, len(comms)-1; i < j; i, j = i+1, j-1 {
		comms[i], comms[j] = comms[j], comms[i]
	}

	return comms, rows.Err()
}

func (s *Store) CountComms(legionID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM comms WHERE legion_id = ?`, legionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count comms: %w", err)
	}
	return n, nil
}

func nullableRaw(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}
