package legion

import (
	"context"
	"time"
)

// MinionState is the lifecycle state of one minion session.
type MinionState string

const (
	StateCreated    MinionState = "created"
	StateActive     MinionState = "active"
	StatePaused     MinionState = "paused"
	StateProcessing MinionState = "processing"
	StateError      MinionState = "error"
	StateTerminated MinionState = "terminated"
)

// running reports whether the minion has a live session behind it.
func (s MinionState) running() bool {
	switch s {
	case StateActive, StatePaused, StateProcessing, StateError:
		return true
	}
	return false
}

// Minion is one managed agent session. A minion with children acts as an
// overseer for them; that is a role, not a separate type.
type Minion struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Role         string          `json:"role"`
	State        MinionState     `json:"state"`
	ParentID     string          `json:"parent_id,omitempty"` // empty means operator-created
	ChildIDs     []string        `json:"child_ids,omitempty"` // ordered by spawn time
	HordeID      string          `json:"horde_id"`            // assigned once, never changes
	ChannelIDs   map[string]bool `json:"channel_ids,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
	IsOverseer   bool            `json:"is_overseer"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActive   time.Time       `json:"last_active"`
}

// Horde is the tree of one operator-created root minion and all of its
// transitive descendants. Membership grows by spawn and shrinks by disposal;
// a minion never moves between hordes.
type Horde struct {
	ID        string          `json:"id"`
	RootID    string          `json:"root_id"`
	MemberIDs map[string]bool `json:"member_ids"`
	CreatedAt time.Time       `json:"created_at"`
}

// Channel is a named broadcast group. Membership is dynamic and independent
// of horde boundaries.
type Channel struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Purpose     string          `json:"purpose,omitempty"`
	Creator     string          `json:"creator"` // "operator" or a minion id
	Members     map[string]bool `json:"members"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SessionSpec carries everything a Runtime needs to start one minion session.
type SessionSpec struct {
	MinionID     string
	LegionID     string
	Name         string
	Role         string
	Instructions string
}

// Turn is one unit of work delivered to a minion's session.
type Turn struct {
	CommID  string   `json:"comm_id"`
	From    string   `json:"from"` // "operator" or the sending minion's name
	Content string   `json:"content"`
	Type    CommType `json:"type"`
}

// Runtime is the external session engine that executes minion turns. The
// orchestration core never assumes anything about how turns run; it only
// starts, stops, feeds, and interrupts sessions.
type Runtime interface {
	StartSession(ctx context.Context, spec SessionSpec) error
	StopSession(ctx context.Context, minionID string) error
	Deliver(ctx context.Context, minionID string, turn Turn) error
	Interrupt(ctx context.Context, minionID string) error
}

// Event is one record pushed toward the operator UI.
type Event struct {
	Type      string         `json:"type"`
	LegionID  string         `json:"legion_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventSink receives UI-bound events. Implementations must not block.
type EventSink interface {
	Publish(event Event)
}

// OperatorSink receives comms addressed to the operator, beyond the event
// feed (e.g. a chat bridge). Optional.
type OperatorSink interface {
	NotifyOperator(legionID string, comm *Comm)
}
