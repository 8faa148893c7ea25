package legion

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CommType classifies a comm and fixes its routing and interrupt behavior.
// The set is closed: unknown types are rejected when the comm is built.
type CommType string

const (
	CommTask     CommType = "task"
	CommQuestion CommType = "question"
	CommReport   CommType = "report"
	CommGuide    CommType = "guide"
	CommHalt     CommType = "halt"
	CommPivot    CommType = "pivot"
	CommThought  CommType = "thought"
	CommSpawn    CommType = "spawn"
	CommDispose  CommType = "dispose"
	CommSystem   CommType = "system"
)

// InterruptClass is what a comm does to the receiving minion's current turn.
type InterruptClass int

const (
	// InterruptNone queues the comm normally.
	InterruptNone InterruptClass = iota
	// InterruptSoft stops the current turn and pauses the minion; the pending
	// queue is preserved.
	InterruptSoft
	// InterruptHard stops the current turn and discards the pending queue
	// before delivering the new comm.
	InterruptHard
)

type commPolicy struct {
	interrupt       InterruptClass
	hiddenByDefault bool
}

// policyFor returns the routing policy for a comm type, or false for types
// outside the closed set.
func policyFor(t CommType) (commPolicy, bool) {
	switch t {
	case CommTask, CommQuestion, CommReport, CommGuide, CommSpawn, CommDispose, CommSystem:
		return commPolicy{interrupt: InterruptNone}, true
	case CommHalt:
		return commPolicy{interrupt: InterruptSoft}, true
	case CommPivot:
		return commPolicy{interrupt: InterruptHard}, true
	case CommThought:
		return commPolicy{interrupt: InterruptNone, hiddenByDefault: true}, true
	}
	return commPolicy{}, false
}

// ValidCommType reports whether t belongs to the closed comm type set.
func ValidCommType(t CommType) bool {
	_, ok := policyFor(t)
	return ok
}

// TagMeta lists the minion and channel names referenced by #tags in a comm's
// content. Tags annotate; they never alter routing.
type TagMeta struct {
	Minions  []string `json:"minions,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// Comm is one routed communication. It is immutable once routed: appended to
// logs, never rewritten.
type Comm struct {
	ID           string    `json:"id"`
	FromMinion   string    `json:"from_minion,omitempty"`
	FromOperator bool      `json:"from_operator,omitempty"`
	ToMinion     string    `json:"to_minion,omitempty"`
	ToChannel    string    `json:"to_channel,omitempty"`
	ToOperator   bool      `json:"to_operator,omitempty"`
	Content      string    `json:"content"`
	Type         CommType  `json:"type"`
	ReplyTo      string    `json:"reply_to,omitempty"`
	Hidden       bool      `json:"hidden,omitempty"`
	Tags         *TagMeta  `json:"tags,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewComm validates c, allocates its id and timestamp, and applies the
// default visibility for its type. Structural violations are hard errors.
func NewComm(c Comm) (*Comm, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	c.ID = uuid.New().String()
	c.Timestamp = time.Now().UTC()

	policy, _ := policyFor(c.Type)
	if policy.hiddenByDefault {
		c.Hidden = true
	}
	return &c, nil
}

// validate enforces the structural invariant: exactly one source and exactly
// one destination, and a known type.
func (c *Comm) validate() error {
	sources := 0
	if c.FromMinion != "" {
		sources++
	}
	if c.FromOperator {
		sources++
	}
	if sources != 1 {
		return fmt.Errorf("%w: comm must have exactly one source, has %d", ErrValidation, sources)
	}

	dests := 0
	if c.ToMinion != "" {
		dests++
	}
	if c.ToChannel != "" {
		dests++
	}
	if c.ToOperator {
		dests++
	}
	if dests != 1 {
		return fmt.Errorf("%w: comm must have exactly one destination, has %d", ErrValidation, dests)
	}

	if !ValidCommType(c.Type) {
		return fmt.Errorf("%w: unknown comm type %q", ErrValidation, c.Type)
	}
	return nil
}

// Sender is the display label of the comm's source.
func (c *Comm) Sender(nameOf func(id string) string) string {
	if c.FromOperator {
		return "operator"
	}
	if name := nameOf(c.FromMinion); name != "" {
		return name
	}
	return c.FromMinion
}
