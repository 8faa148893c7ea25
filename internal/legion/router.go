package legion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/legionhq/legiond/internal/store"
)

// RouteResult reports what a successful Route did.
type RouteResult struct {
	CommID          string
	MembersNotified int // 1 for direct delivery, member count for channels
	QueueDropped    int // comms discarded by a hard interrupt
}

// Route validates, records, and delivers one comm. The append to the
// timeline log is the durability point: if it fails the comm is not
// delivered and the caller gets a routing error. Delivery to individual
// channel members is isolated; one bad member never blocks the rest.
//
// Minion and channel references accept either an id or a name.
func (l *Legion) Route(ctx context.Context, c *Comm) (*RouteResult, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil comm", ErrValidation)
	}

	l.mu.Lock()

	if c.FromMinion != "" {
		sender, err := l.resolveMinionLocked(c.FromMinion)
		if err != nil {
			l.mu.Unlock()
			return nil, fmt.Errorf("%w: sender %s", ErrNotFound, c.FromMinion)
		}
		c.FromMinion = sender.ID
	}

	var (
		target  *Minion
		channel *Channel
	)
	if c.ToMinion != "" {
		m, err := l.resolveMinionLocked(c.ToMinion)
		if err != nil {
			l.mu.Unlock()
			return nil, err
		}
		target = m
		c.ToMinion = m.ID
	}
	if c.ToChannel != "" {
		ch, err := l.resolveChannelLocked(c.ToChannel)
		if err != nil {
			l.mu.Unlock()
			return nil, err
		}
		channel = ch
		c.ToChannel = ch.ID
	}

	c.Tags = l.extractTags(c.Content)

	// Durability point. A comm that cannot be recorded is not delivered.
	if l.logs != nil {
		if err := l.logs.AppendTimeline(l.ID, c); err != nil {
			l.mu.Unlock()
			return nil, fmt.Errorf("%w: timeline append: %v", ErrRouting, err)
		}
	}
	l.commCount++
	l.archiveCommLocked(c)

	result := &RouteResult{CommID: c.ID}

	switch {
	case target != nil:
		result.QueueDropped = l.deliverLocked(ctx, target, c)
		result.MembersNotified = 1
		l.appendMinionLogLocked(target.ID, c)

	case channel != nil:
		if l.logs != nil {
			if err := l.logs.AppendChannel(l.ID, channel.ID, c); err != nil {
				slog.Warn("failed to append channel log", "channel", channel.ID, "error", err)
			}
		}
		for memberID := range channel.Members {
			if memberID == c.FromMinion {
				continue
			}
			m, ok := l.minions[memberID]
			if !ok || !m.State.running() {
				continue
			}
			clone := *c
			clone.ToMinion = m.ID
			l.deliverLocked(ctx, m, &clone)
			l.appendMinionLogLocked(m.ID, &clone)
			result.MembersNotified++
		}

	case c.ToOperator:
		result.MembersNotified = 1
	}

	sender := c.Sender(l.nameOfLocked)
	l.publishEvent("comm", map[string]any{
		"comm_id":     c.ID,
		"from":        sender,
		"to":          l.destLabelLocked(c),
		"type":        c.Type,
		"content":     c.Content,
		"hidden":      c.Hidden,
		"tags":        c.Tags,
		"reply_to":    c.ReplyTo,
		"interrupted": result.QueueDropped,
	})

	operator := l.operator
	l.mu.Unlock()

	if c.ToOperator && operator != nil && !c.Hidden {
		operator.NotifyOperator(l.ID, c)
	}

	return result, nil
}

// deliverLocked applies the comm's interrupt policy and enqueues it for the
// target minion. Returns how many pending comms a hard interrupt dropped.
func (l *Legion) deliverLocked(ctx context.Context, m *Minion, c *Comm) int {
	q := l.queues[m.ID]
	if q == nil {
		return 0
	}
	policy, _ := policyFor(c.Type)

	dropped := 0
	switch policy.interrupt {
	case InterruptHard:
		// Redirect: discard everything pending, stop the current turn,
		// and put the minion back to work on the new direction.
		dropped = q.Clear()
		l.interruptLocked(ctx, m)
		q.Enqueue(c)
		if m.State == StatePaused {
			l.setStateLocked(m, StateActive)
		}
		l.pumpLocked(ctx, m.ID)

	case InterruptSoft:
		// Stop and hold: the queue survives, the minion waits for a
		// resume or a redirect.
		l.interruptLocked(ctx, m)
		q.Enqueue(c)
		l.setStateLocked(m, StatePaused)

	default:
		q.Enqueue(c)
		if m.State != StatePaused {
			l.pumpLocked(ctx, m.ID)
		}
	}
	return dropped
}

func (l *Legion) interruptLocked(ctx context.Context, m *Minion) {
	if l.runtime == nil || !m.State.running() {
		return
	}
	if err := l.runtime.Interrupt(ctx, m.ID); err != nil {
		slog.Warn("interrupt failed", "minion", m.ID, "error", err)
	}
}

// pumpLocked starts the delivery pump for one minion's queue if it is not
// already running. The pump's TryLock makes it a single consumer, which is
// what preserves FIFO order.
func (l *Legion) pumpLocked(ctx context.Context, minionID string) {
	q := l.queues[minionID]
	if q == nil || !q.TryLock() {
		return
	}
	go l.pump(ctx, q)
}

func (l *Legion) pump(ctx context.Context, q *minionQueue) {
	defer q.Unlock()

	for {
		l.mu.Lock()
		m, ok := l.minions[q.minionID]
		if !ok || m.State == StatePaused || m.State == StateTerminated {
			l.mu.Unlock()
			return
		}
		c, ok := q.Dequeue()
		if !ok {
			l.mu.Unlock()
			return
		}
		turn := Turn{
			CommID:  c.ID,
			From:    c.Sender(l.nameOfLocked),
			Content: c.Content,
			Type:    c.Type,
		}
		if m.State == StateActive {
			l.setStateLocked(m, StateProcessing)
		}
		rt := l.runtime
		l.mu.Unlock()

		if rt == nil {
			continue
		}
		if err := rt.Deliver(ctx, q.minionID, turn); err != nil {
			slog.Error("turn delivery failed", "minion", q.minionID, "comm", c.ID, "error", err)
			l.SetState(q.minionID, StateError)
			return
		}
	}
}

// Resume puts a paused minion back to active and restarts its pump. The
// preserved queue drains in order; nothing is replayed or reordered.
func (l *Legion) Resume(ctx context.Context, minionRef string) error {
	l.mu.Lock()
	m, err := l.resolveMinionLocked(minionRef)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if m.State != StatePaused {
		l.mu.Unlock()
		return fmt.Errorf("%w: minion %s is %s, not paused", ErrValidation, m.Name, m.State)
	}
	l.setStateLocked(m, StateActive)
	l.pumpLocked(ctx, m.ID)
	l.mu.Unlock()
	return nil
}

func (l *Legion) resolveMinionLocked(ref string) (*Minion, error) {
	if m, ok := l.minions[ref]; ok {
		return m, nil
	}
	if id, ok := l.names[ref]; ok {
		return l.minions[id], nil
	}
	return nil, fmt.Errorf("%w: minion %q", ErrNotFound, ref)
}

func (l *Legion) resolveChannelLocked(ref string) (*Channel, error) {
	if ch, ok := l.channels[ref]; ok {
		return ch, nil
	}
	if id, ok := l.channelNames[ref]; ok {
		return l.channels[id], nil
	}
	return nil, fmt.Errorf("%w: channel %q", ErrNotFound, ref)
}

func (l *Legion) nameOfLocked(id string) string {
	if m, ok := l.minions[id]; ok {
		return m.Name
	}
	return ""
}

func (l *Legion) destLabelLocked(c *Comm) string {
	switch {
	case c.ToOperator:
		return "operator"
	case c.ToChannel != "":
		if ch, ok := l.channels[c.ToChannel]; ok {
			return "#" + ch.Name
		}
		return c.ToChannel
	default:
		return l.nameOfLocked(c.ToMinion)
	}
}

func (l *Legion) appendMinionLogLocked(minionID string, c *Comm) {
	if l.logs == nil {
		return
	}
	if err := l.logs.AppendMinion(l.ID, minionID, c); err != nil {
		slog.Warn("failed to append minion log", "minion", minionID, "error", err)
	}
}

// archiveCommLocked writes the queryable copy. Best effort: the JSONL logs
// are the record, the database is for history queries.
func (l *Legion) archiveCommLocked(c *Comm) {
	if l.store == nil {
		return
	}

	var tags json.RawMessage
	if c.Tags != nil {
		tags, _ = json.Marshal(c.Tags)
	}
	err := l.store.SaveComm(&store.Comm{
		ID:          c.ID,
		LegionID:    l.ID,
		Source:      c.Sender(l.nameOfLocked),
		Destination: l.destLabelLocked(c),
		CommType:    string(c.Type),
		Content:     c.Content,
		ReplyTo:     c.ReplyTo,
		Hidden:      c.Hidden,
		Tags:        tags,
	})
	if err != nil {
		slog.Warn("failed to archive comm", "comm", c.ID, "error", err)
	}
}
