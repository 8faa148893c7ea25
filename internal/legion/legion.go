// Package legion implements the orchestration core: minion lifecycle and
// hierarchy, comm routing with interrupt semantics, channel broadcast,
// capability discovery, and fleet-wide control.
package legion

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/legionhq/legiond/internal/commlog"
	"github.com/legionhq/legiond/internal/store"
)

// Legion is one orchestration domain: the registries for its minions,
// hordes, and channels, plus a capacity bound. All mutating operations
// serialize behind the one mutex; status reads take the read lock. That
// single lock is also what makes spawn/dispose/capacity-check sequences
// atomic as a unit.
type Legion struct {
	ID         string
	Name       string
	MaxMinions int
	CreatedAt  time.Time

	mu           sync.RWMutex
	minions      map[string]*Minion // id → minion
	names        map[string]string  // name → id
	hordes       map[string]*Horde
	channels     map[string]*Channel // id → channel
	channelNames map[string]string   // name → id
	queues       map[string]*minionQueue
	caps         *capabilityIndex
	activeCount  int
	commCount    int64

	runtime  Runtime
	store    *store.Store
	logs     *commlog.Log
	events   EventSink
	operator OperatorSink
}

func newLegion(id, name string, maxMinions int, rt Runtime, s *store.Store, logs *commlog.Log, events EventSink) *Legion {
	if maxMinions <= 0 {
		maxMinions = 20
	}
	return &Legion{
		ID:           id,
		Name:         name,
		MaxMinions:   maxMinions,
		CreatedAt:    time.Now().UTC(),
		minions:      make(map[string]*Minion),
		names:        make(map[string]string),
		hordes:       make(map[string]*Horde),
		channels:     make(map[string]*Channel),
		channelNames: make(map[string]string),
		queues:       make(map[string]*minionQueue),
		caps:         newCapabilityIndex(),
		runtime:      rt,
		store:        s,
		logs:         logs,
		events:       events,
	}
}

// Minion returns a copy of the minion with the given id.
func (l *Legion) Minion(id string) (Minion, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.minions[id]
	if !ok {
		return Minion{}, false
	}
	return copyMinion(m), true
}

// MinionByName returns a copy of the minion with the given name.
func (l *Legion) MinionByName(name string) (Minion, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.names[name]
	if !ok {
		return Minion{}, false
	}
	return copyMinion(l.minions[id]), true
}

// ListMinions returns copies of all minions, ordered by creation time.
func (l *Legion) ListMinions() []Minion {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Minion, 0, len(l.minions))
	for _, m := range l.minions {
		out = append(out, copyMinion(m))
	}
	sortMinions(out)
	return out
}

// Horde returns a copy of the horde with the given id.
func (l *Legion) Horde(id string) (Horde, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.hordes[id]
	if !ok {
		return Horde{}, false
	}
	return copyHorde(h), true
}

// ActiveCount is the number of live (non-terminated) minions.
func (l *Legion) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.activeCount
}

// QueueLen reports the pending comm count for one minion's delivery queue.
func (l *Legion) QueueLen(minionID string) int {
	l.mu.RLock()
	q := l.queues[minionID]
	l.mu.RUnlock()
	if q == nil {
		return 0
	}
	return q.Len()
}

func (l *Legion) publishEvent(eventType string, data map[string]any) {
	if l.events == nil {
		return
	}
	l.events.Publish(Event{
		Type:      eventType,
		LegionID:  l.ID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

// setStateLocked transitions a minion and emits a state_change event.
// Terminated is final; transitions out of it are ignored.
func (l *Legion) setStateLocked(m *Minion, state MinionState) {
	if m.State == StateTerminated || m.State == state {
		return
	}
	from := m.State
	m.State = state
	l.publishEvent("state_change", map[string]any{
		"minion_id": m.ID,
		"name":      m.Name,
		"from":      from,
		"to":        state,
	})
}

// SetState transitions a minion by id. Used by the session output handler
// to flip between processing and active, and to surface runtime errors.
func (l *Legion) SetState(minionID string, state MinionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.minions[minionID]
	if !ok {
		return
	}
	l.setStateLocked(m, state)
	m.LastActive = time.Now().UTC()
}

// Snapshot is the wholesale-overwritten JSON state record for one legion.
type Snapshot struct {
	LegionID    string    `json:"legion_id"`
	Name        string    `json:"name"`
	MaxMinions  int       `json:"max_minions"`
	ActiveCount int       `json:"active_count"`
	CommCount   int64     `json:"comm_count"`
	Minions     []Minion  `json:"minions"`
	Hordes      []Horde   `json:"hordes"`
	Channels    []Channel `json:"channels"`
	WrittenAt   time.Time `json:"written_at"`
}

// snapshotLocked writes the current registry state. Snapshot failures are
// logged, not fatal; the append-only comm logs are the durable record.
func (l *Legion) snapshotLocked() {
	if l.logs == nil {
		return
	}

	snap := Snapshot{
		LegionID:    l.ID,
		Name:        l.Name,
		MaxMinions:  l.MaxMinions,
		ActiveCount: l.activeCount,
		CommCount:   l.commCount,
		WrittenAt:   time.Now().UTC(),
	}
	for _, m := range l.minions {
		snap.Minions = append(snap.Minions, copyMinion(m))
	}
	sortMinions(snap.Minions)
	for _, h := range l.hordes {
		snap.Hordes = append(snap.Hordes, copyHorde(h))
	}
	for _, c := range l.channels {
		snap.Channels = append(snap.Channels, copyChannel(c))
	}

	if err := l.logs.WriteSnapshot(l.ID, &snap); err != nil {
		slog.Warn("failed to write legion snapshot", "legion", l.ID, "error", err)
	}
}

func copyMinion(m *Minion) Minion {
	out := *m
	out.ChildIDs = append([]string(nil), m.ChildIDs...)
	out.Capabilities = append([]string(nil), m.Capabilities...)
	out.ChannelIDs = copySet(m.ChannelIDs)
	return out
}

func copyHorde(h *Horde) Horde {
	out := *h
	out.MemberIDs = copySet(h.MemberIDs)
	return out
}

func copyChannel(c *Channel) Channel {
	out := *c
	out.Members = copySet(c.Members)
	return out
}

func copySet(set map[string]bool) map[string]bool {
	if set == nil {
		return nil
	}
	out := make(map[string]bool, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out
}

func sortMinions(minions []Minion) {
	sort.Slice(minions, func(i, j int) bool {
		if minions[i].CreatedAt.Equal(minions[j].CreatedAt) {
			return minions[i].Name < minions[j].Name
		}
		return minions[i].CreatedAt.Before(minions[j].CreatedAt)
	})
}
