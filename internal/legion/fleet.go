package legion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/legionhq/legiond/internal/commlog"
	"github.com/legionhq/legiond/internal/store"
)

// Coordinator manages the fleet of legions and owns the shared
// collaborators every legion routes through.
type Coordinator struct {
	mu      sync.RWMutex
	legions map[string]*Legion

	runtime  Runtime
	store    *store.Store
	logs     *commlog.Log
	events   EventSink
	operator OperatorSink
}

func NewCoordinator(rt Runtime, s *store.Store, logs *commlog.Log, events EventSink) *Coordinator {
	return &Coordinator{
		legions: make(map[string]*Legion),
		runtime: rt,
		store:   s,
		logs:    logs,
		events:  events,
	}
}

// SetOperatorSink attaches the operator notification bridge. Must be called
// before the coordinator starts routing; not safe to swap at runtime.
func (co *Coordinator) SetOperatorSink(sink OperatorSink) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.operator = sink
	for _, l := range co.legions {
		l.mu.Lock()
		l.operator = sink
		l.mu.Unlock()
	}
}

// CreateLegion registers a new orchestration domain. Zero maxMinions takes
// the default capacity.
func (co *Coordinator) CreateLegion(name string, maxMinions int) (*Legion, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: legion name is required", ErrValidation)
	}

	co.mu.Lock()
	defer co.mu.Unlock()

	for _, existing := range co.legions {
		if existing.Name == name {
			return nil, fmt.Errorf("%w: legion %q already exists", ErrValidation, name)
		}
	}

	l := newLegion(uuid.New().String(), name, maxMinions, co.runtime, co.store, co.logs, co.events)
	l.operator = co.operator
	co.legions[l.ID] = l

	if co.store != nil {
		err := co.store.SaveLegion(&store.Legion{
			ID:         l.ID,
			Name:       l.Name,
			MaxMinions: l.MaxMinions,
		})
		if err != nil {
			slog.Warn("failed to persist legion record", "legion", l.ID, "error", err)
		}
	}

	slog.Info("legion created", "legion", l.ID, "name", name, "max_minions", l.MaxMinions)
	return l, nil
}

// Legion returns the legion with the given id or name.
func (co *Coordinator) Legion(ref string) (*Legion, bool) {
	co.mu.RLock()
	defer co.mu.RUnlock()

	if l, ok := co.legions[ref]; ok {
		return l, true
	}
	for _, l := range co.legions {
		if l.Name == ref {
			return l, true
		}
	}
	return nil, false
}

// ListLegions returns the fleet, ordered by creation time.
func (co *Coordinator) ListLegions() []*Legion {
	co.mu.RLock()
	defer co.mu.RUnlock()

	out := make([]*Legion, 0, len(co.legions))
	for _, l := range co.legions {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// LegionOf finds the legion that owns a minion id. Tool calls arrive keyed
// by minion, not legion, so this is the entry point for the tool surface.
func (co *Coordinator) LegionOf(minionID string) (*Legion, Minion, bool) {
	co.mu.RLock()
	defer co.mu.RUnlock()

	for _, l := range co.legions {
		if m, ok := l.Minion(minionID); ok {
			return l, m, true
		}
	}
	return nil, Minion{}, false
}

// DeleteLegion tears down a legion: every horde root is force-terminated,
// cascading through all minions, then the legion's records are removed.
func (co *Coordinator) DeleteLegion(ctx context.Context, ref string) error {
	l, ok := co.Legion(ref)
	if !ok {
		return fmt.Errorf("%w: legion %q", ErrNotFound, ref)
	}

	for {
		l.mu.RLock()
		var rootID string
		for _, h := range l.hordes {
			rootID = h.RootID
			break
		}
		l.mu.RUnlock()
		if rootID == "" {
			break
		}
		if _, err := l.ForceTerminate(ctx, rootID); err != nil {
			return fmt.Errorf("terminate horde root %s: %w", rootID, err)
		}
	}

	co.mu.Lock()
	delete(co.legions, l.ID)
	co.mu.Unlock()

	if co.store != nil {
		if err := co.store.DeleteLegion(l.ID); err != nil {
			slog.Warn("failed to delete legion records", "legion", l.ID, "error", err)
		}
	}

	slog.Info("legion deleted", "legion", l.ID, "name", l.Name)
	return nil
}

// Status is a point-in-time census of one legion.
type Status struct {
	LegionID   string    `json:"legion_id"`
	Name       string    `json:"name"`
	MaxMinions int       `json:"max_minions"`
	Minions    int       `json:"minions"`
	Active     int       `json:"active"`
	Paused     int       `json:"paused"`
	Processing int       `json:"processing"`
	Errored    int       `json:"errored"`
	Hordes     int       `json:"hordes"`
	Channels   int       `json:"channels"`
	Comms      int64     `json:"comms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Status reports the census for one legion.
func (l *Legion) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := Status{
		LegionID:   l.ID,
		Name:       l.Name,
		MaxMinions: l.MaxMinions,
		Minions:    len(l.minions),
		Hordes:     len(l.hordes),
		Channels:   len(l.channels),
		Comms:      l.commCount,
		CreatedAt:  l.CreatedAt,
	}
	for _, m := range l.minions {
		switch m.State {
		case StateActive:
			st.Active++
		case StatePaused:
			st.Paused++
		case StateProcessing:
			st.Processing++
		case StateError:
			st.Errored++
		}
	}
	return st
}

// HaltAll soft-interrupts every working minion in the legion: current turns
// stop, queues survive, everything lands in paused.
func (l *Legion) HaltAll(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	halted := 0
	for _, m := range l.minions {
		if m.State != StateActive && m.State != StateProcessing {
			continue
		}
		l.interruptLocked(ctx, m)
		l.setStateLocked(m, StatePaused)
		halted++
	}
	if halted > 0 {
		l.publishEvent("halt_all", map[string]any{"halted": halted})
		l.snapshotLocked()
	}
	slog.Info("legion halted", "legion", l.ID, "minions", halted)
	return halted
}

// ResumeAll reactivates every paused minion and restarts their pumps. The
// preserved queues drain in their original order.
func (l *Legion) ResumeAll(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	resumed := 0
	for _, m := range l.minions {
		if m.State != StatePaused {
			continue
		}
		l.setStateLocked(m, StateActive)
		l.pumpLocked(ctx, m.ID)
		resumed++
	}
	if resumed > 0 {
		l.publishEvent("resume_all", map[string]any{"resumed": resumed})
		l.snapshotLocked()
	}
	slog.Info("legion resumed", "legion", l.ID, "minions", resumed)
	return resumed
}
