package legion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/legionhq/legiond/internal/store"
)

// MinionSpec is the caller-supplied description of a minion to create.
type MinionSpec struct {
	Name         string
	Role         string
	Instructions string
	Capabilities []string
	Channels     []string // channel names to join at creation
}

// CreateMinion creates an operator-rooted minion: a new horde with this
// minion as its root. Name and capacity checks run before any mutation;
// on a precondition failure nothing changes.
func (l *Legion) CreateMinion(ctx context.Context, spec MinionSpec) (Minion, error) {
	l.mu.Lock()

	m, err := l.registerMinionLocked(spec, "", "")
	if err != nil {
		l.mu.Unlock()
		return Minion{}, err
	}

	l.startSessionLocked(ctx, m)
	l.snapshotLocked()
	out := copyMinion(m)
	l.mu.Unlock()

	slog.Info("minion created", "legion", l.ID, "minion", m.ID, "name", m.Name)
	return out, nil
}

// Spawn creates a child minion under parentID. The child joins the parent's
// horde; the parent becomes an overseer. A SPAWN notification comm is routed
// toward the operator.
func (l *Legion) Spawn(ctx context.Context, parentID string, spec MinionSpec) (Minion, error) {
	l.mu.Lock()

	parent, ok := l.minions[parentID]
	if !ok {
		l.mu.Unlock()
		return Minion{}, fmt.Errorf("%w: parent minion %s", ErrNotFound, parentID)
	}
	if !parent.State.running() {
		l.mu.Unlock()
		return Minion{}, fmt.Errorf("%w: parent minion %s is %s", ErrNotFound, parent.Name, parent.State)
	}

	m, err := l.registerMinionLocked(spec, parent.ID, parent.HordeID)
	if err != nil {
		l.mu.Unlock()
		return Minion{}, err
	}

	parent.ChildIDs = append(parent.ChildIDs, m.ID)
	parent.IsOverseer = true

	l.startSessionLocked(ctx, m)
	l.persistMinionLocked(parent)
	l.snapshotLocked()
	out := copyMinion(m)
	l.mu.Unlock()

	slog.Info("minion spawned", "legion", l.ID, "parent", parent.Name, "minion", m.ID, "name", m.Name)

	notice, err := NewComm(Comm{
		FromMinion: parent.ID,
		ToOperator: true,
		Type:       CommSpawn,
		Content:    fmt.Sprintf("%s spawned minion %s (%s)", parent.Name, spec.Name, spec.Role),
	})
	if err == nil {
		if _, err := l.Route(ctx, notice); err != nil {
			slog.Warn("failed to route spawn notification", "minion", m.ID, "error", err)
		}
	}

	return out, nil
}

// registerMinionLocked runs the shared precondition checks and registry
// bookkeeping for create and spawn. An empty hordeID starts a new horde
// with this minion as root.
func (l *Legion) registerMinionLocked(spec MinionSpec, parentID, hordeID string) (*Minion, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: minion name is required", ErrValidation)
	}
	if _, exists := l.names[spec.Name]; exists {
		return nil, fmt.Errorf("%w: minion name %q already exists", ErrValidation, spec.Name)
	}
	if l.activeCount >= l.MaxMinions {
		return nil, fmt.Errorf("%w: %d of %d minions running", ErrCapacity, l.activeCount, l.MaxMinions)
	}

	// Resolve channel names up front so a bad reference fails before any
	// registry mutation.
	channelIDs := make([]string, 0, len(spec.Channels))
	for _, name := range spec.Channels {
		id, ok := l.channelNames[name]
		if !ok {
			return nil, fmt.Errorf("%w: channel %q", ErrNotFound, name)
		}
		channelIDs = append(channelIDs, id)
	}

	now := time.Now().UTC()
	m := &Minion{
		ID:           uuid.New().String(),
		Name:         spec.Name,
		Role:         spec.Role,
		State:        StateCreated,
		ParentID:     parentID,
		HordeID:      hordeID,
		Capabilities: append([]string(nil), spec.Capabilities...),
		Instructions: spec.Instructions,
		CreatedAt:    now,
		LastActive:   now,
	}

	if hordeID == "" {
		h := &Horde{
			ID:        uuid.New().String(),
			RootID:    m.ID,
			MemberIDs: map[string]bool{m.ID: true},
			CreatedAt: now,
		}
		m.HordeID = h.ID
		l.hordes[h.ID] = h
	} else {
		l.hordes[hordeID].MemberIDs[m.ID] = true
	}

	l.minions[m.ID] = m
	l.names[m.Name] = m.ID
	l.queues[m.ID] = newMinionQueue(m.ID)
	l.caps.Register(m.ID, m.Capabilities)
	l.activeCount++

	for _, chID := range channelIDs {
		l.channels[chID].Members[m.ID] = true
		if m.ChannelIDs == nil {
			m.ChannelIDs = make(map[string]bool)
		}
		m.ChannelIDs[chID] = true
	}

	l.persistMinionLocked(m)

	l.publishEvent("minion_spawned", map[string]any{
		"minion_id": m.ID,
		"name":      m.Name,
		"role":      m.Role,
		"parent_id": m.ParentID,
		"horde_id":  m.HordeID,
	})

	return m, nil
}

// startSessionLocked starts the session runtime for a freshly registered
// minion. A runtime failure marks the minion errored; it never unwinds the
// registration and never takes the orchestrator down.
func (l *Legion) startSessionLocked(ctx context.Context, m *Minion) {
	if l.runtime == nil {
		l.setStateLocked(m, StateActive)
		return
	}

	err := l.runtime.StartSession(ctx, SessionSpec{
		MinionID:     m.ID,
		LegionID:     l.ID,
		Name:         m.Name,
		Role:         m.Role,
		Instructions: m.Instructions,
	})
	if err != nil {
		slog.Error("session start failed", "minion", m.ID, "name", m.Name, "error", err)
		l.setStateLocked(m, StateError)
		return
	}
	l.setStateLocked(m, StateActive)
}

// Dispose removes a direct child of parentID by name, along with the
// child's entire subtree, children first. Only the direct parent may
// dispose a minion: naming any other minion in the legion is a permission
// error, not a lookup miss. Returns the disposed minion's id and how many
// additional descendants went with it.
func (l *Legion) Dispose(ctx context.Context, parentID, childName string) (string, int, error) {
	l.mu.Lock()

	parent, ok := l.minions[parentID]
	if !ok {
		l.mu.Unlock()
		return "", 0, fmt.Errorf("%w: minion %s", ErrNotFound, parentID)
	}

	var target *Minion
	for _, childID := range parent.ChildIDs {
		if child := l.minions[childID]; child != nil && child.Name == childName {
			target = child
			break
		}
	}
	if target == nil {
		l.mu.Unlock()
		if _, exists := l.names[childName]; exists {
			return "", 0, fmt.Errorf("%w: %s is not a child of %s", ErrPermission, childName, parent.Name)
		}
		return "", 0, fmt.Errorf("%w: minion %q", ErrNotFound, childName)
	}

	disposed := l.disposeSubtreeLocked(ctx, target)
	l.detachChildLocked(parent, target.ID)
	l.snapshotLocked()
	l.mu.Unlock()

	slog.Info("minion disposed", "legion", l.ID, "minion", target.ID, "name", childName, "descendants", disposed-1)

	notice, err := NewComm(Comm{
		FromMinion: parent.ID,
		ToOperator: true,
		Type:       CommDispose,
		Content:    fmt.Sprintf("%s disposed minion %s (+%d descendants)", parent.Name, childName, disposed-1),
	})
	if err == nil {
		if _, err := l.Route(ctx, notice); err != nil {
			slog.Warn("failed to route dispose notification", "minion", target.ID, "error", err)
		}
	}

	return target.ID, disposed - 1, nil
}

// ForceTerminate is the operator escape hatch: cascading disposal of any
// minion and its subtree with no parent-authority check. Terminating a
// horde root destroys the horde.
func (l *Legion) ForceTerminate(ctx context.Context, minionID string) (int, error) {
	l.mu.Lock()

	target, ok := l.minions[minionID]
	if !ok {
		l.mu.Unlock()
		return 0, fmt.Errorf("%w: minion %s", ErrNotFound, minionID)
	}

	name := target.Name
	disposed := l.disposeSubtreeLocked(ctx, target)
	if target.ParentID != "" {
		if parent, ok := l.minions[target.ParentID]; ok {
			l.detachChildLocked(parent, target.ID)
		}
	}
	l.snapshotLocked()
	l.mu.Unlock()

	slog.Info("minion force-terminated", "legion", l.ID, "minion", minionID, "name", name, "descendants", disposed-1)

	notice, err := NewComm(Comm{
		FromOperator: true,
		ToOperator:   true,
		Type:         CommDispose,
		Content:      fmt.Sprintf("operator terminated minion %s (+%d descendants)", name, disposed-1),
	})
	if err == nil {
		if _, err := l.Route(ctx, notice); err != nil {
			slog.Warn("failed to route terminate notification", "minion", minionID, "error", err)
		}
	}

	return disposed - 1, nil
}

// disposeSubtreeLocked tears down target and every transitive descendant,
// depth-first: each minion's own children are disposed before the minion
// itself. The walk is iterative with an explicit stack so arbitrarily deep
// hierarchies cannot exhaust the call stack. Once started it runs to
// completion; individual runtime stop failures are logged and skipped.
// Returns the total number of minions disposed, target included.
func (l *Legion) disposeSubtreeLocked(ctx context.Context, target *Minion) int {
	// Pre-order walk, then dispose in reverse: children always precede
	// their parent in the reversed order.
	order := make([]string, 0, 8)
	stack := []string{target.ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		m, ok := l.minions[id]
		if !ok {
			continue
		}
		order = append(order, id)
		stack = append(stack, m.ChildIDs...)
	}

	for i := len(order) - 1; i >= 0; i-- {
		l.disposeOneLocked(ctx, l.minions[order[i]])
	}
	return len(order)
}

func (l *Legion) disposeOneLocked(ctx context.Context, m *Minion) {
	l.caps.Deregister(m.ID)

	if l.runtime != nil && m.State.running() {
		if err := l.runtime.StopSession(ctx, m.ID); err != nil {
			slog.Warn("session stop failed during disposal", "minion", m.ID, "error", err)
		}
	}

	if m.State != StateTerminated {
		l.activeCount--
	}
	m.State = StateTerminated
	m.IsOverseer = false
	m.ChildIDs = nil

	if h, ok := l.hordes[m.HordeID]; ok {
		delete(h.MemberIDs, m.ID)
		if h.RootID == m.ID {
			delete(l.hordes, m.HordeID)
		}
	}

	for chID := range m.ChannelIDs {
		if ch, ok := l.channels[chID]; ok {
			delete(ch.Members, m.ID)
		}
	}

	delete(l.names, m.Name)
	delete(l.queues, m.ID)
	delete(l.minions, m.ID)

	if l.store != nil {
		if err := l.store.DeleteMinion(m.ID); err != nil {
			slog.Warn("failed to delete minion record", "minion", m.ID, "error", err)
		}
	}

	l.publishEvent("minion_disposed", map[string]any{
		"minion_id": m.ID,
		"name":      m.Name,
		"horde_id":  m.HordeID,
	})
}

// detachChildLocked removes a disposed child from its parent's child list
// and clears the overseer flag when the last child is gone.
func (l *Legion) detachChildLocked(parent *Minion, childID string) {
	for i, id := range parent.ChildIDs {
		if id == childID {
			parent.ChildIDs = append(parent.ChildIDs[:i], parent.ChildIDs[i+1:]...)
			break
		}
	}
	if len(parent.ChildIDs) == 0 {
		parent.IsOverseer = false
	}
	l.persistMinionLocked(parent)
}

func (l *Legion) persistMinionLocked(m *Minion) {
	if l.store == nil {
		return
	}
	err := l.store.SaveMinion(&store.Minion{
		ID:         m.ID,
		LegionID:   l.ID,
		Name:       m.Name,
		Role:       m.Role,
		State:      string(m.State),
		ParentID:   m.ParentID,
		HordeID:    m.HordeID,
		IsOverseer: m.IsOverseer,
	})
	if err != nil {
		slog.Warn("failed to persist minion record", "minion", m.ID, "error", err)
	}
}
