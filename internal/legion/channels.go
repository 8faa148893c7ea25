package legion

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/legionhq/legiond/internal/store"
)

// ChannelSpec describes a channel to create. Creator is "operator" or the
// creating minion's id; the creator joins automatically when it is a minion.
type ChannelSpec struct {
	Name        string
	Description string
	Purpose     string
	Creator     string
}

// CreateChannel creates a named broadcast group. Channel names are unique
// within the legion.
func (l *Legion) CreateChannel(spec ChannelSpec) (Channel, error) {
	l.mu.Lock()

	if spec.Name == "" {
		l.mu.Unlock()
		return Channel{}, fmt.Errorf("%w: channel name is required", ErrValidation)
	}
	if _, exists := l.channelNames[spec.Name]; exists {
		l.mu.Unlock()
		return Channel{}, fmt.Errorf("%w: channel %q already exists", ErrValidation, spec.Name)
	}

	creator := spec.Creator
	if creator == "" {
		creator = "operator"
	}

	ch := &Channel{
		ID:          uuid.New().String(),
		Name:        spec.Name,
		Description: spec.Description,
		Purpose:     spec.Purpose,
		Creator:     creator,
		Members:     make(map[string]bool),
		CreatedAt:   time.Now().UTC(),
	}

	if m, ok := l.minions[creator]; ok {
		ch.Members[m.ID] = true
		if m.ChannelIDs == nil {
			m.ChannelIDs = make(map[string]bool)
		}
		m.ChannelIDs[ch.ID] = true
	}

	l.channels[ch.ID] = ch
	l.channelNames[ch.Name] = ch.ID
	l.persistChannelLocked(ch)
	l.publishEvent("channel_created", map[string]any{
		"channel_id": ch.ID,
		"name":       ch.Name,
		"creator":    ch.Creator,
	})
	l.snapshotLocked()
	out := copyChannel(ch)
	l.mu.Unlock()

	slog.Info("channel created", "legion", l.ID, "channel", ch.ID, "name", ch.Name)
	return out, nil
}

// JoinChannel adds a minion to a channel. Both references accept an id or a
// name. Joining a channel the minion already belongs to is a no-op.
func (l *Legion) JoinChannel(minionRef, channelRef string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.resolveMinionLocked(minionRef)
	if err != nil {
		return err
	}
	ch, err := l.resolveChannelLocked(channelRef)
	if err != nil {
		return err
	}

	if ch.Members[m.ID] {
		return nil
	}
	ch.Members[m.ID] = true
	if m.ChannelIDs == nil {
		m.ChannelIDs = make(map[string]bool)
	}
	m.ChannelIDs[ch.ID] = true

	l.persistChannelLocked(ch)
	l.publishEvent("channel_joined", map[string]any{
		"channel_id": ch.ID,
		"channel":    ch.Name,
		"minion_id":  m.ID,
		"minion":     m.Name,
	})
	l.snapshotLocked()
	return nil
}

// LeaveChannel removes a minion from a channel. Leaving a channel the
// minion is not in is a no-op.
func (l *Legion) LeaveChannel(minionRef, channelRef string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.resolveMinionLocked(minionRef)
	if err != nil {
		return err
	}
	ch, err := l.resolveChannelLocked(channelRef)
	if err != nil {
		return err
	}

	if !ch.Members[m.ID] {
		return nil
	}
	delete(ch.Members, m.ID)
	delete(m.ChannelIDs, ch.ID)

	l.persistChannelLocked(ch)
	l.publishEvent("channel_left", map[string]any{
		"channel_id": ch.ID,
		"channel":    ch.Name,
		"minion_id":  m.ID,
		"minion":     m.Name,
	})
	l.snapshotLocked()
	return nil
}

// ChannelByName returns a copy of the channel with the given name.
func (l *Legion) ChannelByName(name string) (Channel, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.channelNames[name]
	if !ok {
		return Channel{}, false
	}
	return copyChannel(l.channels[id]), true
}

// ListChannels returns copies of all channels, ordered by name.
func (l *Legion) ListChannels() []Channel {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Channel, 0, len(l.channels))
	for _, ch := range l.channels {
		out = append(out, copyChannel(ch))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (l *Legion) persistChannelLocked(ch *Channel) {
	if l.store == nil {
		return
	}
	err := l.store.SaveChannel(&store.Channel{
		ID:          ch.ID,
		LegionID:    l.ID,
		Name:        ch.Name,
		Description: ch.Description,
		Purpose:     ch.Purpose,
		Creator:     ch.Creator,
	})
	if err != nil {
		slog.Warn("failed to persist channel record", "channel", ch.ID, "error", err)
	}
}
