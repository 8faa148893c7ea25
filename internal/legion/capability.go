package legion

import (
	"fmt"
	"sort"
	"strings"
)

// defaultExpertise is the score assigned to a capability until the operator
// grades it.
const defaultExpertise = 0.5

// capabilityIndex maps minion ids to their declared capabilities and
// expertise scores. Not safe for concurrent use on its own; the owning
// legion's mutex guards it.
type capabilityIndex struct {
	byMinion map[string]map[string]float64 // minion id → capability → score
}

func newCapabilityIndex() *capabilityIndex {
	return &capabilityIndex{byMinion: make(map[string]map[string]float64)}
}

func (idx *capabilityIndex) Register(minionID string, capabilities []string) {
	if len(capabilities) == 0 {
		return
	}
	caps := idx.byMinion[minionID]
	if caps == nil {
		caps = make(map[string]float64, len(capabilities))
		idx.byMinion[minionID] = caps
	}
	for _, c := range capabilities {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, exists := caps[c]; !exists {
			caps[c] = defaultExpertise
		}
	}
}

func (idx *capabilityIndex) Deregister(minionID string) {
	delete(idx.byMinion, minionID)
}

func (idx *capabilityIndex) SetScore(minionID, capability string, score float64) bool {
	caps, ok := idx.byMinion[minionID]
	if !ok {
		return false
	}
	if _, ok := caps[capability]; !ok {
		return false
	}
	caps[capability] = score
	return true
}

// bestMatch returns the highest score among a minion's capabilities that
// contain the keyword, and whether any matched. Matching is case-insensitive
// substring.
func (idx *capabilityIndex) bestMatch(minionID, keyword string) (float64, bool) {
	best, found := 0.0, false
	for c, score := range idx.byMinion[minionID] {
		if strings.Contains(strings.ToLower(c), keyword) {
			if !found || score > best {
				best, found = score, true
			}
		}
	}
	return best, found
}

// CapabilityMatch is one search hit, carrying enough context for the caller
// to pick a delegate.
type CapabilityMatch struct {
	MinionID     string   `json:"minion_id"`
	MinionName   string   `json:"minion_name"`
	Role         string   `json:"role,omitempty"`
	State        string   `json:"state"`
	Capabilities []string `json:"capabilities"`
	Score        float64  `json:"score"`
}

// SearchCapability finds live minions whose capabilities contain the keyword,
// ranked by expertise score descending, name-ordered on ties. Terminated
// minions never appear; an unknown keyword yields an empty result, not an
// error.
func (l *Legion) SearchCapability(keyword string) []CapabilityMatch {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var matches []CapabilityMatch
	for id, m := range l.minions {
		if !m.State.running() {
			continue
		}
		score, ok := l.caps.bestMatch(id, keyword)
		if !ok {
			continue
		}
		matches = append(matches, CapabilityMatch{
			MinionID:     m.ID,
			MinionName:   m.Name,
			Role:         m.Role,
			State:        string(m.State),
			Capabilities: append([]string(nil), m.Capabilities...),
			Score:        score,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].MinionName < matches[j].MinionName
		}
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// SetExpertise grades one capability of one minion. Scores are clamped to
// [0, 1]. Grading is an operator action; minions cannot grade themselves.
func (l *Legion) SetExpertise(minionRef, capability string, score float64) error {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.resolveMinionLocked(minionRef)
	if err != nil {
		return err
	}
	if !l.caps.SetScore(m.ID, capability, score) {
		return fmt.Errorf("%w: capability %q on minion %s", ErrNotFound, capability, m.Name)
	}
	return nil
}

// AddCapability declares an additional capability for a live minion at the
// default score.
func (l *Legion) AddCapability(minionRef, capability string) error {
	capability = strings.TrimSpace(capability)
	if capability == "" {
		return fmt.Errorf("%w: capability is required", ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.resolveMinionLocked(minionRef)
	if err != nil {
		return err
	}
	for _, existing := range m.Capabilities {
		if existing == capability {
			return nil
		}
	}
	m.Capabilities = append(m.Capabilities, capability)
	l.caps.Register(m.ID, []string{capability})
	l.snapshotLocked()
	return nil
}
