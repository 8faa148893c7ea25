package legion

import (
	"context"
	"errors"
	"testing"
)

func TestSearchCapabilityRanking(t *testing.T) {
	env := newTestEnv(t, 10)
	env.mustCreate(t, "alice", "go-programming", "code-review")
	env.mustCreate(t, "bob", "python-programming")
	env.mustCreate(t, "carol", "writing")

	matches := env.legion.SearchCapability("programming")
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	// Equal default scores fall back to name order.
	if matches[0].MinionName != "alice" || matches[1].MinionName != "bob" {
		t.Errorf("order = %s, %s", matches[0].MinionName, matches[1].MinionName)
	}
	for _, m := range matches {
		if m.Score != defaultExpertise {
			t.Errorf("%s score = %v, want default %v", m.MinionName, m.Score, defaultExpertise)
		}
	}
}

func TestSearchCapabilityCaseInsensitive(t *testing.T) {
	env := newTestEnv(t, 10)
	env.mustCreate(t, "alice", "Go-Programming")

	if got := env.legion.SearchCapability("GO-PROG"); len(got) != 1 {
		t.Errorf("uppercase keyword: %d matches, want 1", len(got))
	}
	if got := env.legion.SearchCapability("  programming "); len(got) != 1 {
		t.Errorf("padded keyword: %d matches, want 1", len(got))
	}
}

func TestSearchCapabilityEmptyAndUnknown(t *testing.T) {
	env := newTestEnv(t, 10)
	env.mustCreate(t, "alice", "writing")

	if got := env.legion.SearchCapability(""); got != nil {
		t.Errorf("empty keyword returned %v", got)
	}
	if got := env.legion.SearchCapability("welding"); len(got) != 0 {
		t.Errorf("unknown keyword returned %v", got)
	}
}

func TestSearchExcludesDisposed(t *testing.T) {
	env := newTestEnv(t, 10)
	root := env.mustCreate(t, "root")
	env.mustSpawn(t, root.ID, "worker", "analysis")

	if got := env.legion.SearchCapability("analysis"); len(got) != 1 {
		t.Fatalf("before disposal: %d matches, want 1", len(got))
	}
	if _, _, err := env.legion.Dispose(context.Background(), root.ID, "worker"); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if got := env.legion.SearchCapability("analysis"); len(got) != 0 {
		t.Errorf("disposed minion still matched: %v", got)
	}
}

func TestSetExpertiseReordersResults(t *testing.T) {
	env := newTestEnv(t, 10)
	env.mustCreate(t, "alice", "research")
	env.mustCreate(t, "bob", "research")

	if err := env.legion.SetExpertise("bob", "research", 0.9); err != nil {
		t.Fatalf("set expertise: %v", err)
	}

	matches := env.legion.SearchCapability("research")
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].MinionName != "bob" || matches[0].Score != 0.9 {
		t.Errorf("top match = %s (%v), want bob (0.9)", matches[0].MinionName, matches[0].Score)
	}
}

func TestSetExpertiseClampsScore(t *testing.T) {
	env := newTestEnv(t, 10)
	env.mustCreate(t, "alice", "research")

	if err := env.legion.SetExpertise("alice", "research", 4.2); err != nil {
		t.Fatalf("set expertise: %v", err)
	}
	if got := env.legion.SearchCapability("research"); got[0].Score != 1 {
		t.Errorf("score = %v, want clamped to 1", got[0].Score)
	}

	if err := env.legion.SetExpertise("alice", "research", -3); err != nil {
		t.Fatalf("set expertise: %v", err)
	}
	if got := env.legion.SearchCapability("research"); got[0].Score != 0 {
		t.Errorf("score = %v, want clamped to 0", got[0].Score)
	}
}

func TestSetExpertiseUnknownCapability(t *testing.T) {
	env := newTestEnv(t, 10)
	env.mustCreate(t, "alice", "research")

	if err := env.legion.SetExpertise("alice", "welding", 0.8); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown capability error = %v, want ErrNotFound", err)
	}
	if err := env.legion.SetExpertise("phantom", "research", 0.8); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown minion error = %v, want ErrNotFound", err)
	}
}

func TestAddCapability(t *testing.T) {
	env := newTestEnv(t, 10)
	m := env.mustCreate(t, "alice", "research")

	if err := env.legion.AddCapability("alice", "synthesis"); err != nil {
		t.Fatalf("add capability: %v", err)
	}
	// Re-adding is a no-op, not a duplicate.
	if err := env.legion.AddCapability("alice", "synthesis"); err != nil {
		t.Fatalf("re-add capability: %v", err)
	}

	now, _ := env.legion.Minion(m.ID)
	if len(now.Capabilities) != 2 {
		t.Errorf("capabilities = %v, want 2 entries", now.Capabilities)
	}
	if got := env.legion.SearchCapability("synthesis"); len(got) != 1 || got[0].Score != defaultExpertise {
		t.Errorf("new capability not searchable at default score: %v", got)
	}

	if err := env.legion.AddCapability("alice", "  "); !errors.Is(err, ErrValidation) {
		t.Errorf("blank capability error = %v, want ErrValidation", err)
	}
}
