package legion

import (
	"context"
	"errors"
	"testing"

	"github.com/legionhq/legiond/internal/commlog"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeRuntime) {
	t.Helper()
	logs, err := commlog.New(t.TempDir())
	if err != nil {
		t.Fatalf("create commlog: %v", err)
	}
	rt := newFakeRuntime()
	return NewCoordinator(rt, nil, logs, &recordSink{}), rt
}

func TestCreateLegionDuplicateName(t *testing.T) {
	co, _ := newTestCoordinator(t)

	if _, err := co.CreateLegion("prod", 5); err != nil {
		t.Fatalf("create legion: %v", err)
	}
	if _, err := co.CreateLegion("prod", 5); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if _, err := co.CreateLegion("", 5); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty name error = %v, want ErrValidation", err)
	}
}

func TestLegionLookupByIDOrName(t *testing.T) {
	co, _ := newTestCoordinator(t)
	l, err := co.CreateLegion("prod", 5)
	if err != nil {
		t.Fatalf("create legion: %v", err)
	}

	if got, ok := co.Legion(l.ID); !ok || got.ID != l.ID {
		t.Error("lookup by id failed")
	}
	if got, ok := co.Legion("prod"); !ok || got.ID != l.ID {
		t.Error("lookup by name failed")
	}
	if _, ok := co.Legion("staging"); ok {
		t.Error("lookup of unknown legion succeeded")
	}
}

func TestLegionOf(t *testing.T) {
	co, _ := newTestCoordinator(t)
	co.CreateLegion("one", 5)
	l2, _ := co.CreateLegion("two", 5)

	m, err := l2.CreateMinion(context.Background(), MinionSpec{Name: "scout"})
	if err != nil {
		t.Fatalf("create minion: %v", err)
	}

	owner, found, ok := co.LegionOf(m.ID)
	if !ok || owner.ID != l2.ID || found.Name != "scout" {
		t.Errorf("LegionOf = %v, %v, %v", owner, found, ok)
	}
	if _, _, ok := co.LegionOf("phantom"); ok {
		t.Error("LegionOf found a phantom minion")
	}
}

func TestDeleteLegionCascades(t *testing.T) {
	co, rt := newTestCoordinator(t)
	l, _ := co.CreateLegion("prod", 10)

	root, err := l.CreateMinion(context.Background(), MinionSpec{Name: "root"})
	if err != nil {
		t.Fatalf("create minion: %v", err)
	}
	if _, err := l.Spawn(context.Background(), root.ID, MinionSpec{Name: "child"}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := l.CreateMinion(context.Background(), MinionSpec{Name: "other"}); err != nil {
		t.Fatalf("create minion: %v", err)
	}

	if err := co.DeleteLegion(context.Background(), "prod"); err != nil {
		t.Fatalf("delete legion: %v", err)
	}
	if _, ok := co.Legion("prod"); ok {
		t.Error("legion still registered after delete")
	}
	if rt.stoppedCount() != 3 {
		t.Errorf("stopped %d sessions, want 3", rt.stoppedCount())
	}

	if err := co.DeleteLegion(context.Background(), "prod"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestListLegionsOrdered(t *testing.T) {
	co, _ := newTestCoordinator(t)
	co.CreateLegion("first", 5)
	co.CreateLegion("second", 5)

	legions := co.ListLegions()
	if len(legions) != 2 {
		t.Fatalf("got %d legions, want 2", len(legions))
	}
	if legions[0].Name != "first" || legions[1].Name != "second" {
		t.Errorf("order = %s, %s", legions[0].Name, legions[1].Name)
	}
}

func TestHaltAllResumeAll(t *testing.T) {
	env := newTestEnv(t, 10)
	a := env.mustCreate(t, "alpha")
	b := env.mustCreate(t, "beta")

	halted := env.legion.HaltAll(context.Background())
	if halted != 2 {
		t.Fatalf("halted = %d, want 2", halted)
	}
	for _, id := range []string{a.ID, b.ID} {
		if m, _ := env.legion.Minion(id); m.State != StatePaused {
			t.Errorf("minion %s state = %s, want paused", m.Name, m.State)
		}
	}
	if env.runtime.interruptCount(a.ID) != 1 || env.runtime.interruptCount(b.ID) != 1 {
		t.Error("halt did not interrupt each working minion once")
	}

	// Work queued while halted waits for the resume.
	env.mustRoute(t, Comm{FromOperator: true, ToMinion: a.ID, Type: CommTask, Content: "queued work"})
	if got := env.runtime.deliveredTo(a.ID); len(got) != 0 {
		t.Errorf("delivered while halted: %v", got)
	}

	resumed := env.legion.ResumeAll(context.Background())
	if resumed != 2 {
		t.Fatalf("resumed = %d, want 2", resumed)
	}
	waitFor(t, func() bool {
		return len(env.runtime.deliveredTo(a.ID)) == 1
	}, "queued work delivery")

	if m, _ := env.legion.Minion(b.ID); m.State != StateActive {
		t.Errorf("idle minion state after resume = %s, want active", m.State)
	}
}
