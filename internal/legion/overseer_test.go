package legion

import (
	"context"
	"errors"
	"testing"
)

func TestCreateMinionStartsSession(t *testing.T) {
	env := newTestEnv(t, 10)
	m := env.mustCreate(t, "scout", "recon")

	if m.State != StateActive {
		t.Errorf("state = %s, want active", m.State)
	}
	if m.ParentID != "" {
		t.Errorf("operator-created minion has parent %s", m.ParentID)
	}
	if m.HordeID == "" {
		t.Error("minion has no horde")
	}
	if len(env.runtime.started) != 1 || env.runtime.started[0] != m.ID {
		t.Errorf("started sessions = %v", env.runtime.started)
	}

	h, ok := env.legion.Horde(m.HordeID)
	if !ok {
		t.Fatal("horde not registered")
	}
	if h.RootID != m.ID || !h.MemberIDs[m.ID] {
		t.Errorf("horde = %+v, want root %s", h, m.ID)
	}
}

func TestCreateMinionDuplicateName(t *testing.T) {
	env := newTestEnv(t, 10)
	env.mustCreate(t, "scout")

	_, err := env.legion.CreateMinion(context.Background(), MinionSpec{Name: "scout"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if env.legion.ActiveCount() != 1 {
		t.Errorf("active count = %d after failed create", env.legion.ActiveCount())
	}
}

func TestCreateMinionAtCapacity(t *testing.T) {
	env := newTestEnv(t, 2)
	env.mustCreate(t, "one")
	env.mustCreate(t, "two")

	_, err := env.legion.CreateMinion(context.Background(), MinionSpec{Name: "three"})
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("error = %v, want ErrCapacity", err)
	}
	if len(env.runtime.started) != 2 {
		t.Errorf("started %d sessions, want 2", len(env.runtime.started))
	}
	if _, ok := env.legion.MinionByName("three"); ok {
		t.Error("rejected minion was registered")
	}
}

func TestCreateMinionUnknownChannel(t *testing.T) {
	env := newTestEnv(t, 10)
	_, err := env.legion.CreateMinion(context.Background(), MinionSpec{
		Name:     "scout",
		Channels: []string{"nonexistent"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if _, ok := env.legion.MinionByName("scout"); ok {
		t.Error("minion registered despite bad channel reference")
	}
}

func TestCreateMinionRuntimeFailure(t *testing.T) {
	env := newTestEnv(t, 10)
	env.runtime.startErr = errors.New("container boot failed")

	m, err := env.legion.CreateMinion(context.Background(), MinionSpec{Name: "scout"})
	if err != nil {
		t.Fatalf("create should not unwind registration: %v", err)
	}
	if m.State != StateError {
		t.Errorf("state = %s, want error", m.State)
	}
	if env.legion.ActiveCount() != 1 {
		t.Errorf("active count = %d, failed-start minion still counts", env.legion.ActiveCount())
	}
}

func TestSpawnBuildsHierarchy(t *testing.T) {
	env := newTestEnv(t, 10)
	root := env.mustCreate(t, "root")
	child := env.mustSpawn(t, root.ID, "child")
	grand := env.mustSpawn(t, child.ID, "grandchild")

	if child.ParentID != root.ID || grand.ParentID != child.ID {
		t.Error("parent links wrong")
	}
	if child.HordeID != root.HordeID || grand.HordeID != root.HordeID {
		t.Error("descendants must stay in the root's horde")
	}

	rootNow, _ := env.legion.Minion(root.ID)
	if !rootNow.IsOverseer {
		t.Error("parent did not become overseer")
	}
	if len(rootNow.ChildIDs) != 1 || rootNow.ChildIDs[0] != child.ID {
		t.Errorf("root children = %v", rootNow.ChildIDs)
	}

	h, _ := env.legion.Horde(root.HordeID)
	if len(h.MemberIDs) != 3 {
		t.Errorf("horde members = %d, want 3", len(h.MemberIDs))
	}
}

func TestSpawnNotifiesOperator(t *testing.T) {
	env := newTestEnv(t, 10)
	op := &recordOperator{}
	env.co.SetOperatorSink(op)

	root := env.mustCreate(t, "root")
	env.mustSpawn(t, root.ID, "child")

	if op.count() != 1 {
		t.Fatalf("operator notified %d times, want 1", op.count())
	}
	op.mu.Lock()
	notice := op.comms[0]
	op.mu.Unlock()
	if notice.Type != CommSpawn || notice.FromMinion != root.ID {
		t.Errorf("spawn notice = %+v", notice)
	}
}

func TestSpawnUnknownParent(t *testing.T) {
	env := newTestEnv(t, 10)
	_, err := env.legion.Spawn(context.Background(), "no-such-id", MinionSpec{Name: "child"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDisposeCascade(t *testing.T) {
	env := newTestEnv(t, 10)
	root := env.mustCreate(t, "root")
	a := env.mustSpawn(t, root.ID, "a")
	b := env.mustSpawn(t, a.ID, "b")
	sibling := env.mustSpawn(t, root.ID, "sibling")

	id, descendants, err := env.legion.Dispose(context.Background(), root.ID, "a")
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if id != a.ID {
		t.Errorf("disposed id = %s, want %s", id, a.ID)
	}
	if descendants != 1 {
		t.Errorf("descendants = %d, want 1", descendants)
	}

	for _, gone := range []string{a.ID, b.ID} {
		m, ok := env.legion.Minion(gone)
		if !ok {
			continue
		}
		if m.State != StateTerminated {
			t.Errorf("minion %s state = %s, want terminated", m.Name, m.State)
		}
	}
	if m, ok := env.legion.Minion(sibling.ID); !ok || m.State != StateActive {
		t.Error("sibling should be untouched")
	}
	if env.runtime.stoppedCount() != 2 {
		t.Errorf("stopped %d sessions, want 2", env.runtime.stoppedCount())
	}

	// Names free up for reuse once the subtree is gone.
	if _, err := env.legion.CreateMinion(context.Background(), MinionSpec{Name: "a"}); err != nil {
		t.Errorf("name not released after disposal: %v", err)
	}
}

func TestDisposeChildrenBeforeParent(t *testing.T) {
	env := newTestEnv(t, 10)
	root := env.mustCreate(t, "root")
	a := env.mustSpawn(t, root.ID, "a")
	b := env.mustSpawn(t, a.ID, "b")

	if _, _, err := env.legion.Dispose(context.Background(), root.ID, "a"); err != nil {
		t.Fatalf("dispose: %v", err)
	}

	env.runtime.mu.Lock()
	stopped := append([]string(nil), env.runtime.stopped...)
	env.runtime.mu.Unlock()
	if len(stopped) != 2 || stopped[0] != b.ID || stopped[1] != a.ID {
		t.Errorf("stop order = %v, want [%s %s]", stopped, b.ID, a.ID)
	}
}

func TestDisposeRequiresDirectParent(t *testing.T) {
	env := newTestEnv(t, 10)
	root := env.mustCreate(t, "root")
	a := env.mustSpawn(t, root.ID, "a")
	env.mustSpawn(t, a.ID, "b")
	outsider := env.mustCreate(t, "outsider")

	// Grandparent cannot dispose a grandchild.
	_, _, err := env.legion.Dispose(context.Background(), root.ID, "b")
	if !errors.Is(err, ErrPermission) {
		t.Errorf("grandparent dispose error = %v, want ErrPermission", err)
	}

	// Unrelated minion cannot dispose anything.
	_, _, err = env.legion.Dispose(context.Background(), outsider.ID, "a")
	if !errors.Is(err, ErrPermission) {
		t.Errorf("outsider dispose error = %v, want ErrPermission", err)
	}

	// A name nobody holds is a lookup miss, not a permission problem.
	_, _, err = env.legion.Dispose(context.Background(), root.ID, "phantom")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown child error = %v, want ErrNotFound", err)
	}

	if m, ok := env.legion.MinionByName("b"); !ok || m.State != StateActive {
		t.Error("failed dispose must not touch the target")
	}
}

func TestDisposeLastChildClearsOverseer(t *testing.T) {
	env := newTestEnv(t, 10)
	root := env.mustCreate(t, "root")
	env.mustSpawn(t, root.ID, "only")

	if _, _, err := env.legion.Dispose(context.Background(), root.ID, "only"); err != nil {
		t.Fatalf("dispose: %v", err)
	}

	rootNow, _ := env.legion.Minion(root.ID)
	if rootNow.IsOverseer {
		t.Error("root still flagged as overseer with no children")
	}
	if len(rootNow.ChildIDs) != 0 {
		t.Errorf("root children = %v", rootNow.ChildIDs)
	}
}

func TestForceTerminateRoot(t *testing.T) {
	env := newTestEnv(t, 10)
	root := env.mustCreate(t, "root")
	env.mustSpawn(t, root.ID, "a")
	env.mustSpawn(t, root.ID, "b")
	hordeID := root.HordeID

	descendants, err := env.legion.ForceTerminate(context.Background(), root.ID)
	if err != nil {
		t.Fatalf("force terminate: %v", err)
	}
	if descendants != 2 {
		t.Errorf("descendants = %d, want 2", descendants)
	}
	if env.legion.ActiveCount() != 0 {
		t.Errorf("active count = %d, want 0", env.legion.ActiveCount())
	}
	if _, ok := env.legion.Horde(hordeID); ok {
		t.Error("horde should be deleted with its root")
	}
}
