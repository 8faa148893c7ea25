package legion

import (
	"context"
	"testing"

	"github.com/legionhq/legiond/internal/commlog"
	"github.com/legionhq/legiond/internal/config"
	"github.com/legionhq/legiond/internal/natsbus"
)

func newOutputEnv(t *testing.T) (*Coordinator, *Legion, *fakeRuntime, *recordOperator, *natsbus.Client) {
	t.Helper()

	bus, err := natsbus.New(config.NATSConfig{Port: 0, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(bus.Close)

	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	t.Cleanup(client.Close)

	logs, err := commlog.New(t.TempDir())
	if err != nil {
		t.Fatalf("create commlog: %v", err)
	}

	rt := newFakeRuntime()
	co := NewCoordinator(rt, nil, logs, &recordSink{})
	op := &recordOperator{}
	co.SetOperatorSink(op)

	l, err := co.CreateLegion("test", 10)
	if err != nil {
		t.Fatalf("create legion: %v", err)
	}

	h := NewOutputHandler(co, client)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start output handler: %v", err)
	}
	t.Cleanup(h.Stop)

	return co, l, rt, op, client
}

func publishOutput(t *testing.T, client *natsbus.Client, minionID, outType, content string) {
	t.Helper()
	err := client.PublishJSON(natsbus.TopicMinionOutput(minionID), sessionOutput{
		Type:    outType,
		Content: content,
	})
	if err != nil {
		t.Fatalf("publish output: %v", err)
	}
	client.Flush()
}

func TestResultReportsToParent(t *testing.T) {
	_, l, rt, _, client := newOutputEnv(t)
	root, err := l.CreateMinion(context.Background(), MinionSpec{Name: "root"})
	if err != nil {
		t.Fatalf("create minion: %v", err)
	}
	child, err := l.Spawn(context.Background(), root.ID, MinionSpec{Name: "child"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	publishOutput(t, client, child.ID, "result", "analysis complete")

	waitFor(t, func() bool {
		for _, turn := range rt.deliveredTo(root.ID) {
			if turn.Type == CommReport && turn.Content == "analysis complete" {
				return true
			}
		}
		return false
	}, "report delivery to parent")

	waitFor(t, func() bool {
		m, _ := l.Minion(child.ID)
		return m.State == StateActive || m.State == StateProcessing
	}, "child back from processing")
}

func TestResultFromRootReportsToOperator(t *testing.T) {
	_, l, _, op, client := newOutputEnv(t)
	root, err := l.CreateMinion(context.Background(), MinionSpec{Name: "root"})
	if err != nil {
		t.Fatalf("create minion: %v", err)
	}

	publishOutput(t, client, root.ID, "result", "done")

	waitFor(t, func() bool { return op.count() >= 1 }, "operator report")
	op.mu.Lock()
	defer op.mu.Unlock()
	last := op.comms[len(op.comms)-1]
	if last.Type != CommReport || last.Content != "done" {
		t.Errorf("operator comm = %+v", last)
	}
}

func TestThoughtStaysHidden(t *testing.T) {
	_, l, _, op, client := newOutputEnv(t)
	root, err := l.CreateMinion(context.Background(), MinionSpec{Name: "root"})
	if err != nil {
		t.Fatalf("create minion: %v", err)
	}

	publishOutput(t, client, root.ID, "thought", "considering options")

	// Thoughts land in the timeline but never reach the operator sink.
	logs := l.logs
	waitFor(t, func() bool {
		comms, err := commlog.ReadAll[Comm](logs.TimelinePath(l.ID))
		if err != nil {
			return false
		}
		for _, c := range comms {
			if c.Type == CommThought && c.Hidden {
				return true
			}
		}
		return false
	}, "thought in timeline")

	if op.count() != 0 {
		t.Errorf("hidden thought reached the operator sink")
	}
}

func TestSessionErrorFlipsState(t *testing.T) {
	_, l, _, op, client := newOutputEnv(t)
	root, err := l.CreateMinion(context.Background(), MinionSpec{Name: "root"})
	if err != nil {
		t.Fatalf("create minion: %v", err)
	}

	publishOutput(t, client, root.ID, "error", "container crashed")

	waitFor(t, func() bool {
		m, _ := l.Minion(root.ID)
		return m.State == StateError
	}, "error state")

	waitFor(t, func() bool { return op.count() >= 1 }, "operator error notice")
	op.mu.Lock()
	defer op.mu.Unlock()
	last := op.comms[len(op.comms)-1]
	if last.Type != CommSystem || last.Content != "session error: container crashed" {
		t.Errorf("operator comm = %+v", last)
	}
}
