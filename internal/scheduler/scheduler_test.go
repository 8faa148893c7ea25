package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/legionhq/legiond/internal/commlog"
	"github.com/legionhq/legiond/internal/config"
	"github.com/legionhq/legiond/internal/legion"
	"github.com/legionhq/legiond/internal/store"
)

// stubRuntime records delivered turns; sessions start and stop silently.
type stubRuntime struct {
	mu        sync.Mutex
	delivered []legion.Turn
}

func (r *stubRuntime) StartSession(ctx context.Context, spec legion.SessionSpec) error { return nil }
func (r *stubRuntime) StopSession(ctx context.Context, minionID string) error         { return nil }
func (r *stubRuntime) Interrupt(ctx context.Context, minionID string) error           { return nil }

func (r *stubRuntime) Deliver(ctx context.Context, minionID string, turn legion.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, turn)
	return nil
}

func (r *stubRuntime) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delivered)
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store, *legion.Legion, *stubRuntime) {
	t.Helper()

	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logs, err := commlog.New(t.TempDir())
	if err != nil {
		t.Fatalf("create commlog: %v", err)
	}

	rt := &stubRuntime{}
	co := legion.NewCoordinator(rt, s, logs, nil)
	l, err := co.CreateLegion("test", 10)
	if err != nil {
		t.Fatalf("create legion: %v", err)
	}

	sched := New(s, co, config.SchedulerConfig{PollInterval: time.Second})
	return sched, s, l, rt
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestPollFiresDueComm(t *testing.T) {
	sched, s, l, rt := newTestScheduler(t)
	if _, err := l.CreateMinion(context.Background(), legion.MinionSpec{Name: "scout"}); err != nil {
		t.Fatalf("create minion: %v", err)
	}

	past := time.Now().Add(-time.Minute)
	sc := &store.ScheduledComm{
		ID:        "s1",
		LegionID:  l.ID,
		Name:      "standup",
		Schedule:  `{"kind":"interval","interval_ms":3600000}`,
		Target:    "scout",
		Content:   "daily standup",
		NextRunAt: &past,
	}
	if err := s.SaveScheduledComm(sc); err != nil {
		t.Fatalf("save scheduled comm: %v", err)
	}

	sched.poll(context.Background())

	waitFor(t, func() bool { return rt.count() == 1 }, "scheduled delivery")
	rt.mu.Lock()
	turn := rt.delivered[0]
	rt.mu.Unlock()
	if turn.From != "operator" || turn.Content != "daily standup" || turn.Type != legion.CommTask {
		t.Errorf("turn = %+v", turn)
	}

	// The run is recorded and the next one pushed into the future.
	got, err := s.GetScheduledComm("s1")
	if err != nil {
		t.Fatalf("get scheduled comm: %v", err)
	}
	if got.LastRunAt == nil || got.LastError != "" {
		t.Errorf("after run: %+v", got)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Errorf("next run = %v, want future", got.NextRunAt)
	}

	// Polling again before the next run must not refire.
	sched.poll(context.Background())
	time.Sleep(50 * time.Millisecond)
	if rt.count() != 1 {
		t.Errorf("poll refired: %d deliveries", rt.count())
	}
}

func TestPollRoutesChannelTarget(t *testing.T) {
	sched, s, l, rt := newTestScheduler(t)
	if _, err := l.CreateMinion(context.Background(), legion.MinionSpec{Name: "analyst"}); err != nil {
		t.Fatalf("create minion: %v", err)
	}
	if _, err := l.CreateChannel(legion.ChannelSpec{Name: "reports"}); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if err := l.JoinChannel("analyst", "reports"); err != nil {
		t.Fatalf("join channel: %v", err)
	}

	past := time.Now().Add(-time.Minute)
	sc := &store.ScheduledComm{
		ID:        "s1",
		LegionID:  l.ID,
		Name:      "weekly",
		Schedule:  `{"kind":"interval","interval_ms":3600000}`,
		Target:    "#reports",
		CommType:  "guide",
		Content:   "compile the weekly digest",
		NextRunAt: &past,
	}
	if err := s.SaveScheduledComm(sc); err != nil {
		t.Fatalf("save scheduled comm: %v", err)
	}

	sched.poll(context.Background())

	waitFor(t, func() bool { return rt.count() == 1 }, "channel delivery")
	rt.mu.Lock()
	turn := rt.delivered[0]
	rt.mu.Unlock()
	if turn.Type != legion.CommGuide {
		t.Errorf("turn type = %s, want guide", turn.Type)
	}
}

func TestPollRecordsFailure(t *testing.T) {
	sched, s, l, rt := newTestScheduler(t)

	// One-shot schedule aimed at a minion that does not exist.
	past := time.Now().Add(-time.Minute)
	sc := &store.ScheduledComm{
		ID:        "s1",
		LegionID:  l.ID,
		Name:      "doomed",
		Schedule:  `{"kind":"once","at_ms":1}`,
		Target:    "phantom",
		Content:   "never delivered",
		NextRunAt: &past,
	}
	if err := s.SaveScheduledComm(sc); err != nil {
		t.Fatalf("save scheduled comm: %v", err)
	}

	sched.poll(context.Background())

	got, err := s.GetScheduledComm("s1")
	if err != nil {
		t.Fatalf("get scheduled comm: %v", err)
	}
	if got.LastError == "" {
		t.Error("failure not recorded")
	}
	// An expired one-shot has no next run; it completes.
	if got.Status != "completed" {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if rt.count() != 0 {
		t.Errorf("delivered %d turns to a phantom target", rt.count())
	}
}
