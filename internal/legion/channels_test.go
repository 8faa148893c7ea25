package legion

import (
	"context"
	"errors"
	"testing"
)

func TestCreateChannelDuplicateName(t *testing.T) {
	env := newTestEnv(t, 10)

	if _, err := env.legion.CreateChannel(ChannelSpec{Name: "general"}); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if _, err := env.legion.CreateChannel(ChannelSpec{Name: "general"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if _, err := env.legion.CreateChannel(ChannelSpec{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty name error = %v, want ErrValidation", err)
	}
}

func TestCreateChannelMinionCreatorJoins(t *testing.T) {
	env := newTestEnv(t, 10)
	m := env.mustCreate(t, "scout")

	ch, err := env.legion.CreateChannel(ChannelSpec{Name: "intel", Creator: m.ID})
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if ch.Creator != m.ID {
		t.Errorf("creator = %s, want %s", ch.Creator, m.ID)
	}
	if !ch.Members[m.ID] {
		t.Error("creating minion did not auto-join")
	}

	now, _ := env.legion.Minion(m.ID)
	if !now.ChannelIDs[ch.ID] {
		t.Error("minion does not track its channel membership")
	}
}

func TestJoinLeaveIdempotent(t *testing.T) {
	env := newTestEnv(t, 10)
	m := env.mustCreate(t, "scout")
	if _, err := env.legion.CreateChannel(ChannelSpec{Name: "intel"}); err != nil {
		t.Fatalf("create channel: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := env.legion.JoinChannel("scout", "intel"); err != nil {
			t.Fatalf("join #%d: %v", i, err)
		}
	}
	ch, _ := env.legion.ChannelByName("intel")
	if len(ch.Members) != 1 {
		t.Errorf("members = %d after double join, want 1", len(ch.Members))
	}

	for i := 0; i < 2; i++ {
		if err := env.legion.LeaveChannel(m.ID, "intel"); err != nil {
			t.Fatalf("leave #%d: %v", i, err)
		}
	}
	ch, _ = env.legion.ChannelByName("intel")
	if len(ch.Members) != 0 {
		t.Errorf("members = %d after leave, want 0", len(ch.Members))
	}
}

func TestJoinChannelUnknownRefs(t *testing.T) {
	env := newTestEnv(t, 10)
	env.mustCreate(t, "scout")
	if _, err := env.legion.CreateChannel(ChannelSpec{Name: "intel"}); err != nil {
		t.Fatalf("create channel: %v", err)
	}

	if err := env.legion.JoinChannel("phantom", "intel"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown minion error = %v, want ErrNotFound", err)
	}
	if err := env.legion.JoinChannel("scout", "phantom"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown channel error = %v, want ErrNotFound", err)
	}
}

func TestListChannelsSorted(t *testing.T) {
	env := newTestEnv(t, 10)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := env.legion.CreateChannel(ChannelSpec{Name: name}); err != nil {
			t.Fatalf("create channel %s: %v", name, err)
		}
	}

	channels := env.legion.ListChannels()
	want := []string{"alpha", "mid", "zeta"}
	if len(channels) != len(want) {
		t.Fatalf("got %d channels, want %d", len(channels), len(want))
	}
	for i, ch := range channels {
		if ch.Name != want[i] {
			t.Errorf("position %d: got %s, want %s", i, ch.Name, want[i])
		}
	}
}

func TestDisposalLeavesChannels(t *testing.T) {
	env := newTestEnv(t, 10)
	root := env.mustCreate(t, "root")
	env.mustSpawn(t, root.ID, "child")
	if _, err := env.legion.CreateChannel(ChannelSpec{Name: "intel"}); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if err := env.legion.JoinChannel("child", "intel"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, _, err := env.legion.Dispose(context.Background(), root.ID, "child"); err != nil {
		t.Fatalf("dispose: %v", err)
	}

	ch, _ := env.legion.ChannelByName("intel")
	if len(ch.Members) != 0 {
		t.Errorf("disposed minion still a channel member: %v", ch.Members)
	}
}
