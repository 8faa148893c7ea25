package legion

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/legionhq/legiond/internal/natsbus"
)

// sessionOutput is what a minion session publishes on its output subject.
type sessionOutput struct {
	Type    string `json:"type"` // result, thought, error
	Content string `json:"content"`
}

// OutputHandler turns raw session output back into comms: results become
// reports to the minion's overseer (or the operator for horde roots),
// thoughts become hidden operator-visible comms, errors flip the minion's
// state.
type OutputHandler struct {
	co     *Coordinator
	client *natsbus.Client
	sub    *nats.Subscription
}

func NewOutputHandler(co *Coordinator, client *natsbus.Client) *OutputHandler {
	return &OutputHandler{co: co, client: client}
}

func (h *OutputHandler) Start(ctx context.Context) error {
	sub, err := h.client.Subscribe(natsbus.TopicMinionOutputAll, func(msg *nats.Msg) {
		h.handle(ctx, msg)
	})
	if err != nil {
		return err
	}
	h.sub = sub
	return nil
}

func (h *OutputHandler) Stop() {
	if h.sub != nil {
		_ = h.sub.Unsubscribe()
	}
}

func (h *OutputHandler) handle(ctx context.Context, msg *nats.Msg) {
	// Subject is minion.{minionID}.output.
	minionID := strings.TrimPrefix(msg.Subject, "minion.")
	minionID = strings.TrimSuffix(minionID, ".output")

	var out sessionOutput
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		slog.Warn("invalid session output", "minion", minionID, "error", err)
		return
	}

	l, m, ok := h.co.LegionOf(minionID)
	if !ok {
		return
	}

	switch out.Type {
	case "result":
		l.SetState(m.ID, StateActive)
		h.routeReport(ctx, l, m, out.Content)
	case "thought":
		h.routeThought(ctx, l, m, out.Content)
	case "error":
		slog.Error("minion session error", "minion", m.Name, "error", out.Content)
		l.SetState(m.ID, StateError)
		h.routeError(ctx, l, m, out.Content)
	default:
		slog.Debug("unhandled session output", "minion", m.Name, "type", out.Type)
	}
}

// routeReport sends a minion's turn result up the hierarchy: to its parent
// overseer, or to the operator when the minion is a horde root.
func (h *OutputHandler) routeReport(ctx context.Context, l *Legion, m Minion, content string) {
	c := Comm{
		FromMinion: m.ID,
		Type:       CommReport,
		Content:    content,
	}
	if m.ParentID != "" {
		c.ToMinion = m.ParentID
	} else {
		c.ToOperator = true
	}

	comm, err := NewComm(c)
	if err != nil {
		slog.Warn("failed to build report comm", "minion", m.Name, "error", err)
		return
	}
	if _, err := l.Route(ctx, comm); err != nil {
		slog.Warn("failed to route report", "minion", m.Name, "error", err)
	}
}

func (h *OutputHandler) routeThought(ctx context.Context, l *Legion, m Minion, content string) {
	comm, err := NewComm(Comm{
		FromMinion: m.ID,
		ToOperator: true,
		Type:       CommThought,
		Content:    content,
	})
	if err != nil {
		return
	}
	if _, err := l.Route(ctx, comm); err != nil {
		slog.Warn("failed to route thought", "minion", m.Name, "error", err)
	}
}

func (h *OutputHandler) routeError(ctx context.Context, l *Legion, m Minion, content string) {
	comm, err := NewComm(Comm{
		FromMinion: m.ID,
		ToOperator: true,
		Type:       CommSystem,
		Content:    "session error: " + content,
	})
	if err != nil {
		return
	}
	if _, err := l.Route(ctx, comm); err != nil {
		slog.Warn("failed to route error report", "minion", m.Name, "error", err)
	}
}
