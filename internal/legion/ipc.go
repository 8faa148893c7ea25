package legion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/legionhq/legiond/internal/natsbus"
)

// ToolCommand is the envelope every minion tool call arrives in. The
// subject carries the calling minion's id; the payload shape depends on
// the command type.
type ToolCommand struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ToolServer answers minion tool calls over request/reply on the bus.
// Every command is authorized as the calling minion: a minion can only
// act through its own subject.
type ToolServer struct {
	co     *Coordinator
	client *natsbus.Client
	sub    *nats.Subscription
}

func NewToolServer(co *Coordinator, client *natsbus.Client) *ToolServer {
	return &ToolServer{co: co, client: client}
}

func (t *ToolServer) Start(ctx context.Context) error {
	sub, err := t.client.Subscribe(natsbus.TopicToolAll, func(msg *nats.Msg) {
		t.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe tool topic: %w", err)
	}
	t.sub = sub
	return nil
}

func (t *ToolServer) Stop() {
	if t.sub != nil {
		_ = t.sub.Unsubscribe()
	}
}

func (t *ToolServer) handle(ctx context.Context, msg *nats.Msg) {
	var cmd ToolCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		slog.Warn("invalid tool command", "error", err)
		t.respond(msg, map[string]any{"error": "invalid command"})
		return
	}

	// Subject is host.tool.{minionID}.
	minionID := strings.TrimPrefix(msg.Subject, "host.tool.")

	l, caller, ok := t.co.LegionOf(minionID)
	if !ok {
		t.respond(msg, map[string]any{"error": "unknown minion"})
		return
	}

	slog.Info("tool command received", "type", cmd.Type, "minion", caller.Name)

	switch cmd.Type {
	case "send_comm":
		t.sendComm(ctx, msg, l, caller, cmd.Payload, false)
	case "send_comm_to_channel":
		t.sendComm(ctx, msg, l, caller, cmd.Payload, true)
	case "spawn_minion":
		t.spawnMinion(ctx, msg, l, caller, cmd.Payload)
	case "dispose_minion":
		t.disposeMinion(ctx, msg, l, caller, cmd.Payload)
	case "search_capability":
		t.searchCapability(msg, l, cmd.Payload)
	case "list_minions":
		t.listMinions(msg, l)
	case "get_minion_info":
		t.getMinionInfo(msg, l, cmd.Payload)
	case "create_channel":
		t.createChannel(msg, l, caller, cmd.Payload)
	case "join_channel":
		t.joinChannel(msg, l, caller, cmd.Payload)
	case "list_channels":
		t.listChannels(msg, l)
	default:
		slog.Warn("unknown tool command", "type", cmd.Type)
		t.respond(msg, map[string]any{"error": "unknown command: " + cmd.Type})
	}
}

func (t *ToolServer) respond(msg *nats.Msg, data any) {
	resp, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to marshal tool response", "error", err)
		return
	}
	if err := msg.Respond(resp); err != nil {
		slog.Error("failed to respond to tool call", "error", err)
	}
}

// respondErr maps the error taxonomy onto the short strings minions see.
func (t *ToolServer) respondErr(msg *nats.Msg, err error) {
	var label string
	switch {
	case errors.Is(err, ErrCapacity):
		label = "at capacity"
	case errors.Is(err, ErrPermission):
		label = "not your child"
	case errors.Is(err, ErrNotFound):
		label = "not found"
	case errors.Is(err, ErrValidation):
		label = "invalid: " + err.Error()
	default:
		label = err.Error()
	}
	t.respond(msg, map[string]any{"error": label})
}

func (t *ToolServer) sendComm(ctx context.Context, msg *nats.Msg, l *Legion, caller Minion, payload json.RawMessage, toChannel bool) {
	var req struct {
		To      string `json:"to"`
		Type    string `json:"type"`
		Content string `json:"content"`
		ReplyTo string `json:"reply_to"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		t.respond(msg, map[string]any{"error": "invalid payload"})
		return
	}

	c := Comm{
		FromMinion: caller.ID,
		Content:    req.Content,
		Type:       CommType(req.Type),
		ReplyTo:    req.ReplyTo,
	}
	switch {
	case toChannel:
		c.ToChannel = strings.TrimPrefix(req.To, "#")
	case req.To == "operator":
		c.ToOperator = true
	default:
		c.ToMinion = req.To
	}
	if !ValidCommType(c.Type) {
		t.respond(msg, map[string]any{"error": "invalid type: " + req.Type})
		return
	}

	routed, err := NewComm(c)
	if err != nil {
		t.respondErr(msg, err)
		return
	}
	result, err := l.Route(ctx, routed)
	if err != nil {
		t.respondErr(msg, err)
		return
	}
	t.respond(msg, map[string]any{
		"ok":       true,
		"comm_id":  result.CommID,
		"notified": result.MembersNotified,
	})
}

func (t *ToolServer) spawnMinion(ctx context.Context, msg *nats.Msg, l *Legion, caller Minion, payload json.RawMessage) {
	var req struct {
		Name         string   `json:"name"`
		Role         string   `json:"role"`
		Instructions string   `json:"instructions"`
		Capabilities []string `json:"capabilities"`
		Channels     []string `json:"channels"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		t.respond(msg, map[string]any{"error": "invalid payload"})
		return
	}

	m, err := l.Spawn(ctx, caller.ID, MinionSpec{
		Name:         req.Name,
		Role:         req.Role,
		Instructions: req.Instructions,
		Capabilities: req.Capabilities,
		Channels:     req.Channels,
	})
	if err != nil {
		t.respondErr(msg, err)
		return
	}
	t.respond(msg, map[string]any{
		"ok":        true,
		"minion_id": m.ID,
		"name":      m.Name,
		"state":     m.State,
	})
}

func (t *ToolServer) disposeMinion(ctx context.Context, msg *nats.Msg, l *Legion, caller Minion, payload json.RawMessage) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		t.respond(msg, map[string]any{"error": "invalid payload"})
		return
	}

	id, descendants, err := l.Dispose(ctx, caller.ID, req.Name)
	if err != nil {
		t.respondErr(msg, err)
		return
	}
	t.respond(msg, map[string]any{
		"ok":          true,
		"minion_id":   id,
		"descendants": descendants,
	})
}

func (t *ToolServer) searchCapability(msg *nats.Msg, l *Legion, payload json.RawMessage) {
	var req struct {
		Keyword string `json:"keyword"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		t.respond(msg, map[string]any{"error": "invalid payload"})
		return
	}
	t.respond(msg, map[string]any{
		"ok":      true,
		"matches": l.SearchCapability(req.Keyword),
	})
}

func (t *ToolServer) listMinions(msg *nats.Msg, l *Legion) {
	minions := l.ListMinions()
	out := make([]map[string]any, 0, len(minions))
	for _, m := range minions {
		out = append(out, map[string]any{
			"name":  m.Name,
			"role":  m.Role,
			"state": m.State,
		})
	}
	t.respond(msg, map[string]any{"ok": true, "minions": out})
}

func (t *ToolServer) getMinionInfo(msg *nats.Msg, l *Legion, payload json.RawMessage) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		t.respond(msg, map[string]any{"error": "invalid payload"})
		return
	}
	m, ok := l.MinionByName(req.Name)
	if !ok {
		t.respond(msg, map[string]any{"error": "not found"})
		return
	}
	t.respond(msg, map[string]any{
		"ok":           true,
		"minion_id":    m.ID,
		"name":         m.Name,
		"role":         m.Role,
		"state":        m.State,
		"is_overseer":  m.IsOverseer,
		"capabilities": m.Capabilities,
	})
}

func (t *ToolServer) createChannel(msg *nats.Msg, l *Legion, caller Minion, payload json.RawMessage) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Purpose     string `json:"purpose"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		t.respond(msg, map[string]any{"error": "invalid payload"})
		return
	}

	ch, err := l.CreateChannel(ChannelSpec{
		Name:        req.Name,
		Description: req.Description,
		Purpose:     req.Purpose,
		Creator:     caller.ID,
	})
	if err != nil {
		t.respondErr(msg, err)
		return
	}
	t.respond(msg, map[string]any{"ok": true, "channel_id": ch.ID, "name": ch.Name})
}

func (t *ToolServer) joinChannel(msg *nats.Msg, l *Legion, caller Minion, payload json.RawMessage) {
	var req struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		t.respond(msg, map[string]any{"error": "invalid payload"})
		return
	}
	if err := l.JoinChannel(caller.ID, strings.TrimPrefix(req.Channel, "#")); err != nil {
		t.respondErr(msg, err)
		return
	}
	t.respond(msg, map[string]any{"ok": true})
}

func (t *ToolServer) listChannels(msg *nats.Msg, l *Legion) {
	channels := l.ListChannels()
	out := make([]map[string]any, 0, len(channels))
	for _, ch := range channels {
		out = append(out, map[string]any{
			"name":        ch.Name,
			"description": ch.Description,
			"members":     len(ch.Members),
		})
	}
	t.respond(msg, map[string]any{"ok": true, "channels": out})
}
