// Package telegram bridges the operator chat: comms addressed to the
// operator land in a Telegram chat, and chat messages become operator comms
// addressed with @minion or #channel prefixes.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/legionhq/legiond/internal/config"
	"github.com/legionhq/legiond/internal/legion"
)

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	co      *legion.Coordinator
	cfg     config.TelegramConfig
	cancel  context.CancelFunc
}

func NewBot(cfg config.TelegramConfig, co *legion.Coordinator) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Bot{
		bot: bot,
		co:  co,
		cfg: cfg,
	}, nil
}

// NotifyOperator delivers an operator-bound comm to the chat. Implements
// the coordinator's operator sink.
func (b *Bot) NotifyOperator(legionID string, c *legion.Comm) {
	if b.cfg.ChatID == 0 {
		return
	}

	sender := "minion"
	if l, ok := b.co.Legion(legionID); ok {
		if m, found := l.Minion(c.FromMinion); found {
			sender = m.Name
		}
	}
	if c.FromOperator {
		sender = "operator"
	}

	text := fmt.Sprintf("*%s* (%s)\n%s", sender, c.Type, c.Content)
	if err := b.SendMessage(context.Background(), b.cfg.ChatID, text); err != nil {
		slog.Error("failed to send telegram message", "chat", b.cfg.ChatID, "error", err)
	}
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	chatID := msg.Chat.ID

	if b.cfg.ChatID != 0 && chatID != b.cfg.ChatID {
		slog.Warn("message from unauthorized chat", "chat_id", chatID)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	reply := b.dispatch(ctx, text)
	if reply != "" {
		if err := b.SendMessage(ctx, chatID, reply); err != nil {
			slog.Error("failed to reply", "chat", chatID, "error", err)
		}
	}
}

// dispatch interprets one chat message. Slash commands inspect the fleet;
// @minion and #channel prefixes route comms as the operator.
func (b *Bot) dispatch(ctx context.Context, text string) string {
	switch {
	case text == "/status":
		return b.statusReply()
	case text == "/minions":
		return b.minionsReply()
	case strings.HasPrefix(text, "@"), strings.HasPrefix(text, "#"):
		return b.routeReply(ctx, text)
	default:
		return "Address a minion with @name or a channel with #name. /status and /minions inspect the fleet."
	}
}

func (b *Bot) routeReply(ctx context.Context, text string) string {
	target, content, found := strings.Cut(text, " ")
	if !found || strings.TrimSpace(content) == "" {
		return "Usage: @minion message, or #channel message"
	}

	legions := b.co.ListLegions()
	if len(legions) == 0 {
		return "No legions running."
	}
	l := legions[0]

	spec := legion.Comm{
		FromOperator: true,
		Type:         legion.CommTask,
		Content:      strings.TrimSpace(content),
	}
	if name, ok := strings.CutPrefix(target, "#"); ok {
		spec.ToChannel = name
	} else {
		spec.ToMinion = strings.TrimPrefix(target, "@")
	}

	c, err := legion.NewComm(spec)
	if err != nil {
		return "Invalid comm: " + err.Error()
	}
	result, err := l.Route(ctx, c)
	if err != nil {
		return "Routing failed: " + err.Error()
	}
	return fmt.Sprintf("Delivered to %d recipient(s).", result.MembersNotified)
}

func (b *Bot) statusReply() string {
	var sb strings.Builder
	for _, l := range b.co.ListLegions() {
		st := l.Status()
		fmt.Fprintf(&sb, "*%s*: %d minions (%d active, %d paused, %d errored), %d hordes, %d channels, %d comms\n",
			st.Name, st.Minions, st.Active, st.Paused, st.Errored, st.Hordes, st.Channels, st.Comms)
	}
	if sb.Len() == 0 {
		return "No legions running."
	}
	return sb.String()
}

func (b *Bot) minionsReply() string {
	var sb strings.Builder
	for _, l := range b.co.ListLegions() {
		for _, m := range l.ListMinions() {
			fmt.Fprintf(&sb, "@%s (%s) - %s\n", m.Name, m.Role, m.State)
		}
	}
	if sb.Len() == 0 {
		return "No minions."
	}
	return sb.String()
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	text = toTelegramMarkdown(text)
	for _, chunk := range chunkMessage(text, 4096) {
		msg := tu.Message(tu.ID(chatID), chunk)
		if _, err := b.bot.SendMessage(ctx, msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}
