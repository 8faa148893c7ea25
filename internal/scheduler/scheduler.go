// Package scheduler fires scheduled comms: recurring or one-off operator
// messages delivered to a minion or a channel on a cron, interval, or
// fixed-time schedule.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/legionhq/legiond/internal/config"
	"github.com/legionhq/legiond/internal/legion"
	"github.com/legionhq/legiond/internal/schedule"
	"github.com/legionhq/legiond/internal/store"
)

type Scheduler struct {
	store        *store.Store
	co           *legion.Coordinator
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, co *legion.Coordinator, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		co:           co,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdatePollInterval changes the poll cadence and signals the run loop to
// reset its ticker.
func (s *Scheduler) UpdatePollInterval(interval time.Duration) {
	s.pollInterval = interval
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler poll interval reloaded", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.DueScheduledComms(time.Now())
	if err != nil {
		slog.Error("failed to get due scheduled comms", "error", err)
		return
	}

	for _, sc := range due {
		s.fire(ctx, sc)
	}
}

// fire routes one scheduled comm as the operator. A target starting with
// '#' addresses a channel, anything else a minion by name.
func (s *Scheduler) fire(ctx context.Context, sc store.ScheduledComm) {
	slog.Info("firing scheduled comm", "id", sc.ID, "name", sc.Name, "target", sc.Target)

	runErr := s.route(ctx, sc)

	var lastError string
	if runErr != nil {
		lastError = runErr.Error()
		slog.Error("scheduled comm failed", "id", sc.ID, "error", runErr)
	}

	next := schedule.CalculateNextRun(sc.Schedule)
	if err := s.store.MarkScheduledRun(sc.ID, next, lastError); err != nil {
		slog.Error("failed to record scheduled run", "id", sc.ID, "error", err)
	}
	if next == nil {
		slog.Info("scheduled comm completed", "id", sc.ID, "name", sc.Name)
	}
}

func (s *Scheduler) route(ctx context.Context, sc store.ScheduledComm) error {
	l, ok := s.co.Legion(sc.LegionID)
	if !ok {
		return legion.ErrNotFound
	}

	spec := legion.Comm{
		FromOperator: true,
		Type:         legion.CommType(sc.CommType),
		Content:      sc.Content,
	}
	if spec.Type == "" {
		spec.Type = legion.CommTask
	}
	if channel, ok := strings.CutPrefix(sc.Target, "#"); ok {
		spec.ToChannel = channel
	} else {
		spec.ToMinion = sc.Target
	}

	c, err := legion.NewComm(spec)
	if err != nil {
		return err
	}
	_, err = l.Route(ctx, c)
	return err
}
