package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/legionhq/legiond/internal/commlog"
	"github.com/legionhq/legiond/internal/config"
	"github.com/legionhq/legiond/internal/container"
	"github.com/legionhq/legiond/internal/legion"
	"github.com/legionhq/legiond/internal/natsbus"
	"github.com/legionhq/legiond/internal/scheduler"
	"github.com/legionhq/legiond/internal/session"
	"github.com/legionhq/legiond/internal/store"
	"github.com/legionhq/legiond/internal/telegram"
	"github.com/legionhq/legiond/internal/vault"
	"github.com/legionhq/legiond/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("legiond %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	case "vault":
		if err := runVault(os.Args[2:]); err != nil {
			slog.Error("vault command failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: legiond <command>

Commands:
  gateway    Start the legiond gateway service
  backup     Archive the data directory to a .tar.zst file
  restore    Restore the data directory from a backup archive
  vault      Manage encrypted secrets
  version    Print version
`)
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting legiond gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Append-only comm logs
	logs, err := commlog.New(cfg.Logs.BasePath)
	if err != nil {
		return fmt.Errorf("init comm logs: %w", err)
	}
	slog.Info("comm logs initialized", "path", cfg.Logs.BasePath)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer client.Close()

	// Secrets vault
	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase)
	} else {
		slog.Warn("vault passphrase not set, secrets disabled")
	}

	// Container manager + session runtime
	ctrMgr, err := container.NewManager(cfg.Runtime)
	if err != nil {
		return fmt.Errorf("init container manager: %w", err)
	}
	if err := ctrMgr.CleanupStale(ctx); err != nil {
		slog.Warn("stale container cleanup failed", "error", err)
	}
	rt := session.NewRuntime(ctrMgr, bus, client, db, v, nil)

	// Fleet coordinator
	co := legion.NewCoordinator(rt, db, logs, legion.NewBusEventSink(client))
	if _, err := co.CreateLegion(cfg.Legion.Name, cfg.Legion.MaxMinions); err != nil {
		return fmt.Errorf("create legion: %w", err)
	}

	// Tool-call surface
	tools := legion.NewToolServer(co, client)
	if err := tools.Start(ctx); err != nil {
		return fmt.Errorf("start tool server: %w", err)
	}
	defer tools.Stop()

	// Session output handler
	outputs := legion.NewOutputHandler(co, client)
	if err := outputs.Start(ctx); err != nil {
		return fmt.Errorf("start output handler: %w", err)
	}
	defer outputs.Stop()

	// Scheduler
	sched := scheduler.New(db, co, cfg.Scheduler)
	go sched.Start(ctx)

	// Telegram operator bridge
	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram, co)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		co.SetOperatorSink(bot)
		go bot.Start(ctx)
		slog.Info("telegram bot started")
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// Web operator console
	if cfg.Web.Enabled {
		srv := web.NewServer(db, bus, co, cfg.Web, v, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	ctrMgr.StopAll(context.Background())
	return nil
}
