// Package session implements the minion session runtime: each session is a
// container wired to the bus, fed turns on its input subject and stopped
// mid-turn through its control subject.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/legionhq/legiond/internal/container"
	"github.com/legionhq/legiond/internal/legion"
	"github.com/legionhq/legiond/internal/natsbus"
	"github.com/legionhq/legiond/internal/store"
	"github.com/legionhq/legiond/internal/vault"
)

const secretRefPrefix = "secret:"

// readyTimeout bounds how long StartSession waits for the container to
// connect to the bus before giving up on the handshake and proceeding.
const readyTimeout = 30 * time.Second

type Runtime struct {
	containers *container.Manager
	bus        *natsbus.Bus
	client     *natsbus.Client
	store      *store.Store
	vault      *vault.Vault
	env        map[string]string // extra env applied to every session
}

func NewRuntime(containers *container.Manager, bus *natsbus.Bus, client *natsbus.Client, s *store.Store, v *vault.Vault, env map[string]string) *Runtime {
	return &Runtime{
		containers: containers,
		bus:        bus,
		client:     client,
		store:      s,
		vault:      v,
		env:        env,
	}
}

// StartSession starts the minion's container and waits for it to connect to
// the bus. The connection is detected by watching the server's client count;
// a timeout is logged but not fatal, the session may just be slow to boot.
func (r *Runtime) StartSession(ctx context.Context, spec legion.SessionSpec) error {
	clientsBefore := r.bus.NumClients()

	env := r.resolveEnv(spec.MinionID)

	_, err := r.containers.StartMinion(ctx, container.MinionOpts{
		MinionID:     spec.MinionID,
		LegionID:     spec.LegionID,
		Name:         spec.Name,
		Role:         spec.Role,
		Instructions: spec.Instructions,
		NATSUrl:      r.bus.MinionNATSURL(),
		Env:          env,
	})
	if err != nil {
		return fmt.Errorf("start minion container: %w", err)
	}

	deadline := time.After(readyTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			slog.Warn("minion ready timeout", "minion", spec.Name, "nats_clients", r.bus.NumClients())
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if r.bus.NumClients() > clientsBefore {
				// Give the session a moment to set up subscriptions
				time.Sleep(500 * time.Millisecond)
				slog.Info("minion session ready", "minion", spec.Name)
				return nil
			}
		}
	}
}

func (r *Runtime) StopSession(ctx context.Context, minionID string) error {
	return r.containers.StopMinion(ctx, minionID)
}

// Deliver publishes one turn on the minion's input subject. The session
// consumes turns serially in publish order.
func (r *Runtime) Deliver(ctx context.Context, minionID string, turn legion.Turn) error {
	if err := r.client.PublishJSON(natsbus.TopicMinionInput(minionID), turn); err != nil {
		return fmt.Errorf("deliver turn: %w", err)
	}
	return r.client.Flush()
}

// Interrupt tells the session to abandon its current turn.
func (r *Runtime) Interrupt(ctx context.Context, minionID string) error {
	err := r.client.PublishJSON(natsbus.TopicMinionControl(minionID), map[string]string{"action": "interrupt"})
	if err != nil {
		return fmt.Errorf("interrupt session: %w", err)
	}
	return r.client.Flush()
}

// resolveEnv copies the shared env, decrypting secret:name references from
// the vault. Plaintext never leaves this process except into the container's
// environment.
func (r *Runtime) resolveEnv(minionID string) map[string]string {
	if len(r.env) == 0 {
		return nil
	}
	env := make(map[string]string, len(r.env))
	for k, v := range r.env {
		secretName, ok := strings.CutPrefix(v, secretRefPrefix)
		if !ok {
			env[k] = v
			continue
		}
		plaintext, err := r.decryptSecret(secretName)
		if err != nil {
			slog.Warn("failed to resolve env secret", "minion", minionID, "env", k, "secret", secretName, "error", err)
			continue
		}
		env[k] = string(plaintext)
	}
	return env
}

func (r *Runtime) decryptSecret(name string) ([]byte, error) {
	if r.vault == nil || r.store == nil {
		return nil, fmt.Errorf("vault not configured")
	}
	sec, err := r.store.GetSecret(name)
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, fmt.Errorf("secret %q not found", name)
	}
	return r.vault.Decrypt(sec.Value, sec.Nonce)
}
