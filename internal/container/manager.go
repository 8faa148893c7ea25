// Package container runs minion sessions as Docker containers on a
// dedicated bridge network, one container per live minion.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"github.com/legionhq/legiond/internal/config"
)

const (
	labelPrefix = "legiond"
	networkName = "legiond-net"
)

type Manager struct {
	docker      *client.Client
	cfg         config.RuntimeConfig
	mu          sync.RWMutex
	active      map[string]*ContainerInfo // minionID → container
	networkName string                    // resolved network name
}

type ContainerInfo struct {
	ID        string    `json:"id"`
	MinionID  string    `json:"minion_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

type MinionOpts struct {
	MinionID     string
	LegionID     string
	Name         string
	Role         string
	Instructions string
	Image        string
	NATSUrl      string
	Env          map[string]string
	Mounts       []Mount
}

func NewManager(cfg config.RuntimeConfig) (*Manager, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	return &Manager{
		docker: docker,
		cfg:    cfg,
		active: make(map[string]*ContainerInfo),
	}, nil
}

func (m *Manager) ensureNetwork(ctx context.Context) error {
	if m.networkName != "" {
		return nil
	}

	_, err := m.docker.NetworkInspect(ctx, networkName, network.InspectOptions{})
	if err == nil {
		m.networkName = networkName
		return nil
	}

	// Create it (for non-Compose runs like make dev)
	_, err = m.docker.NetworkCreate(ctx, networkName, network.CreateOptions{
		Driver: "bridge",
	})
	if err != nil {
		return fmt.Errorf("create network %s: %w", networkName, err)
	}
	m.networkName = networkName
	slog.Info("created docker network", "network", networkName)
	return nil
}

func (m *Manager) StartMinion(ctx context.Context, opts MinionOpts) (*ContainerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[opts.MinionID]; ok {
		return existing, nil
	}

	if err := m.ensureNetwork(ctx); err != nil {
		return nil, err
	}

	containerName := fmt.Sprintf("legiond-minion-%s", sanitizeName(opts.Name))

	// Remove any stale container with the same name
	timeout := 5
	_ = m.docker.ContainerStop(ctx, containerName, dockercontainer.StopOptions{Timeout: &timeout})
	_ = m.docker.ContainerRemove(ctx, containerName, dockercontainer.RemoveOptions{Force: true})

	env := []string{
		fmt.Sprintf("NATS_URL=%s", opts.NATSUrl),
		fmt.Sprintf("MINION_ID=%s", opts.MinionID),
		fmt.Sprintf("LEGION_ID=%s", opts.LegionID),
		fmt.Sprintf("MINION_NAME=%s", opts.Name),
	}
	if opts.Role != "" {
		env = append(env, fmt.Sprintf("MINION_ROLE=%s", opts.Role))
	}
	if m.cfg.AnthropicAPIKey != "" {
		env = append(env, fmt.Sprintf("ANTHROPIC_API_KEY=%s", m.cfg.AnthropicAPIKey))
	}
	if m.cfg.OAuthToken != "" {
		env = append(env, fmt.Sprintf("CLAUDE_CODE_OAUTH_TOKEN=%s", m.cfg.OAuthToken))
	}
	if m.cfg.Model != "" {
		env = append(env, fmt.Sprintf("CLAUDE_MODEL=%s", m.cfg.Model))
	}
	if tz := os.Getenv("TZ"); tz != "" {
		env = append(env, fmt.Sprintf("TZ=%s", tz))
	}

	// Per-minion env vars
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	mounts, err := buildMounts(m.cfg.WorkspaceBase, opts)
	if err != nil {
		return nil, fmt.Errorf("build mounts: %w", err)
	}

	image := opts.Image
	if image == "" {
		image = m.cfg.Image
	}

	containerCfg := &dockercontainer.Config{
		Image: image,
		Env:   env,
		Labels: map[string]string{
			labelPrefix + ".managed": "true",
			labelPrefix + ".minion":  opts.MinionID,
			labelPrefix + ".legion":  opts.LegionID,
		},
	}

	hostCfg := &dockercontainer.HostConfig{
		Binds:       mounts,
		NetworkMode: dockercontainer.NetworkMode(m.networkName),
	}

	resp, err := m.docker.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := m.docker.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	info := &ContainerInfo{
		ID:        resp.ID,
		MinionID:  opts.MinionID,
		Name:      containerName,
		Status:    "running",
		StartedAt: time.Now(),
	}
	m.active[opts.MinionID] = info

	slog.Info("minion container started", "minion", opts.Name, "container", resp.ID[:12])
	return info, nil
}

func (m *Manager) StopMinion(ctx context.Context, minionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.active[minionID]
	if !ok {
		return nil
	}

	timeout := 10
	if err := m.docker.ContainerStop(ctx, info.ID, dockercontainer.StopOptions{Timeout: &timeout}); err != nil {
		slog.Warn("failed to stop container gracefully", "container", info.ID[:12], "error", err)
	}

	if err := m.docker.ContainerRemove(ctx, info.ID, dockercontainer.RemoveOptions{Force: true}); err != nil {
		slog.Warn("failed to remove container", "container", info.ID[:12], "error", err)
	}

	delete(m.active, minionID)
	slog.Info("minion container stopped", "minion", minionID)
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	minionIDs := make([]string, 0, len(m.active))
	for id := range m.active {
		minionIDs = append(minionIDs, id)
	}
	m.mu.RUnlock()

	for _, id := range minionIDs {
		_ = m.StopMinion(ctx, id)
	}
}

func (m *Manager) ListRunning() []ContainerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ContainerInfo, 0, len(m.active))
	for _, info := range m.active {
		result = append(result, *info)
	}
	return result
}

func (m *Manager) GetRunning(minionID string) *ContainerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if info, ok := m.active[minionID]; ok {
		return info
	}
	return nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CleanupStale removes managed containers left over from a previous run.
func (m *Manager) CleanupStale(ctx context.Context) error {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", labelPrefix+".managed=true")

	containers, err := m.docker.ContainerList(ctx, dockercontainer.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	m.mu.RLock()
	activeIDs := make(map[string]bool)
	for _, info := range m.active {
		activeIDs[info.ID] = true
	}
	m.mu.RUnlock()

	for _, c := range containers {
		if !activeIDs[c.ID] {
			slog.Info("cleaning up stale container", "container", c.ID[:12])
			_ = m.docker.ContainerRemove(ctx, c.ID, dockercontainer.RemoveOptions{Force: true})
		}
	}
	return nil
}

func (m *Manager) BuildImage(ctx context.Context) error {
	return BuildMinionImage(ctx, m.docker, m.cfg.Image)
}

// sanitizeName makes a minion name safe for use in a container name.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
