package natsbus

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/legionhq/legiond/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

func New(cfg config.NATSConfig) (*Bus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	opts := &natsserver.Options{
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  cfg.DataDir,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("nats server not ready")
	}

	return &Bus{
		server: ns,
		cfg:    cfg,
	}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// MinionNATSURL is the URL minion containers use to reach the bus. Containers
// cannot reach the loopback client URL, so it is built from the advertise host.
func (b *Bus) MinionNATSURL() string {
	host := b.cfg.AdvertiseHost
	if host == "" {
		host = "host.docker.internal"
	}
	return fmt.Sprintf("nats://%s:%d", host, b.Port())
}

func (b *Bus) Port() int {
	if b.cfg.Port != 0 {
		return b.cfg.Port
	}
	if addr, ok := b.server.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// NumClients reports the number of connected NATS clients, used to detect
// when a freshly started minion session has come online.
func (b *Bus) NumClients() int {
	return b.server.NumClients()
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
