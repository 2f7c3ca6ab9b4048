package natsbus

import (
	"fmt"
	"time"

	"github.com/mtzanidakis/maistro/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

// Bus is the NATS server embedded in the gateway. Out-of-process runs publish
// their channel events to it.
type Bus struct {
	server *natsserver.Server
}

func New(cfg config.NATSConfig) (*Bus, error) {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   cfg.Port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready")
	}

	return &Bus{server: ns}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
