package events

import (
	"errors"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/config"
)

// Bus owns the embedded NATS server and the daemon's connection to it.
// The listener binds loopback only; port 0 in the config picks a random
// free port.
type Bus struct {
	server *natsserver.Server
	conn   *nats.Conn
	logger *zap.Logger
}

// Start boots the embedded server and connects to it.
func Start(cfg config.EventsConfig, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	port := cfg.Port
	if port == 0 {
		port = -1 // random port
	}

	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating event bus server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, errors.New("event bus did not become ready")
	}

	conn, err := nats.Connect(srv.ClientURL(), nats.Name("loomd"))
	if err != nil {
		srv.Shutdown()
		srv.WaitForShutdown()
		return nil, fmt.Errorf("connecting to event bus: %w", err)
	}

	logger.Info("event bus started", zap.String("url", srv.ClientURL()))
	return &Bus{server: srv, conn: conn, logger: logger}, nil
}

// Conn returns the daemon's bus connection.
func (b *Bus) Conn() *nats.Conn {
	return b.conn
}

// ClientURL returns the listener URL, useful for external subscribers.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Close drains the connection and stops the server.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.server != nil {
		b.server.Shutdown()
		b.server.WaitForShutdown()
	}
	b.logger.Info("event bus stopped")
}
