package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// EmbeddedServer wraps an in-process NATS server so the whole system
// can run as a single binary.
type EmbeddedServer struct {
	server *server.Server
	url    string
}

// EmbeddedOption configures the embedded server.
type EmbeddedOption func(*server.Options)

// WithPort fixes the listen port; the default picks a random one.
func WithPort(port int) EmbeddedOption {
	return func(o *server.Options) {
		o.Port = port
	}
}

// WithStoreDir sets where JetStream persists stream data. Empty means
// a temp directory, which is fine for tests but not for deployments.
func WithStoreDir(dir string) EmbeddedOption {
	return func(o *server.Options) {
		o.StoreDir = dir
	}
}

// StartEmbeddedServer starts an embedded NATS server with JetStream.
func StartEmbeddedServer(opts ...EmbeddedOption) (*EmbeddedServer, error) {
	options := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
	}
	for _, opt := range opts {
		opt(options)
	}

	s, err := server.NewServer(options)
	if err != nil {
		return nil, fmt.Errorf("create embedded server: %w", err)
	}

	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("embedded server not ready")
	}

	return &EmbeddedServer{server: s, url: s.ClientURL()}, nil
}

// URL returns the connection URL.
func (e *EmbeddedServer) URL() string {
	return e.url
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	if e.server != nil {
		e.server.Shutdown()
		e.server.WaitForShutdown()
	}
}

// NewEmbeddedEventBus starts an embedded server and a bus connected to
// it. Convenient for tests and single-binary runs.
func NewEmbeddedEventBus() (*EventBus, *EmbeddedServer, error) {
	srv, err := StartEmbeddedServer()
	if err != nil {
		return nil, nil, fmt.Errorf("start embedded server: %w", err)
	}

	config := DefaultConfig()
	config.URL = srv.URL()

	bus, err := NewEventBus(config)
	if err != nil {
		srv.Shutdown()
		return nil, nil, fmt.Errorf("create event bus: %w", err)
	}
	return bus, srv, nil
}

// ConnectToEmbedded connects a plain client to an embedded server.
func ConnectToEmbedded(srv *EmbeddedServer) (*nats.Conn, error) {
	return nats.Connect(srv.URL())
}
