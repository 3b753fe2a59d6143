// Package natsio embeds a NATS server and bridges the internal event bus
// onto it so external tools can observe the daemon without holding the HTTP
// connection open.
package natsio

import (
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/COSD/internal/coserr"
)

const readyTimeout = 10 * time.Second

// EmbeddedServer wraps an in-process NATS server bound to loopback
type EmbeddedServer struct {
	mu      sync.RWMutex
	port    int
	server  *server.Server
	running bool
}

// NewEmbeddedServer creates a server that will listen on 127.0.0.1:port.
// Port -1 picks a random free port, as the NATS server defines it.
func NewEmbeddedServer(port int) *EmbeddedServer {
	if port == 0 {
		port = 4222
	}
	return &EmbeddedServer{port: port}
}

// Start boots the server and waits until it accepts connections
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return coserr.New(coserr.KindConflict, "natsio.Start", "server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       e.port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return coserr.Wrap(coserr.KindInternal, "natsio.Start", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return coserr.New(coserr.KindInternal, "natsio.Start", "server not ready within %s", readyTimeout)
	}

	e.server = ns
	e.running = true
	return nil
}

// Shutdown stops the server and waits for it to wind down
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.server.Shutdown()
	e.server.WaitForShutdown()
	e.server = nil
	e.running = false
}

// URL returns the loopback connection URL
func (e *EmbeddedServer) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.server != nil {
		return e.server.ClientURL()
	}
	return ""
}

// Running reports whether the server is up
func (e *EmbeddedServer) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
