package mcpwire

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pocketomega/loco/internal/tool"
)

// memoryTransport is an in-process duplex Transport pair used to exercise
// Server and Client against each other without real pipes or sockets.
// Closing either half tears down both channels exactly once.
type memoryTransport struct {
	out    chan json.RawMessage
	in     chan json.RawMessage
	closed *sync.Once
}

func newMemoryTransportPair() (a, b *memoryTransport) {
	c1 := make(chan json.RawMessage, 32)
	c2 := make(chan json.RawMessage, 32)
	once := &sync.Once{}
	a = &memoryTransport{out: c1, in: c2, closed: once}
	b = &memoryTransport{out: c2, in: c1, closed: once}
	return a, b
}

func (t *memoryTransport) Send(raw json.RawMessage) error {
	t.out <- raw
	return nil
}

func (t *memoryTransport) Incoming() <-chan json.RawMessage { return t.in }

func (t *memoryTransport) Err() error { return nil }

func (t *memoryTransport) Close() error {
	t.closed.Do(func() {
		close(t.out)
		close(t.in)
	})
	return nil
}

// NewLoopbackPair starts a Server over an in-process duplex transport and
// returns both transport ends: the one the Server reads from, and the one
// a Client should be built on. It exists so other packages' tests can
// exercise a real MCP round trip against a tool.Registry without a real
// process or network listener. Cancel stops the Server's Serve loop.
func NewLoopbackPair(registry *tool.Registry, name, version string) (serverSide, clientSide Transport, cancel context.CancelFunc) {
	a, b := newMemoryTransportPair()
	srv := NewServer(registry, name, version)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, a)
	return a, b, cancel
}
