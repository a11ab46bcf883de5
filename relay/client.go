package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"

	"github.com/kellegous/poop"

	"github.com/kellegous/movehub"
)

// Connect dials a relay server and returns a running hub speaking
// through it.
func Connect(
	ctx context.Context,
	address string,
	opts ...movehub.Option,
) (*movehub.Hub, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, poop.Chain(err)
	}

	t := &transport{conn: conn}
	go t.readLoop()

	return movehub.NewHub(t, opts...), nil
}

type transport struct {
	conn           net.Conn
	isDisconnected atomic.Bool

	mu       sync.Mutex
	receiver func(frame []byte)
}

var _ movehub.Transport = (*transport)(nil)

var shutdownFrame = []byte{0x03, 0x00, byte(movehub.MessageTypeHubShutdown)}

func (t *transport) Write(p []byte) (int, error) {
	line, err := marshalLine(typeWrite, p)
	if err != nil {
		return 0, poop.Chain(err)
	}
	if _, err := t.conn.Write(line); err != nil {
		return 0, poop.Chain(err)
	}
	return len(p), nil
}

func (t *transport) Disconnect() error {
	t.isDisconnected.Store(true)
	return t.conn.Close()
}

func (t *transport) SetReceiver(fn func(frame []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiver = fn
}

func (t *transport) deliver(frame []byte) {
	t.mu.Lock()
	fn := t.receiver
	t.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

func (t *transport) readLoop() {
	scanner := bufio.NewScanner(t.conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var m message
		if err := json.Unmarshal(line, &m); err != nil {
			continue
		}

		switch m.Type {
		case typeNotification:
			frame, err := m.frame()
			if err != nil {
				continue
			}
			t.deliver(frame)
		case typeResponse:
			// Responses to relay-level commands; nothing to route.
		}
	}

	if !t.isDisconnected.Load() {
		// The server hung up; surface it as a hub shutdown so blocked
		// callers are released.
		t.deliver(shutdownFrame)
	}
}
