package serial

import (
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/kellegous/movehub"
)

type transport struct {
	port           serial.Port
	isDisconnected atomic.Bool

	mu       sync.Mutex
	receiver func(frame []byte)

	buf []byte
}

var _ movehub.Transport = (*transport)(nil)

// shutdownFrame is the hub's power-off message, synthesized when the
// port dies underneath us.
var shutdownFrame = []byte{0x03, 0x00, byte(movehub.MessageTypeHubShutdown)}

func newTransport(port serial.Port) *transport {
	return &transport{port: port}
}

func (t *transport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *transport) Disconnect() error {
	t.isDisconnected.Store(true)
	return t.port.Close()
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

// readLoop reassembles length-prefixed frames from the byte stream. The
// port has no alignment guarantees, so the loop accumulates until a full
// frame is buffered.
func (t *transport) readLoop() {
	var chunk [256]byte
	for {
		n, err := t.port.Read(chunk[:])
		if err != nil {
			if !t.isDisconnected.Load() {
				// A dead port is terminal; surface it as a shutdown so
				// blocked callers are released.
				t.deliver(shutdownFrame)
			}
			return
		}

		t.buf = append(t.buf, chunk[:n]...)
		for {
			frame, rest, ok := splitFrame(t.buf)
			if !ok {
				break
			}
			t.deliver(frame)
			t.buf = rest
		}
	}
}

// splitFrame peels one complete frame off the front of buf. The declared
// length covers the whole frame; lengths above 127 spill into a second
// byte.
func splitFrame(buf []byte) (frame, rest []byte, ok bool) {
	if len(buf) < 1 {
		return nil, buf, false
	}

	total := int(buf[0])
	if total&0x80 != 0 {
		if len(buf) < 2 {
			return nil, buf, false
		}
		total = total&0x7f | int(buf[1])<<7
	}

	if total < 3 || len(buf) < total {
		return nil, buf, false
	}

	return buf[:total], buf[total:], true
}
