package bluetooth

import (
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/kellegous/movehub"
)

type Transport struct {
	device bluetooth.Device
	char   bluetooth.DeviceCharacteristic

	mu       sync.Mutex
	receiver func(frame []byte)
}

var _ movehub.Transport = (*Transport)(nil)

func (t *Transport) Write(p []byte) (int, error) {
	return t.char.Write(p)
}

func (t *Transport) Disconnect() error {
	return t.device.Disconnect()
}

func (t *Transport) SetReceiver(fn func(frame []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiver = fn
}

func (t *Transport) deliver(frame []byte) {
	t.mu.Lock()
	fn := t.receiver
	t.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}
