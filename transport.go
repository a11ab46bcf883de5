package movehub

import "io"

// Transport is the byte pipe to the hub. Implementations deliver inbound
// frames to the single receiver registered with SetReceiver; the receiver
// must return quickly, so implementations can keep up with the radio.
type Transport interface {
	io.Writer
	Disconnect() error
	SetReceiver(fn func(frame []byte))
}
