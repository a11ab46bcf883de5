// Package serial connects to a hub through a UART bridge, such as a
// BlueGiga dongle flashed with a transparent passthrough, that relays
// protocol frames over a serial port.
package serial

import (
	"context"

	"github.com/kellegous/poop"
	"go.bug.st/serial"

	"github.com/kellegous/movehub"
)

func Connect(
	ctx context.Context,
	address string,
	opts ...movehub.Option,
) (*movehub.Hub, error) {
	port, err := serial.Open(address, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	})
	if err != nil {
		return nil, poop.Chain(err)
	}

	t := newTransport(port)
	go t.readLoop()

	return movehub.NewHub(t, opts...), nil
}
