package movehub

import (
	"context"
	"slices"
	"sync"

	"github.com/kellegous/poop"
)

// registry tracks which device is attached to which port. Only the
// dispatcher goroutine mutates it; everyone else reads a snapshot or
// parks in await until the device they want shows up.
type registry struct {
	mu      sync.RWMutex
	devices map[Port]*Device
	waiters []*deviceWaiter
	closed  bool
}

type deviceWaiter struct {
	match func(*Device) bool
	ch    chan *Device
}

func newRegistry() *registry {
	return &registry{
		devices: make(map[Port]*Device),
	}
}

// attach replaces whatever was on the port with a fresh device. The
// previous device, if any, is returned so its subscriptions can be
// severed; a re-attach never merges state.
func (r *registry) attach(dev *Device) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.devices[dev.Port]
	r.devices[dev.Port] = dev

	r.waiters = slices.DeleteFunc(r.waiters, func(w *deviceWaiter) bool {
		if !w.match(dev) {
			return false
		}
		w.ch <- dev
		return true
	})

	return prev
}

func (r *registry) detach(port Port) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.devices[port]
	delete(r.devices, port)
	return prev
}

func (r *registry) get(port Port) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[port]
}

func (r *registry) byKind(kind DeviceKind) []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var devices []*Device
	for _, dev := range r.devices {
		if dev.Kind == kind {
			devices = append(devices, dev)
		}
	}
	return devices
}

// await blocks until a device matching the predicate is attached. The
// caller bounds the wait with its context; topology discovery happens
// asynchronously after connect, so some latency is normal.
func (r *registry) await(
	ctx context.Context,
	match func(*Device) bool,
) (*Device, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, poop.Chain(ErrShutdown)
	}

	for _, dev := range r.devices {
		if match(dev) {
			r.mu.Unlock()
			return dev, nil
		}
	}

	w := &deviceWaiter{
		match: match,
		ch:    make(chan *Device, 1),
	}
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()

	select {
	case dev, ok := <-w.ch:
		if !ok {
			return nil, poop.Chain(ErrShutdown)
		}
		return dev, nil
	case <-ctx.Done():
		r.remove(w)
		// The device may have arrived while we were giving up.
		select {
		case dev, ok := <-w.ch:
			if ok {
				return dev, nil
			}
		default:
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, poop.Chain(ErrDeviceNotReady)
		}
		return nil, poop.Chain(ctx.Err())
	}
}

func (r *registry) remove(w *deviceWaiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiters = slices.DeleteFunc(r.waiters, func(ww *deviceWaiter) bool {
		return w == ww
	})
}

// close releases every parked waiter with a shutdown error.
func (r *registry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	for _, w := range r.waiters {
		close(w.ch)
	}
	r.waiters = nil
}
