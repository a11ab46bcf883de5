package movehub

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kellegous/poop"
	"github.com/rs/zerolog"
)

const defaultCommandTimeout = 10 * time.Second

// Hub is a connection to a Move Hub. It owns the port registry, the
// dispatcher goroutine and the pending-command table; all device APIs
// hang off of it.
type Hub struct {
	tx      Transport
	rev     Revision
	log     zerolog.Logger
	timeout time.Duration

	queue    *frameQueue
	registry *registry
	pending  *correlator

	// dispatching names the subscription whose callback the dispatcher is
	// currently running, nil otherwise. Written only by the dispatcher.
	dispatching atomic.Pointer[deviceSub]

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
}

type Option func(*Hub)

// WithLogger routes the hub's diagnostics through the given logger. The
// default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(h *Hub) {
		h.log = log
	}
}

// WithRevision pins the protocol revision of the connected firmware.
func WithRevision(rev Revision) Option {
	return func(h *Hub) {
		h.rev = rev
	}
}

// WithCommandTimeout bounds commands that wait for an acknowledgement
// when the caller's context carries no deadline of its own.
func WithCommandTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.timeout = d
	}
}

// NewHub starts driving the given transport. The dispatcher goroutine
// runs until a shutdown frame arrives or Close is called.
func NewHub(tx Transport, opts ...Option) *Hub {
	h := &Hub{
		tx:       tx,
		rev:      RevisionV2,
		log:      zerolog.Nop(),
		timeout:  defaultCommandTimeout,
		queue:    newFrameQueue(),
		registry: newRegistry(),
		pending:  newCorrelator(),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	// The button reports through hub properties rather than an attach,
	// so it is present from the start.
	h.registry.attach(&Device{
		Port: PortButton,
		Kind: KindButton,
	})

	tx.SetReceiver(h.receive)
	go h.loop()

	return h
}

// Done is closed when the hub shuts down, either because it powered off
// or because Close was called.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Close tears down the connection. Every goroutine blocked in a
// subscribe or a command wait is released with ErrShutdown.
func (h *Hub) Close() error {
	h.shutdown()
	<-h.loopDone
	return h.tx.Disconnect()
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() {
		h.queue.close()
		h.pending.close()
		h.registry.close()
		close(h.done)
	})
}

// Device returns the device currently attached to the port, if any.
func (h *Hub) Device(port Port) (*Device, bool) {
	dev := h.registry.get(port)
	return dev, dev != nil
}

// DevicesByKind returns every attached device of the given kind.
func (h *Hub) DevicesByKind(kind DeviceKind) []*Device {
	return h.registry.byKind(kind)
}

func (h *Hub) await(
	ctx context.Context,
	match func(*Device) bool,
) (*Device, error) {
	ctx, cancel := h.bound(ctx)
	defer cancel()
	return h.registry.await(ctx, match)
}

func (h *Hub) sendAndWait(
	ctx context.Context,
	key pendingKey,
	write func(io.Writer) error,
) (Message, error) {
	ctx, cancel := h.bound(ctx)
	defer cancel()
	return h.pending.sendAndWait(ctx, h.tx, key, write)
}

// bound applies the hub's command timeout to contexts that carry no
// deadline of their own.
func (h *Hub) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.timeout)
}

// subscribe activates value streaming for the device and registers the
// callback. The hub keeps one active mode per port, so a subscription
// asking for a different mode re-issues the mode setup; the last
// unsubscribe disables streaming again.
func (h *Hub) subscribe(
	ctx context.Context,
	dev *Device,
	mode byte,
	fn func(value []byte, mode byte),
) (func(), error) {
	if dev.Port == PortButton {
		return h.subscribeButton(ctx, dev, fn)
	}

	dev.setup.Lock()
	defer dev.setup.Unlock()

	active, enabled := dev.activeMode()
	if !enabled || active != mode {
		if _, err := h.sendAndWait(
			ctx,
			pendingKey{dev.Port, MessageTypePortInputAck},
			func(w io.Writer) error {
				return writePortInputFormatCommand(w, h.rev, dev.Port, mode, true)
			},
		); err != nil {
			return nil, poop.Chain(err)
		}
	}

	s := &deviceSub{mode: mode, fn: fn}
	s.active.Store(true)
	dev.addSub(s)

	return h.unsubscriber(dev, s), nil
}

func (h *Hub) subscribeButton(
	ctx context.Context,
	dev *Device,
	fn func(value []byte, mode byte),
) (func(), error) {
	if _, err := h.sendAndWait(
		ctx,
		pendingKey{PortButton, MessageTypeHubProperty},
		func(w io.Writer) error {
			return writeButtonUpdatesCommand(w, h.rev)
		},
	); err != nil {
		return nil, poop.Chain(err)
	}

	s := &deviceSub{fn: fn}
	s.active.Store(true)
	dev.addSub(s)

	return h.unsubscriber(dev, s), nil
}

// unsubscriber builds the cancel func returned by the subscribe APIs.
// Calling it twice, or concurrently with an in-flight dispatch, is safe:
// the active flag flips first and the run lock is passed through, so no
// callback begins after it returns. A cancel issued from inside the
// subscription's own callback skips the lock the dispatcher holds.
func (h *Hub) unsubscriber(dev *Device, s *deviceSub) func() {
	return func() {
		if !s.active.CompareAndSwap(true, false) {
			return
		}
		if h.dispatching.Load() != s {
			// A dispatch that reached the run lock before the flag flipped
			// must settle before we return; one past the lock has already
			// seen the flag or begun the callback.
			s.run.Lock()
			s.run.Unlock()
		}
		if dev.removeSub(s) || dev.Port == PortButton {
			return
		}
		// Last subscriber gone; stop the hardware stream. Best effort,
		// nothing waits on the ack.
		if err := writePortInputFormatCommand(
			h.tx, h.rev, dev.Port, s.mode, false,
		); err != nil {
			h.log.Warn().Err(err).
				Uint8("port", uint8(dev.Port)).
				Msg("failed to disable port input")
		}
	}
}
