package movehub

import (
	"context"
	"io"
	"slices"
	"sync"

	"github.com/kellegous/poop"
)

// pendingKey identifies the acknowledgement a command is waiting on: the
// port it addressed and the message type the hub answers with.
type pendingKey struct {
	port Port
	mt   MessageType
}

type pendingCmd struct {
	turn chan struct{}
	resp chan Message
}

// correlator matches response frames back to the command writes that
// produced them. The hub processes one command per port at a time, so
// sends for the same key are serialized in FIFO order rather than
// rejected: a waiter writes its command only once it reaches the head of
// its key's queue.
type correlator struct {
	mu      sync.Mutex
	pending map[pendingKey][]*pendingCmd
	done    chan struct{}
	closed  bool
}

func newCorrelator() *correlator {
	return &correlator{
		pending: make(map[pendingKey][]*pendingCmd),
		done:    make(chan struct{}),
	}
}

func (c *correlator) enqueue(key pendingKey) (*pendingCmd, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, poop.Chain(ErrShutdown)
	}

	p := &pendingCmd{
		turn: make(chan struct{}, 1),
		resp: make(chan Message, 1),
	}
	c.pending[key] = append(c.pending[key], p)
	if len(c.pending[key]) == 1 {
		p.turn <- struct{}{}
	}
	return p, nil
}

// remove abandons a pending command, promoting the next in line if the
// abandoned one was at the head. A response that arrives for a command
// abandoned after its write is best-effort: it may complete the next
// waiter early, which the hub's per-port ordering makes harmless.
func (c *correlator) remove(key pendingKey, p *pendingCmd) {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue := c.pending[key]
	if len(queue) == 0 {
		return
	}

	wasHead := queue[0] == p
	queue = slices.DeleteFunc(queue, func(pp *pendingCmd) bool {
		return p == pp
	})

	if len(queue) == 0 {
		delete(c.pending, key)
		return
	}
	c.pending[key] = queue
	if wasHead {
		queue[0].turn <- struct{}{}
	}
}

// complete delivers a response to the head waiter for the key and
// promotes the next. It reports whether anything was waiting.
func (c *correlator) complete(key pendingKey, msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue := c.pending[key]
	if len(queue) == 0 {
		return false
	}

	head := queue[0]
	queue = queue[1:]
	if len(queue) == 0 {
		delete(c.pending, key)
	} else {
		c.pending[key] = queue
		queue[0].turn <- struct{}{}
	}

	head.resp <- msg
	return true
}

// sendAndWait writes the command once it holds the head slot for its key
// and blocks the calling goroutine, never the dispatcher, until the hub
// acknowledges or the context expires.
func (c *correlator) sendAndWait(
	ctx context.Context,
	w io.Writer,
	key pendingKey,
	write func(io.Writer) error,
) (Message, error) {
	p, err := c.enqueue(key)
	if err != nil {
		return nil, poop.Chain(err)
	}

	select {
	case <-p.turn:
	case <-c.done:
		c.remove(key, p)
		return nil, poop.Chain(ErrShutdown)
	case <-ctx.Done():
		c.remove(key, p)
		return nil, poop.Chain(ctx.Err())
	}

	if err := write(w); err != nil {
		c.remove(key, p)
		return nil, poop.Chain(err)
	}

	select {
	case msg := <-p.resp:
		return msg, nil
	case <-c.done:
		c.remove(key, p)
		return nil, poop.Chain(ErrShutdown)
	case <-ctx.Done():
		c.remove(key, p)
		return nil, poop.Chain(ctx.Err())
	}
}

// close releases every blocked sender with a shutdown error.
func (c *correlator) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.pending = make(map[pendingKey][]*pendingCmd)
	close(c.done)
}
