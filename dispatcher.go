package movehub

import "sync"

// frameQueue is the unbounded FIFO between the transport's notification
// callback and the dispatcher goroutine. The transport side must return
// quickly to avoid dropping radio events; the queue absorbs bursts so
// slow subscriber callbacks never push back into the transport.
type frameQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames [][]byte
	closed bool
}

func newFrameQueue() *frameQueue {
	q := &frameQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *frameQueue) push(frame []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.frames = append(q.frames, frame)
	q.cond.Signal()
}

// pop blocks until a frame is available or the queue is closed.
func (q *frameQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.frames) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.frames) == 0 {
		return nil, false
	}

	frame := q.frames[0]
	q.frames = q.frames[1:]
	return frame, true
}

func (q *frameQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// receive is the transport's notification sink. The transport may reuse
// its buffer, so the frame is copied before it is queued.
func (h *Hub) receive(frame []byte) {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	h.queue.push(buf)
}

// loop drains the queue one frame at a time. Frames for a given device
// are processed, and their callbacks invoked, in exactly the order the
// transport delivered them. No single bad frame or misbehaving callback
// stops the loop; only a shutdown frame or Close does.
func (h *Hub) loop() {
	defer close(h.loopDone)

	for {
		data, ok := h.queue.pop()
		if !ok {
			return
		}

		msg, err := Decode(data)
		if err != nil {
			h.log.Warn().Err(err).Hex("frame", data).Msg("dropping frame")
			continue
		}

		if h.route(msg) {
			return
		}
	}
}

// route fans a decoded message out to the registry, the correlator or
// device subscribers. It reports whether the loop should stop.
func (h *Hub) route(msg Message) bool {
	switch m := msg.(type) {
	case *AttachedIOMessage:
		h.routeAttach(m)
	case *SensorDataMessage:
		h.routeSensorData(m)
	case *PortInputAckMessage:
		if dev := h.registry.get(m.Port); dev != nil {
			dev.applyInputFormat(m.Mode, m.Enabled)
		}
		if !h.pending.complete(pendingKey{m.Port, MessageTypePortInputAck}, m) {
			h.log.Warn().
				Uint8("port", uint8(m.Port)).
				Msg("unmatched port input ack")
		}
	case *PortFeedbackMessage:
		if !h.pending.complete(pendingKey{m.Port, MessageTypePortFeedback}, m) {
			h.log.Warn().
				Uint8("port", uint8(m.Port)).
				Uint8("status", m.Status).
				Msg("unmatched port feedback")
		}
	case *HubPropertyMessage:
		h.routeHubProperty(m)
	case *PortCmdErrorMessage:
		h.log.Warn().
			Uint8("command", m.Command).
			Uint8("code", m.Code).
			Msg("port command error")
	case *ShutdownMessage:
		h.log.Info().Msg("hub is powering off")
		h.shutdown()
		return true
	}
	return false
}

func (h *Hub) routeAttach(m *AttachedIOMessage) {
	if !m.Attached {
		if prev := h.registry.detach(m.Port); prev != nil {
			prev.clearSubs()
			h.log.Debug().
				Uint8("port", uint8(m.Port)).
				Stringer("kind", prev.Kind).
				Msg("device detached")
		}
		return
	}

	dev := newDevice(m)
	if prev := h.registry.attach(dev); prev != nil {
		prev.clearSubs()
	}
	h.log.Debug().
		Uint8("port", uint8(dev.Port)).
		Stringer("kind", dev.Kind).
		Msg("device attached")
}

func (h *Hub) routeSensorData(m *SensorDataMessage) {
	dev := h.registry.get(m.Port)
	if dev == nil {
		h.log.Warn().
			Uint8("port", uint8(m.Port)).
			Msg("sensor data for unattached port")
		return
	}
	h.dispatchValue(dev, m.Value)
}

func (h *Hub) routeHubProperty(m *HubPropertyMessage) {
	if m.Property != hubPropertyButton {
		h.log.Debug().
			Uint8("property", m.Property).
			Msg("ignoring hub property")
		return
	}

	h.pending.complete(pendingKey{PortButton, MessageTypeHubProperty}, m)

	if m.Operation == hubPropertyOpUpdate {
		if dev := h.registry.get(PortButton); dev != nil {
			h.dispatchValue(dev, m.Payload)
		}
	}
}

func (h *Hub) dispatchValue(dev *Device, value []byte) {
	subs, mode := dev.snapshot()
	for _, s := range subs {
		h.invoke(s, value, mode)
	}
}

// invoke isolates a subscriber callback: a panic is logged and the
// dispatcher moves on to the next frame. The run lock and the
// dispatching marker are ordered so that an unsubscribe which completes
// its flag flip before the active check below is never followed by the
// callback, and one racing an in-flight callback does not block on it.
func (h *Hub) invoke(s *deviceSub, value []byte, mode byte) {
	s.run.Lock()
	defer s.run.Unlock()

	h.dispatching.Store(s)
	defer h.dispatching.Store(nil)

	if !s.active.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.log.Error().
				Interface("panic", r).
				Msg("subscriber callback panicked")
		}
	}()
	s.fn(value, mode)
}
