package movehub

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTransport struct {
	ch   chan []byte
	done chan struct{}

	mu       sync.Mutex
	receiver func(frame []byte)
}

var _ Transport = (*fakeTransport)(nil)

func (t *fakeTransport) Write(p []byte) (n int, err error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	t.ch <- buf
	return len(p), nil
}

func (t *fakeTransport) Disconnect() error {
	return nil
}

func (t *fakeTransport) SetReceiver(fn func(frame []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiver = fn
}

func (t *fakeTransport) notify(frame []byte) {
	t.mu.Lock()
	fn := t.receiver
	t.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

func DoCommand(
	op func(hub *Hub),
	opts ...Option,
) *Controller {
	tx := &fakeTransport{
		ch:   make(chan []byte, 8),
		done: make(chan struct{}),
	}
	hub := NewHub(tx, opts...)
	go func() {
		defer close(tx.done)
		op(hub)
	}()
	return &Controller{
		tx:  tx,
		hub: hub,
	}
}

type Controller struct {
	tx  *fakeTransport
	hub *Hub
}

func (c *Controller) Notify(frame []byte) {
	c.tx.notify(frame)
}

func (c *Controller) Recv() []byte {
	return <-c.tx.ch
}

func (c *Controller) Wait() {
	<-c.tx.done
}

func attachFrame(port Port, ioType IOType) []byte {
	return BytesFrom(
		Byte(0x0f),
		Byte(hubIDInbound),
		Type(MessageTypeAttachedIO),
		OnPort(port),
		Byte(ioEventAttached),
		Uint16(uint16(ioType), binary.LittleEndian),
		Uint32(1, binary.LittleEndian),
		Uint32(1, binary.LittleEndian),
	)
}

func groupAttachFrame(port Port, ioType IOType, a, b Port) []byte {
	return BytesFrom(
		Byte(0x09),
		Byte(hubIDInbound),
		Type(MessageTypeAttachedIO),
		OnPort(port),
		Byte(ioEventGroupAttach),
		Uint16(uint16(ioType), binary.LittleEndian),
		OnPort(a),
		OnPort(b),
	)
}

func detachFrame(port Port) []byte {
	return BytesFrom(
		Byte(0x05),
		Byte(hubIDInbound),
		Type(MessageTypeAttachedIO),
		OnPort(port),
		Byte(ioEventDetached),
	)
}

func sensorFrame(port Port, value ...byte) []byte {
	return BytesFrom(
		Byte(byte(4+len(value))),
		Byte(hubIDInbound),
		Type(MessageTypeSensorData),
		OnPort(port),
		Bytes(value...),
	)
}

func inputAckFrame(port Port, mode byte, enabled bool) []byte {
	e := byte(0)
	if enabled {
		e = 1
	}
	return BytesFrom(
		Byte(0x0a),
		Byte(hubIDInbound),
		Type(MessageTypePortInputAck),
		OnPort(port),
		Byte(mode),
		Uint32(1, binary.LittleEndian),
		Byte(e),
	)
}

func feedbackFrame(port Port) []byte {
	return BytesFrom(
		Byte(0x05),
		Byte(hubIDInbound),
		Type(MessageTypePortFeedback),
		OnPort(port),
		Byte(0x0a),
	)
}

func buttonFrame(op byte, state byte) []byte {
	return BytesFrom(
		Byte(0x06),
		Byte(hubIDInbound),
		Type(MessageTypeHubProperty),
		Byte(hubPropertyButton),
		Byte(op),
		Byte(state),
	)
}

func shutdownFrame() []byte {
	return BytesFrom(
		Byte(0x03),
		Byte(hubIDInbound),
		Type(MessageTypeHubShutdown),
	)
}

func fakeBytes(n int, fn func(i int) byte) []byte {
	bs := make([]byte, n)
	for i := 0; i < n; i++ {
		bs[i] = fn(i)
	}
	return bs
}

func describe(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err)
	}
	return string(b)
}

func TestSetColor(t *testing.T) {
	tests := []struct {
		name     string
		rev      Revision
		expected string
	}{
		{
			name:     "v2",
			rev:      RevisionV2,
			expected: "0801813201510009",
		},
		{
			name:     "v1",
			rev:      RevisionV1,
			expected: "0801813211510009",
		},
		{
			name:     "early",
			rev:      RevisionEarly,
			expected: "0701813211510009",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			controller := DoCommand(func(hub *Hub) {
				led, err := hub.LED(t.Context())
				if err != nil {
					t.Fatal(err)
				}
				if err := led.SetColor(ColorRed); err != nil {
					t.Fatal(err)
				}
			}, WithRevision(test.rev))

			controller.Notify(attachFrame(PortLED, IOTypeRGBLight))

			if err := ValidateBytes(
				controller.Recv(),
				Hex(test.expected),
			); err != nil {
				t.Fatal(err)
			}

			controller.Wait()
		})
	}
}

func TestMotorTimed(t *testing.T) {
	tests := []struct {
		name     string
		rev      Revision
		expected string
	}{
		{
			name:     "v2",
			rev:      RevisionV2,
			expected: "0d018139110adc056464647f03",
		},
		{
			name:     "early",
			rev:      RevisionEarly,
			expected: "0c018139110adc056464647f03",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			controller := DoCommand(func(hub *Hub) {
				m, err := hub.Motor(t.Context(), PortAB)
				if err != nil {
					t.Fatal(err)
				}
				if err := m.Timed(t.Context(), 1500*time.Millisecond); err != nil {
					t.Fatal(err)
				}
			}, WithRevision(test.rev))

			controller.Notify(groupAttachFrame(PortAB, IOTypeInternalMotor, PortA, PortB))

			if err := ValidateBytes(
				controller.Recv(),
				Hex(test.expected),
			); err != nil {
				t.Fatal(err)
			}

			controller.Notify(feedbackFrame(PortAB))

			controller.Wait()
		})
	}
}

func TestMotorAngled(t *testing.T) {
	tests := []struct {
		name     string
		rev      Revision
		expected string
	}{
		{
			name:     "v2",
			rev:      RevisionV2,
			expected: "0f018139110c5a0000006464647f03",
		},
		{
			name:     "early",
			rev:      RevisionEarly,
			expected: "0e018139110c5a0000006464647f03",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			controller := DoCommand(func(hub *Hub) {
				m, err := hub.Motor(t.Context(), PortAB)
				if err != nil {
					t.Fatal(err)
				}
				if err := m.Angled(t.Context(), 90); err != nil {
					t.Fatal(err)
				}
			}, WithRevision(test.rev))

			controller.Notify(groupAttachFrame(PortAB, IOTypeInternalMotor, PortA, PortB))

			if err := ValidateBytes(
				controller.Recv(),
				Hex(test.expected),
			); err != nil {
				t.Fatal(err)
			}

			controller.Notify(feedbackFrame(PortAB))

			controller.Wait()
		})
	}
}

func TestMotorConstantAndStop(t *testing.T) {
	controller := DoCommand(func(hub *Hub) {
		m, err := hub.Motor(t.Context(), PortC)
		if err != nil {
			t.Fatal(err)
		}
		if err := m.Constant(t.Context(), 0.5); err != nil {
			t.Fatal(err)
		}
		if err := m.Stop(t.Context()); err != nil {
			t.Fatal(err)
		}
	})

	controller.Notify(attachFrame(PortC, IOTypeExternalMotor))

	if err := ValidateBytes(
		controller.Recv(),
		Hex("0a018101110132647f03"),
	); err != nil {
		t.Fatal(err)
	}

	controller.Notify(feedbackFrame(PortC))

	if err := ValidateBytes(
		controller.Recv(),
		Hex("0a018101110100647f03"),
	); err != nil {
		t.Fatal(err)
	}

	controller.Notify(feedbackFrame(PortC))

	controller.Wait()
}

func TestSubscribeTilt(t *testing.T) {
	events := make(chan TiltEvent, 4)
	subscribed := make(chan struct{})

	controller := DoCommand(func(hub *Hub) {
		tilt, err := hub.TiltSensor(t.Context())
		if err != nil {
			t.Fatal(err)
		}

		cancel, err := tilt.Subscribe(
			t.Context(),
			TiltModeThreeAxisSimple,
			func(ev TiltEvent) {
				events <- ev
			},
		)
		if err != nil {
			t.Fatal(err)
		}
		close(subscribed)

		if ev := <-events; ev.State != TiltFront {
			t.Fatalf("expected %v, got %v", TiltFront, ev.State)
		}
		if ev := <-events; ev.State != TiltLeft {
			t.Fatalf("expected %v, got %v", TiltLeft, ev.State)
		}

		cancel()
	})

	controller.Notify(attachFrame(PortTilt, IOTypeTiltSensor))

	if err := ValidateBytes(
		controller.Recv(),
		Hex("0a01413a020100000001"),
	); err != nil {
		t.Fatal(err)
	}

	controller.Notify(inputAckFrame(PortTilt, 0x02, true))

	<-subscribed
	controller.Notify(sensorFrame(PortTilt, byte(TiltFront)))
	controller.Notify(sensorFrame(PortTilt, byte(TiltLeft)))

	controller.Wait()

	// The last unsubscribe turns the stream back off.
	if err := ValidateBytes(
		controller.Recv(),
		Hex("0a01413a020100000000"),
	); err != nil {
		t.Fatal(err)
	}
}

func TestSubscribeAngle(t *testing.T) {
	degrees := make(chan int32, 4)
	subscribed := make(chan struct{})

	controller := DoCommand(func(hub *Hub) {
		m, err := hub.Motor(t.Context(), PortD)
		if err != nil {
			t.Fatal(err)
		}

		_, err = m.SubscribeAngle(t.Context(), func(d int32) {
			degrees <- d
		})
		if err != nil {
			t.Fatal(err)
		}
		close(subscribed)

		if d := <-degrees; d != 180 {
			t.Fatalf("expected 180, got %d", d)
		}
		if d := <-degrees; d != -90 {
			t.Fatalf("expected -90, got %d", d)
		}
	})

	controller.Notify(attachFrame(PortD, IOTypeExternalMotor))

	if err := ValidateBytes(
		controller.Recv(),
		Hex("0a014102020100000001"),
	); err != nil {
		t.Fatal(err)
	}

	controller.Notify(inputAckFrame(PortD, motorModeAngle, true))

	<-subscribed
	controller.Notify(sensorFrame(PortD, 0xb4, 0x00, 0x00, 0x00))
	controller.Notify(sensorFrame(PortD, 0xa6, 0xff, 0xff, 0xff))

	controller.Wait()
}

func TestSubscribeSpeedNeedsEncoder(t *testing.T) {
	controller := DoCommand(func(hub *Hub) {
		m, err := hub.Motor(t.Context(), PortC)
		if err != nil {
			t.Fatal(err)
		}

		if _, err := m.SubscribeSpeed(t.Context(), func(int8) {}); !errors.Is(err, ErrDeviceNotReady) {
			t.Fatalf("expected %v, got %v", ErrDeviceNotReady, err)
		}
	})

	controller.Notify(attachFrame(PortC, IOTypeTrainMotor))

	controller.Wait()
}

func TestSubscribeButton(t *testing.T) {
	presses := make(chan bool, 4)
	subscribed := make(chan struct{})

	controller := DoCommand(func(hub *Hub) {
		cancel, err := hub.Button().Subscribe(t.Context(), func(pressed bool) {
			presses <- pressed
		})
		if err != nil {
			t.Fatal(err)
		}
		close(subscribed)

		if !<-presses {
			t.Fatal("expected a press")
		}
		if <-presses {
			t.Fatal("expected a release")
		}

		cancel()
	})

	if err := ValidateBytes(
		controller.Recv(),
		Hex("0500010202"),
	); err != nil {
		t.Fatal(err)
	}

	controller.Notify(buttonFrame(hubPropertyOpEnableUpdates, 0x00))

	<-subscribed
	controller.Notify(buttonFrame(hubPropertyOpUpdate, 0x01))
	controller.Notify(buttonFrame(hubPropertyOpUpdate, 0x00))

	controller.Wait()
}

func TestSubscribeColorDistance(t *testing.T) {
	events := make(chan ColorDistanceEvent, 4)
	subscribed := make(chan struct{})

	controller := DoCommand(func(hub *Hub) {
		sensor, err := hub.ColorDistanceSensor(t.Context())
		if err != nil {
			t.Fatal(err)
		}

		_, err = sensor.Subscribe(
			t.Context(),
			ColorDistanceModeColorDistance,
			func(ev ColorDistanceEvent) {
				events <- ev
			},
		)
		if err != nil {
			t.Fatal(err)
		}
		close(subscribed)

		ev := <-events
		if ev.Color != ColorYellow {
			t.Fatalf("expected %s, got %s", ColorYellow, ev.Color)
		}
		if ev.Distance != 4.25 {
			t.Fatalf("expected 4.25, got %f", ev.Distance)
		}
	})

	controller.Notify(attachFrame(PortC, IOTypeColorDistance))

	if err := ValidateBytes(
		controller.Recv(),
		Hex("0a014101080100000001"),
	); err != nil {
		t.Fatal(err)
	}

	controller.Notify(inputAckFrame(PortC, 0x08, true))

	<-subscribed
	controller.Notify(sensorFrame(PortC, byte(ColorYellow), 0x04, 0x00, 0x04))

	controller.Wait()
}

func TestSubscribeBattery(t *testing.T) {
	events := make(chan BatteryEvent, 4)
	subscribed := make(chan struct{})

	controller := DoCommand(func(hub *Hub) {
		battery, err := hub.Battery(t.Context())
		if err != nil {
			t.Fatal(err)
		}

		_, err = battery.Subscribe(t.Context(), func(ev BatteryEvent) {
			events <- ev
		})
		if err != nil {
			t.Fatal(err)
		}
		close(subscribed)

		if ev := <-events; ev.Percent != 87 {
			t.Fatalf("expected 87, got %d", ev.Percent)
		}
	})

	controller.Notify(attachFrame(PortVoltage, IOTypeVoltage))

	if err := ValidateBytes(
		controller.Recv(),
		Hex("0a01413c000100000001"),
	); err != nil {
		t.Fatal(err)
	}

	controller.Notify(inputAckFrame(PortVoltage, 0x00, true))

	<-subscribed
	controller.Notify(sensorFrame(PortVoltage, 87))

	controller.Wait()
}

func TestReattachDropsStaleSubscriptions(t *testing.T) {
	events := make(chan ColorDistanceEvent, 4)
	subscribed := make(chan struct{})

	controller := DoCommand(func(hub *Hub) {
		sensor, err := hub.ColorDistanceSensor(t.Context())
		if err != nil {
			t.Fatal(err)
		}

		_, err = sensor.Subscribe(
			t.Context(),
			ColorDistanceModeColorDistance,
			func(ev ColorDistanceEvent) {
				events <- ev
			},
		)
		if err != nil {
			t.Fatal(err)
		}
		close(subscribed)

		if ev := <-events; ev.Color != ColorRed {
			t.Fatalf("expected %s, got %s", ColorRed, ev.Color)
		}

		// The AB pair attaches after the replacement sensor's report, so
		// once it is visible every earlier frame has been dispatched.
		if _, err := hub.Motor(t.Context(), PortAB); err != nil {
			t.Fatal(err)
		}

		select {
		case ev := <-events:
			t.Fatalf("stale subscription fired: %+v", ev)
		default:
		}
	})

	controller.Notify(attachFrame(PortC, IOTypeColorDistance))

	if err := ValidateBytes(
		controller.Recv(),
		Hex("0a014101080100000001"),
	); err != nil {
		t.Fatal(err)
	}

	controller.Notify(inputAckFrame(PortC, 0x08, true))

	<-subscribed
	controller.Notify(sensorFrame(PortC, byte(ColorRed), 0x05, 0x00, 0x00))
	controller.Notify(detachFrame(PortC))
	controller.Notify(attachFrame(PortC, IOTypeColorDistance))
	controller.Notify(sensorFrame(PortC, byte(ColorBlue), 0x05, 0x00, 0x00))
	controller.Notify(groupAttachFrame(PortAB, IOTypeInternalMotor, PortA, PortB))

	controller.Wait()
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	controller := DoCommand(func(hub *Hub) {
		tilt, err := hub.TiltSensor(t.Context())
		if err != nil {
			t.Fatal(err)
		}

		cancel, err := tilt.Subscribe(
			t.Context(),
			TiltModeThreeAxisSimple,
			func(TiltEvent) {},
		)
		if err != nil {
			t.Fatal(err)
		}

		cancel()
		cancel()
	})

	controller.Notify(attachFrame(PortTilt, IOTypeTiltSensor))

	if err := ValidateBytes(
		controller.Recv(),
		Hex("0a01413a020100000001"),
	); err != nil {
		t.Fatal(err)
	}

	controller.Notify(inputAckFrame(PortTilt, 0x02, true))

	controller.Wait()

	if err := ValidateBytes(
		controller.Recv(),
		Hex("0a01413a020100000000"),
	); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-controller.tx.ch:
		t.Fatalf("unexpected extra write: %v", got)
	default:
	}
}

func TestUnsubscribeWaitsForInFlightDispatch(t *testing.T) {
	tx := &fakeTransport{ch: make(chan []byte, 8)}
	hub := NewHub(tx)

	dev := &Device{Port: PortTilt, IOType: IOTypeTiltSensor}
	fired := false
	s := &deviceSub{mode: 0x02, fn: func([]byte, byte) {
		fired = true
	}}
	s.active.Store(true)
	dev.addSub(s)

	cancel := hub.unsubscriber(dev, s)

	// A dispatch that reached the run lock but has not yet checked the
	// active flag must settle before cancel returns.
	s.run.Lock()

	done := make(chan struct{})
	go func() {
		cancel()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("unsubscribe returned while a dispatch held the run lock")
	case <-time.After(50 * time.Millisecond):
	}

	s.run.Unlock()
	<-done

	hub.invoke(s, []byte{0x01}, 0x02)
	if fired {
		t.Fatal("callback ran after unsubscribe returned")
	}
}

func TestUnsubscribeFromCallback(t *testing.T) {
	tx := &fakeTransport{ch: make(chan []byte, 8)}
	hub := NewHub(tx)

	dev := &Device{Port: PortTilt, IOType: IOTypeTiltSensor}
	calls := 0
	var cancel func()
	s := &deviceSub{mode: 0x02, fn: func([]byte, byte) {
		calls++
		cancel()
	}}
	s.active.Store(true)
	dev.addSub(s)
	cancel = hub.unsubscriber(dev, s)

	done := make(chan struct{})
	go func() {
		hub.invoke(s, []byte{0x01}, 0x02)
		hub.invoke(s, []byte{0x01}, 0x02)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("canceling from inside the callback deadlocked")
	}

	if calls != 1 {
		t.Fatalf("expected 1 callback, got %d", calls)
	}
}

func TestConcurrentSubscribesSerializeModeSetup(t *testing.T) {
	lastMode := make(chan byte, 1)

	controller := DoCommand(func(hub *Hub) {
		tilt, err := hub.TiltSensor(t.Context())
		if err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		for _, mode := range []TiltMode{
			TiltModeThreeAxisSimple,
			TiltModeThreeAxisFull,
		} {
			wg.Add(1)
			go func(m TiltMode) {
				defer wg.Done()
				if _, err := tilt.Subscribe(
					t.Context(), m, func(TiltEvent) {},
				); err != nil {
					t.Error(err)
				}
			}(mode)
		}
		wg.Wait()

		dev, _ := hub.Device(PortTilt)
		mode, enabled := dev.activeMode()
		if !enabled {
			t.Error("expected streaming to be enabled")
		}
		if want := <-lastMode; mode != want {
			t.Errorf("expected active mode %#02x, got %#02x", want, mode)
		}
	})

	controller.Notify(attachFrame(PortTilt, IOTypeTiltSensor))

	first := controller.Recv()
	controller.Notify(inputAckFrame(PortTilt, first[4], true))

	second := controller.Recv()
	if first[4] == second[4] {
		t.Fatalf("expected two distinct mode setups, got %#02x twice", first[4])
	}
	controller.Notify(inputAckFrame(PortTilt, second[4], true))
	lastMode <- second[4]

	controller.Wait()
}

func TestShutdownReleasesPendingCommand(t *testing.T) {
	controller := DoCommand(func(hub *Hub) {
		m, err := hub.Motor(t.Context(), PortAB)
		if err != nil {
			t.Fatal(err)
		}

		if err := m.Timed(t.Context(), time.Second); !errors.Is(err, ErrShutdown) {
			t.Fatalf("expected %v, got %v", ErrShutdown, err)
		}

		<-hub.Done()
	})

	controller.Notify(groupAttachFrame(PortAB, IOTypeInternalMotor, PortA, PortB))

	controller.Recv()

	controller.Notify(shutdownFrame())

	controller.Wait()
}

func TestAwaitTimesOut(t *testing.T) {
	controller := DoCommand(func(hub *Hub) {
		if _, err := hub.Motor(t.Context(), PortD); !errors.Is(err, ErrDeviceNotReady) {
			t.Fatalf("expected %v, got %v", ErrDeviceNotReady, err)
		}
	}, WithCommandTimeout(25*time.Millisecond))

	controller.Wait()
}

func TestClose(t *testing.T) {
	controller := DoCommand(func(hub *Hub) {
		if err := hub.Close(); err != nil {
			t.Fatal(err)
		}

		select {
		case <-hub.Done():
		default:
			t.Fatal("expected Done to be closed")
		}
	})

	controller.Wait()
}

func TestDeviceRegistry(t *testing.T) {
	controller := DoCommand(func(hub *Hub) {
		if _, err := hub.Motor(t.Context(), PortAB); err != nil {
			t.Fatal(err)
		}
		if _, err := hub.LED(t.Context()); err != nil {
			t.Fatal(err)
		}

		dev, ok := hub.Device(PortAB)
		if !ok {
			t.Fatal("expected a device on port AB")
		}
		if dev.Kind != KindEncodedMotor {
			t.Fatalf("expected %s, got %s", KindEncodedMotor, dev.Kind)
		}
		if !dev.HasEncoder() {
			t.Fatal("expected an encoder")
		}
		if len(dev.GroupPorts) != 2 || dev.GroupPorts[0] != PortA || dev.GroupPorts[1] != PortB {
			t.Fatalf("expected group ports A and B, got %v", dev.GroupPorts)
		}

		if n := len(hub.DevicesByKind(KindLED)); n != 1 {
			t.Fatalf("expected 1 LED, got %d", n)
		}
		if _, ok := hub.Device(PortD); ok {
			t.Fatal("expected no device on port D")
		}
	})

	controller.Notify(groupAttachFrame(PortAB, IOTypeInternalMotor, PortA, PortB))
	controller.Notify(attachFrame(PortLED, IOTypeRGBLight))

	controller.Wait()
}
