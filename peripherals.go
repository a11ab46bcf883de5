package movehub

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/kellegous/poop"
)

// Motor drives a single motor port or the builtin AB pair. Commands that
// expect feedback block until the hub reports the command was accepted.
type Motor struct {
	hub *Hub
	dev *Device
}

// Motor returns the motor on the given port, waiting for it to attach.
func (h *Hub) Motor(ctx context.Context, port Port) (*Motor, error) {
	dev, err := h.await(ctx, func(d *Device) bool {
		if d.Port != port {
			return false
		}
		return d.Kind == KindMotor || d.Kind == KindEncodedMotor
	})
	if err != nil {
		return nil, poop.Chain(err)
	}
	return &Motor{hub: h, dev: dev}, nil
}

// Timed runs the motor for the given duration. Speeds are in [-1, 1];
// the AB pair takes two, everything else one.
func (m *Motor) Timed(ctx context.Context, d time.Duration, speeds ...float64) error {
	_, err := m.hub.sendAndWait(
		ctx,
		pendingKey{m.dev.Port, MessageTypePortFeedback},
		func(w io.Writer) error {
			return writeTimedRunCommand(w, m.hub.rev, m.dev.Port, d, speeds...)
		},
	)
	return poop.Chain(err)
}

// Angled turns the motor through the given angle in whole degrees.
func (m *Motor) Angled(ctx context.Context, degrees int, speeds ...float64) error {
	_, err := m.hub.sendAndWait(
		ctx,
		pendingKey{m.dev.Port, MessageTypePortFeedback},
		func(w io.Writer) error {
			return writeAngledRunCommand(w, m.hub.rev, m.dev.Port, degrees, speeds...)
		},
	)
	return poop.Chain(err)
}

// Constant starts the motor at a steady speed until told otherwise.
func (m *Motor) Constant(ctx context.Context, speeds ...float64) error {
	_, err := m.hub.sendAndWait(
		ctx,
		pendingKey{m.dev.Port, MessageTypePortFeedback},
		func(w io.Writer) error {
			return writeConstantRunCommand(w, m.hub.rev, m.dev.Port, speeds...)
		},
	)
	return poop.Chain(err)
}

// Stop halts the motor.
func (m *Motor) Stop(ctx context.Context) error {
	return m.Constant(ctx, 0)
}

// Encoded motor sensing modes.
const (
	motorModeSpeed byte = 0x01
	motorModeAngle byte = 0x02
)

// SubscribeAngle streams the cumulative position of an encoded motor in
// degrees. Plain motors have no encoder and return ErrDeviceNotReady.
func (m *Motor) SubscribeAngle(ctx context.Context, fn func(degrees int32)) (func(), error) {
	if !m.dev.HasEncoder() {
		return nil, poop.Chain(ErrDeviceNotReady)
	}
	return m.hub.subscribe(ctx, m.dev, motorModeAngle, func(value []byte, _ byte) {
		if len(value) < 4 {
			return
		}
		fn(int32(binary.LittleEndian.Uint32(value)))
	})
}

// SubscribeSpeed streams the measured speed of an encoded motor as a
// signed percentage of full speed.
func (m *Motor) SubscribeSpeed(ctx context.Context, fn func(speed int8)) (func(), error) {
	if !m.dev.HasEncoder() {
		return nil, poop.Chain(ErrDeviceNotReady)
	}
	return m.hub.subscribe(ctx, m.dev, motorModeSpeed, func(value []byte, _ byte) {
		if len(value) < 1 {
			return
		}
		fn(int8(value[0]))
	})
}

// LED is the hub's RGB light.
type LED struct {
	hub *Hub
	dev *Device
}

// LED returns the builtin light, waiting for it to attach.
func (h *Hub) LED(ctx context.Context) (*LED, error) {
	dev, err := h.await(ctx, func(d *Device) bool {
		return d.Kind == KindLED
	})
	if err != nil {
		return nil, poop.Chain(err)
	}
	return &LED{hub: h, dev: dev}, nil
}

// SetColor sets the light to one of the palette colors. The hub applies
// it immediately; there is no acknowledgement to wait on.
func (l *LED) SetColor(color Color) error {
	return poop.Chain(writeSetColorCommand(l.hub.tx, l.hub.rev, color))
}

// TiltMode selects how the builtin tilt sensor reports.
type TiltMode byte

const (
	TiltModeTwoAxisFull   TiltMode = 0x00
	TiltModeTwoAxisSimple TiltMode = 0x01
	// TiltModeThreeAxisSimple is the default: one coarse orientation
	// state per report.
	TiltModeThreeAxisSimple TiltMode = 0x02
	TiltModeImpactCount     TiltMode = 0x03
	TiltModeThreeAxisFull   TiltMode = 0x04
)

// TiltState is the coarse orientation reported by the simple modes.
type TiltState byte

// Three-axis simple states.
const (
	TiltBack  TiltState = 0x00
	TiltUp    TiltState = 0x01
	TiltDown  TiltState = 0x02
	TiltLeft  TiltState = 0x03
	TiltRight TiltState = 0x04
	TiltFront TiltState = 0x05
)

// Two-axis simple states.
const (
	TiltHorizontal TiltState = 0x00
	TiltDuoDown    TiltState = 0x03
	TiltDuoLeft    TiltState = 0x05
	TiltDuoRight   TiltState = 0x07
	TiltDuoUp      TiltState = 0x09
)

// TiltEvent is one report from the tilt sensor. Which fields are
// populated depends on the mode the subscription asked for.
type TiltEvent struct {
	Mode    TiltMode
	State   TiltState
	Roll    int8
	Pitch   int8
	Yaw     int8
	Impacts uint32
}

// TiltSensor is the hub's builtin motion sensor.
type TiltSensor struct {
	hub *Hub
	dev *Device
}

// TiltSensor returns the builtin tilt sensor, waiting for it to attach.
func (h *Hub) TiltSensor(ctx context.Context) (*TiltSensor, error) {
	dev, err := h.await(ctx, func(d *Device) bool {
		return d.Kind == KindTiltSensor
	})
	if err != nil {
		return nil, poop.Chain(err)
	}
	return &TiltSensor{hub: h, dev: dev}, nil
}

// Subscribe streams tilt reports in the given mode.
func (t *TiltSensor) Subscribe(
	ctx context.Context,
	mode TiltMode,
	fn func(TiltEvent),
) (func(), error) {
	return t.hub.subscribe(ctx, t.dev, byte(mode), func(value []byte, m byte) {
		if ev, ok := decodeTiltEvent(TiltMode(m), value); ok {
			fn(ev)
		}
	})
}

func decodeTiltEvent(mode TiltMode, value []byte) (TiltEvent, bool) {
	ev := TiltEvent{Mode: mode}
	switch mode {
	case TiltModeTwoAxisSimple, TiltModeThreeAxisSimple:
		if len(value) < 1 {
			return ev, false
		}
		ev.State = TiltState(value[0])
	case TiltModeTwoAxisFull:
		if len(value) < 2 {
			return ev, false
		}
		ev.Roll, ev.Pitch = int8(value[0]), int8(value[1])
	case TiltModeThreeAxisFull:
		if len(value) < 3 {
			return ev, false
		}
		ev.Roll, ev.Pitch, ev.Yaw = int8(value[0]), int8(value[1]), int8(value[2])
	case TiltModeImpactCount:
		if len(value) < 4 {
			return ev, false
		}
		ev.Impacts = binary.LittleEndian.Uint32(value)
	default:
		return ev, false
	}
	return ev, true
}

// ColorDistanceMode selects how the color/distance sensor reports.
type ColorDistanceMode byte

const (
	ColorDistanceModeColor          ColorDistanceMode = 0x00
	ColorDistanceModeDistanceInches ColorDistanceMode = 0x01
	ColorDistanceModeCount          ColorDistanceMode = 0x02
	ColorDistanceModeReflected      ColorDistanceMode = 0x03
	ColorDistanceModeAmbient        ColorDistanceMode = 0x04
	ColorDistanceModeRGB            ColorDistanceMode = 0x06
	// ColorDistanceModeColorDistance is the default: a color byte and a
	// coarse distance byte per report.
	ColorDistanceModeColorDistance ColorDistanceMode = 0x08
)

// ColorDistanceEvent is one report from the color/distance sensor. Raw
// always holds the undecoded value bytes for modes without a typed
// interpretation.
type ColorDistanceEvent struct {
	Mode     ColorDistanceMode
	Color    Color
	Distance float64
	Count    uint32
	Raw      []byte
}

// ColorDistanceSensor is the combined color and distance sensor.
type ColorDistanceSensor struct {
	hub *Hub
	dev *Device
}

// ColorDistanceSensor returns the attached color/distance sensor,
// waiting for it to attach to either external port.
func (h *Hub) ColorDistanceSensor(ctx context.Context) (*ColorDistanceSensor, error) {
	dev, err := h.await(ctx, func(d *Device) bool {
		return d.Kind == KindColorDistanceSensor
	})
	if err != nil {
		return nil, poop.Chain(err)
	}
	return &ColorDistanceSensor{hub: h, dev: dev}, nil
}

// Subscribe streams sensor reports in the given mode.
func (s *ColorDistanceSensor) Subscribe(
	ctx context.Context,
	mode ColorDistanceMode,
	fn func(ColorDistanceEvent),
) (func(), error) {
	return s.hub.subscribe(ctx, s.dev, byte(mode), func(value []byte, m byte) {
		if ev, ok := decodeColorDistanceEvent(ColorDistanceMode(m), value); ok {
			fn(ev)
		}
	})
}

func decodeColorDistanceEvent(
	mode ColorDistanceMode,
	value []byte,
) (ColorDistanceEvent, bool) {
	ev := ColorDistanceEvent{Mode: mode, Raw: value}
	switch mode {
	case ColorDistanceModeColorDistance:
		if len(value) < 2 {
			return ev, false
		}
		ev.Color = Color(value[0])
		ev.Distance = float64(value[1])
		// The fourth byte refines the coarse distance when the target
		// is close.
		if len(value) >= 4 && value[3] > 0 {
			ev.Distance += 1 / float64(value[3])
		}
	case ColorDistanceModeColor:
		if len(value) < 1 {
			return ev, false
		}
		ev.Color = Color(value[0])
	case ColorDistanceModeDistanceInches:
		if len(value) < 1 {
			return ev, false
		}
		ev.Distance = float64(value[0])
	case ColorDistanceModeCount:
		if len(value) < 4 {
			return ev, false
		}
		ev.Count = binary.LittleEndian.Uint32(value)
	default:
		if len(value) == 0 {
			return ev, false
		}
	}
	return ev, true
}

// Button is the power button on top of the hub.
type Button struct {
	hub *Hub
	dev *Device
}

// Button returns the hub button. It is always present; no attach wait.
func (h *Hub) Button() *Button {
	return &Button{hub: h, dev: h.registry.get(PortButton)}
}

// Subscribe streams press and release transitions.
func (b *Button) Subscribe(ctx context.Context, fn func(pressed bool)) (func(), error) {
	return b.hub.subscribe(ctx, b.dev, 0, func(value []byte, _ byte) {
		if len(value) < 1 {
			return
		}
		fn(value[0] != 0)
	})
}

// BatteryEvent is one battery report. Percent is populated for the
// single-byte percentage reports; Raw carries two-byte millivolt
// readings from older firmware.
type BatteryEvent struct {
	Percent byte
	Raw     uint16
}

// Battery is the hub's voltage sensor.
type Battery struct {
	hub *Hub
	dev *Device
}

// Battery returns the builtin voltage sensor, waiting for it to attach.
func (h *Hub) Battery(ctx context.Context) (*Battery, error) {
	dev, err := h.await(ctx, func(d *Device) bool {
		return d.Kind == KindBattery
	})
	if err != nil {
		return nil, poop.Chain(err)
	}
	return &Battery{hub: h, dev: dev}, nil
}

// Subscribe streams battery level reports.
func (b *Battery) Subscribe(ctx context.Context, fn func(BatteryEvent)) (func(), error) {
	return b.hub.subscribe(ctx, b.dev, 0, func(value []byte, _ byte) {
		switch {
		case len(value) >= 2:
			fn(BatteryEvent{Raw: binary.LittleEndian.Uint16(value)})
		case len(value) == 1:
			fn(BatteryEvent{Percent: value[0]})
		}
	})
}
