package movehub

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/kellegous/poop"
)

// ticksPerSecond is the hub's clock for timed motor runs. Wall-clock
// durations convert to ticks of one millisecond.
const ticksPerSecond = 1000

// motorTrailer closes every motor command: max power, end state and
// acceleration profile.
var motorTrailer = []byte{0x64, 0x7f, 0x03}

// rawSpeed converts a speed in [-1, 1] to the hub's signed percentage
// byte, clamping anything out of range.
func rawSpeed(speed float64) byte {
	v := math.Round(speed * 100)
	if v > 100 {
		v = 100
	} else if v < -100 {
		v = -100
	}
	return byte(int8(v))
}

func durationToTicks(d time.Duration) uint16 {
	ticks := d.Milliseconds() * ticksPerSecond / 1000
	if ticks < 0 {
		ticks = 0
	} else if ticks > math.MaxUint16 {
		ticks = math.MaxUint16
	}
	return uint16(ticks)
}

func writeFrame(w io.Writer, rev Revision, t MessageType, payload []byte) error {
	if _, err := w.Write(encodeFrame(rev, t, payload)); err != nil {
		return poop.Chain(err)
	}
	return nil
}

func writeSetColorCommand(w io.Writer, rev Revision, color Color) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(PortLED))
	buf.WriteByte(rev.ledStartup())
	buf.WriteByte(subcmdWriteDirect)
	buf.WriteByte(0x00) // mode
	buf.WriteByte(byte(color))
	return writeFrame(w, rev, MessageTypePortOutput, buf.Bytes())
}

func writeTimedRunCommand(
	w io.Writer,
	rev Revision,
	port Port,
	d time.Duration,
	speeds ...float64,
) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(port))
	buf.WriteByte(0x11)
	if port == PortAB {
		buf.WriteByte(subcmdTimedGroup)
	} else {
		buf.WriteByte(subcmdTimedSingle)
	}
	if err := binary.Write(&buf, binary.LittleEndian, durationToTicks(d)); err != nil {
		return poop.Chain(err)
	}
	for _, speed := range motorSpeeds(port, speeds) {
		buf.WriteByte(rawSpeed(speed))
	}
	buf.Write(motorTrailer)
	return writeFrame(w, rev, MessageTypePortOutput, buf.Bytes())
}

func writeAngledRunCommand(
	w io.Writer,
	rev Revision,
	port Port,
	degrees int,
	speeds ...float64,
) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(port))
	buf.WriteByte(0x11)
	if port == PortAB {
		buf.WriteByte(subcmdAngledGroup)
	} else {
		buf.WriteByte(subcmdAngledSingle)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(degrees)); err != nil {
		return poop.Chain(err)
	}
	for _, speed := range motorSpeeds(port, speeds) {
		buf.WriteByte(rawSpeed(speed))
	}
	buf.Write(motorTrailer)
	return writeFrame(w, rev, MessageTypePortOutput, buf.Bytes())
}

func writeConstantRunCommand(
	w io.Writer,
	rev Revision,
	port Port,
	speeds ...float64,
) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(port))
	buf.WriteByte(0x11)
	if port == PortAB {
		buf.WriteByte(subcmdConstantGroup)
	} else {
		buf.WriteByte(subcmdConstantSingle)
	}
	for _, speed := range motorSpeeds(port, speeds) {
		buf.WriteByte(rawSpeed(speed))
	}
	buf.Write(motorTrailer)
	return writeFrame(w, rev, MessageTypePortOutput, buf.Bytes())
}

// motorSpeeds normalizes the caller's speed list to what the port
// expects: one byte for a single motor, two for the AB pair. A missing
// second speed mirrors the first; no speeds at all means full ahead.
func motorSpeeds(port Port, speeds []float64) []float64 {
	if len(speeds) == 0 {
		speeds = []float64{1}
	}
	if port == PortAB && len(speeds) == 1 {
		speeds = []float64{speeds[0], speeds[0]}
	}
	n := 1
	if port == PortAB {
		n = 2
	}
	return speeds[:n]
}

func writePortInputFormatCommand(
	w io.Writer,
	rev Revision,
	port Port,
	mode byte,
	enable bool,
) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(port))
	buf.WriteByte(mode)
	if err := binary.Write(&buf, binary.LittleEndian, uint32(1)); err != nil {
		return poop.Chain(err)
	}
	if enable {
		buf.WriteByte(0x01)
	} else {
		buf.WriteByte(0x00)
	}
	return writeFrame(w, rev, MessageTypePortInputFormat, buf.Bytes())
}

func writeButtonUpdatesCommand(w io.Writer, rev Revision) error {
	return writeFrame(w, rev, MessageTypeHubProperty, []byte{
		hubPropertyButton,
		hubPropertyOpEnableUpdates,
	})
}
