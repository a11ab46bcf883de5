package movehub

import (
	"bytes"

	"github.com/kellegous/poop"
)

// Revision selects the wire quirks of the hub firmware. Early firmware
// declared frame lengths that excluded the length byte itself and used a
// different startup byte for direct writes to the LED; both were fixed in
// later firmware. The default for new hubs is RevisionV2.
type Revision byte

const (
	RevisionEarly Revision = iota
	RevisionV1
	RevisionV2
)

func (r Revision) lengthIncludesHeader() bool {
	return r != RevisionEarly
}

func (r Revision) ledStartup() byte {
	if r == RevisionV2 {
		return 0x01
	}
	return 0x11
}

// The second header byte. The hub reports 0x00 on everything it sends and
// accepts 0x01 on everything it receives.
const (
	hubIDInbound  byte = 0x00
	hubIDOutbound byte = 0x01
)

// maxShortFrame is the largest frame length that fits a single length
// byte. Longer frames spill the length across two bytes.
const maxShortFrame = 127

// frame is one length-prefixed protocol message unit.
type frame struct {
	Type    MessageType
	Payload []byte
}

// encodeFrame wraps a message type and payload in a frame header. The
// declared length covers the whole frame, less the length byte itself on
// early-revision hubs.
func encodeFrame(rev Revision, t MessageType, payload []byte) []byte {
	total := len(payload) + 3 // length + hub id + message type
	if total > maxShortFrame {
		total++
	}

	declared := total
	if !rev.lengthIncludesHeader() {
		declared--
	}

	var buf bytes.Buffer
	if total > maxShortFrame {
		buf.WriteByte(byte(declared&0x7f) | 0x80)
		buf.WriteByte(byte(declared >> 7))
	} else {
		buf.WriteByte(byte(declared))
	}
	buf.WriteByte(hubIDOutbound)
	buf.WriteByte(byte(t))
	buf.Write(payload)
	return buf.Bytes()
}

// decodeFrame splits a raw frame into its message type and payload,
// rejecting anything whose declared length disagrees with its size. A
// mismatched frame is rejected whole, never partially parsed.
func decodeFrame(data []byte) (*frame, error) {
	if len(data) < 3 {
		return nil, poop.Chain(ErrTruncated)
	}

	declared, header := int(data[0]), 1
	if declared&0x80 != 0 {
		declared = declared&0x7f | int(data[1])<<7
		header = 2
	}

	// Tolerate the early firmware's off-by-one declared length.
	if declared != len(data) && declared != len(data)-1 {
		if declared > len(data) {
			return nil, poop.Chain(ErrTruncated)
		}
		return nil, poop.Chain(ErrMalformedFrame)
	}

	if len(data) < header+2 {
		return nil, poop.Chain(ErrTruncated)
	}

	return &frame{
		Type:    MessageType(data[header+1]),
		Payload: data[header+2:],
	}, nil
}
