package movehub

import (
	"bytes"
	"encoding/binary"

	"github.com/kellegous/poop"
)

// Message is a decoded inbound frame.
type Message interface {
	MessageType() MessageType
}

// AttachedIOMessage reports a device appearing on or vanishing from a
// port. Group attaches name the two member ports of a virtual port pair.
type AttachedIOMessage struct {
	Port            Port
	Attached        bool
	IOType          IOType
	HardwareVersion uint32
	SoftwareVersion uint32
	GroupPorts      []Port
}

func (m *AttachedIOMessage) MessageType() MessageType {
	return MessageTypeAttachedIO
}

func readAttachedIOMessage(data []byte) (*AttachedIOMessage, error) {
	r := bytes.NewReader(data)

	var port, event byte
	if err := binary.Read(r, binary.LittleEndian, &port); err != nil {
		return nil, poop.Chain(ErrTruncated)
	}
	if err := binary.Read(r, binary.LittleEndian, &event); err != nil {
		return nil, poop.Chain(ErrTruncated)
	}

	m := AttachedIOMessage{Port: Port(port)}

	switch event {
	case ioEventDetached:
		return &m, nil
	case ioEventAttached:
		m.Attached = true
		if err := binary.Read(r, binary.LittleEndian, &m.IOType); err != nil {
			return nil, poop.Chain(ErrTruncated)
		}
		// Version fields arrived with later firmware.
		if r.Len() >= 8 {
			if err := binary.Read(r, binary.LittleEndian, &m.HardwareVersion); err != nil {
				return nil, poop.Chain(ErrTruncated)
			}
			if err := binary.Read(r, binary.LittleEndian, &m.SoftwareVersion); err != nil {
				return nil, poop.Chain(ErrTruncated)
			}
		}
		return &m, nil
	case ioEventGroupAttach:
		m.Attached = true
		if err := binary.Read(r, binary.LittleEndian, &m.IOType); err != nil {
			return nil, poop.Chain(ErrTruncated)
		}
		var a, b byte
		if err := binary.Read(r, binary.LittleEndian, &a); err != nil {
			return nil, poop.Chain(ErrTruncated)
		}
		if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
			return nil, poop.Chain(ErrTruncated)
		}
		m.GroupPorts = []Port{Port(a), Port(b)}
		return &m, nil
	}

	return nil, poop.Chain(ErrMalformedFrame)
}

// SensorDataMessage carries the raw value bytes for a port. Their
// interpretation depends on the device kind and its active mode.
type SensorDataMessage struct {
	Port  Port
	Value []byte
}

func (m *SensorDataMessage) MessageType() MessageType {
	return MessageTypeSensorData
}

func readSensorDataMessage(data []byte) (*SensorDataMessage, error) {
	if len(data) < 1 {
		return nil, poop.Chain(ErrTruncated)
	}
	return &SensorDataMessage{
		Port:  Port(data[0]),
		Value: data[1:],
	}, nil
}

// PortInputAckMessage acknowledges a port input format setup, echoing the
// mode and delta the hub actually applied.
type PortInputAckMessage struct {
	Port    Port
	Mode    byte
	Delta   uint32
	Enabled bool
}

func (m *PortInputAckMessage) MessageType() MessageType {
	return MessageTypePortInputAck
}

func readPortInputAckMessage(data []byte) (*PortInputAckMessage, error) {
	r := bytes.NewReader(data)

	var m PortInputAckMessage
	var port, enabled byte
	if err := binary.Read(r, binary.LittleEndian, &port); err != nil {
		return nil, poop.Chain(ErrTruncated)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Mode); err != nil {
		return nil, poop.Chain(ErrTruncated)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Delta); err != nil {
		return nil, poop.Chain(ErrTruncated)
	}
	if err := binary.Read(r, binary.LittleEndian, &enabled); err != nil {
		return nil, poop.Chain(ErrTruncated)
	}
	m.Port = Port(port)
	m.Enabled = enabled != 0
	return &m, nil
}

// PortFeedbackMessage reports completion status for a port output command.
type PortFeedbackMessage struct {
	Port   Port
	Status byte
}

func (m *PortFeedbackMessage) MessageType() MessageType {
	return MessageTypePortFeedback
}

func readPortFeedbackMessage(data []byte) (*PortFeedbackMessage, error) {
	if len(data) < 2 {
		return nil, poop.Chain(ErrTruncated)
	}
	return &PortFeedbackMessage{
		Port:   Port(data[0]),
		Status: data[1],
	}, nil
}

// HubPropertyMessage carries hub-level state such as the button.
type HubPropertyMessage struct {
	Property  byte
	Operation byte
	Payload   []byte
}

func (m *HubPropertyMessage) MessageType() MessageType {
	return MessageTypeHubProperty
}

func readHubPropertyMessage(data []byte) (*HubPropertyMessage, error) {
	if len(data) < 2 {
		return nil, poop.Chain(ErrTruncated)
	}
	return &HubPropertyMessage{
		Property:  data[0],
		Operation: data[1],
		Payload:   data[2:],
	}, nil
}

// ShutdownMessage is the terminal signal: the hub is powering off.
type ShutdownMessage struct{}

func (m *ShutdownMessage) MessageType() MessageType {
	return MessageTypeHubShutdown
}

// PortCmdErrorMessage reports a command the hub refused.
type PortCmdErrorMessage struct {
	Command byte
	Code    byte
}

func (m *PortCmdErrorMessage) MessageType() MessageType {
	return MessageTypePortCmdError
}

func readPortCmdErrorMessage(data []byte) (*PortCmdErrorMessage, error) {
	if len(data) < 2 {
		return nil, poop.Chain(ErrTruncated)
	}
	return &PortCmdErrorMessage{
		Command: data[0],
		Code:    data[1],
	}, nil
}

// Decode parses a raw frame into a typed message. Unknown message types
// come back as an error the dispatcher logs and drops; they are never
// fatal to the processing loop.
func Decode(data []byte) (Message, error) {
	f, err := decodeFrame(data)
	if err != nil {
		return nil, poop.Chain(err)
	}

	switch f.Type {
	case MessageTypeAttachedIO:
		return readAttachedIOMessage(f.Payload)
	case MessageTypeSensorData:
		return readSensorDataMessage(f.Payload)
	case MessageTypePortInputAck:
		return readPortInputAckMessage(f.Payload)
	case MessageTypePortFeedback:
		return readPortFeedbackMessage(f.Payload)
	case MessageTypeHubProperty:
		return readHubPropertyMessage(f.Payload)
	case MessageTypeHubShutdown:
		return &ShutdownMessage{}, nil
	case MessageTypePortCmdError:
		return readPortCmdErrorMessage(f.Payload)
	}

	return nil, poop.Newf("unknown message type %#02x", byte(f.Type))
}
