package movehub

// MessageType is the third header byte of every frame and selects the
// payload layout.
type MessageType byte

const (
	MessageTypeHubProperty     MessageType = 0x01
	MessageTypeHubShutdown     MessageType = 0x02
	MessageTypePingResponse    MessageType = 0x03
	MessageTypeAttachedIO      MessageType = 0x04
	MessageTypePortCmdError    MessageType = 0x05
	MessageTypePortInputFormat MessageType = 0x41
	MessageTypeSensorData      MessageType = 0x45
	MessageTypePortInputAck    MessageType = 0x47
	MessageTypePortOutput      MessageType = 0x81
	MessageTypePortFeedback    MessageType = 0x82
)

var messageTypeText = map[MessageType]string{
	MessageTypeHubProperty:     "HubProperty",
	MessageTypeHubShutdown:     "HubShutdown",
	MessageTypePingResponse:    "PingResponse",
	MessageTypeAttachedIO:      "AttachedIO",
	MessageTypePortCmdError:    "PortCmdError",
	MessageTypePortInputFormat: "PortInputFormat",
	MessageTypeSensorData:      "SensorData",
	MessageTypePortInputAck:    "PortInputAck",
	MessageTypePortOutput:      "PortOutput",
	MessageTypePortFeedback:    "PortFeedback",
}

func (t MessageType) String() string {
	if s, ok := messageTypeText[t]; ok {
		return s
	}
	return "Unknown"
}

// Port identifies a connector slot on the hub. The external ports C and D
// accept whatever is plugged in, the rest are wired to builtin devices.
type Port byte

const (
	PortC       Port = 0x01
	PortD       Port = 0x02
	PortLED     Port = 0x32
	PortA       Port = 0x37
	PortB       Port = 0x38
	PortAB      Port = 0x39
	PortTilt    Port = 0x3A
	PortCurrent Port = 0x3B
	PortVoltage Port = 0x3C

	// PortButton is a synthetic port for the hub button, which reports
	// through hub property updates rather than a connector.
	PortButton Port = 0xFF
)

// IOType is the device type code carried by attach notifications.
type IOType uint16

const (
	IOTypeMotor         IOType = 0x0001
	IOTypeTrainMotor    IOType = 0x0002
	IOTypeVoltage       IOType = 0x0014
	IOTypeCurrent       IOType = 0x0015
	IOTypeRGBLight      IOType = 0x0017
	IOTypeColorDistance IOType = 0x0025
	IOTypeExternalMotor IOType = 0x0026
	IOTypeInternalMotor IOType = 0x0027
	IOTypeTiltSensor    IOType = 0x0028
)

// DeviceKind is the closed set of device variants the hub knows how to
// drive and decode.
type DeviceKind byte

const (
	KindUnknown DeviceKind = iota
	KindMotor
	KindEncodedMotor
	KindLED
	KindTiltSensor
	KindColorDistanceSensor
	KindButton
	KindBattery
)

var deviceKindText = map[DeviceKind]string{
	KindUnknown:             "Unknown",
	KindMotor:               "Motor",
	KindEncodedMotor:        "EncodedMotor",
	KindLED:                 "LED",
	KindTiltSensor:          "TiltSensor",
	KindColorDistanceSensor: "ColorDistanceSensor",
	KindButton:              "Button",
	KindBattery:             "Battery",
}

func (k DeviceKind) String() string {
	return deviceKindText[k]
}

func kindOf(ioType IOType) DeviceKind {
	switch ioType {
	case IOTypeMotor, IOTypeTrainMotor:
		return KindMotor
	case IOTypeExternalMotor, IOTypeInternalMotor:
		return KindEncodedMotor
	case IOTypeRGBLight:
		return KindLED
	case IOTypeTiltSensor:
		return KindTiltSensor
	case IOTypeColorDistance:
		return KindColorDistanceSensor
	case IOTypeVoltage:
		return KindBattery
	}
	return KindUnknown
}

// Attach event subtypes within an AttachedIO message.
const (
	ioEventDetached    byte = 0x00
	ioEventAttached    byte = 0x01
	ioEventGroupAttach byte = 0x02
)

// Port output subcommands. Group variants address a virtual port pair
// (port AB) and carry a speed byte per motor.
const (
	subcmdConstantSingle byte = 0x01
	subcmdConstantGroup  byte = 0x02
	subcmdTimedSingle    byte = 0x09
	subcmdTimedGroup     byte = 0x0A
	subcmdAngledSingle   byte = 0x0B
	subcmdAngledGroup    byte = 0x0C
	subcmdWriteDirect    byte = 0x51
)

// Hub properties and operations within a HubProperty message.
const (
	hubPropertyButton byte = 0x02

	hubPropertyOpEnableUpdates byte = 0x02
	hubPropertyOpUpdate        byte = 0x06
)

// Color is the palette the hub understands, both for the RGB LED and for
// values reported by the color sensor.
type Color byte

const (
	ColorBlack     Color = 0x00
	ColorPink      Color = 0x01
	ColorPurple    Color = 0x02
	ColorBlue      Color = 0x03
	ColorLightBlue Color = 0x04
	ColorCyan      Color = 0x05
	ColorGreen     Color = 0x06
	ColorYellow    Color = 0x07
	ColorOrange    Color = 0x08
	ColorRed       Color = 0x09
	ColorWhite     Color = 0x0A
	ColorNone      Color = 0xFF
)

var colorText = map[Color]string{
	ColorBlack:     "black",
	ColorPink:      "pink",
	ColorPurple:    "purple",
	ColorBlue:      "blue",
	ColorLightBlue: "lightblue",
	ColorCyan:      "cyan",
	ColorGreen:     "green",
	ColorYellow:    "yellow",
	ColorOrange:    "orange",
	ColorRed:       "red",
	ColorWhite:     "white",
	ColorNone:      "none",
}

func (c Color) String() string {
	if s, ok := colorText[c]; ok {
		return s
	}
	return "invalid"
}
