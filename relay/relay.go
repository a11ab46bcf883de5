// Package relay forwards raw protocol frames over a local TCP socket as
// line-delimited JSON. A relay server holds the long-lived link to the
// hub so clients can come and go without re-pairing, which makes
// iterating on client code much faster.
//
// One JSON object per line, terminated by '\n':
//
//	{"type":"write","handle":14,"data":"0801813201510009"}
//	{"type":"notification","handle":14,"data":"060001020601"}
package relay

import (
	"encoding/hex"
	"encoding/json"

	"github.com/kellegous/poop"
)

// Handle is the GATT value handle of the hub's protocol characteristic.
// The relay carries it verbatim so traces line up with BLE captures.
const Handle = 0x0E

const (
	typeWrite        = "write"
	typeNotification = "notification"
	typeResponse     = "response"
)

type message struct {
	Type   string `json:"type"`
	Handle int    `json:"handle"`
	Data   string `json:"data"`
}

func (m *message) frame() ([]byte, error) {
	data, err := hex.DecodeString(m.Data)
	if err != nil {
		return nil, poop.Chain(err)
	}
	return data, nil
}

func marshalLine(t string, frame []byte) ([]byte, error) {
	b, err := json.Marshal(&message{
		Type:   t,
		Handle: Handle,
		Data:   hex.EncodeToString(frame),
	})
	if err != nil {
		return nil, poop.Chain(err)
	}
	return append(b, '\n'), nil
}
