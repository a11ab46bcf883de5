package bluetooth

import (
	"context"
	"iter"

	"github.com/kellegous/poop"
	"tinygo.org/x/bluetooth"

	"github.com/kellegous/movehub"
)

var (
	serviceUUID = mustParseUUID("00001623-1212-EFDE-1623-785FEABCD123")
	charUUID    = mustParseUUID("00001624-1212-EFDE-1623-785FEABCD123")
)

const localName = "LEGO Move Hub"

func mustParseUUID(s string) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return uuid
}

type Client struct {
	adapter *bluetooth.Adapter
}

func NewClient(adapter *bluetooth.Adapter) (*Client, error) {
	if err := adapter.Enable(); err != nil {
		return nil, poop.Chain(err)
	}
	return &Client{adapter: adapter}, nil
}

func isMoveHub(result *bluetooth.ScanResult) bool {
	return result.LocalName() == localName
}

// LookupDevice scans until a hub with the given name is found. An empty
// name matches the first Move Hub seen.
func (c *Client) LookupDevice(ctx context.Context, name string) (*bluetooth.ScanResult, error) {
	for device, err := range c.DiscoverDevices(ctx) {
		if err != nil {
			return nil, poop.Chain(err)
		}

		if name == "" || device.LocalName() == name {
			return device, nil
		}
	}
	return nil, poop.Newf("hub %q not found", name)
}

func (c *Client) DiscoverDevices(ctx context.Context) iter.Seq2[*bluetooth.ScanResult, error] {
	return func(yield func(*bluetooth.ScanResult, error) bool) {
		seen := make(map[string]bool)

		go func() {
			<-ctx.Done()
			c.adapter.StopScan()
		}()

		if err := c.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !isMoveHub(&result) || seen[result.Address.String()] {
				return
			}

			seen[result.Address.String()] = true
			if !yield(&result, nil) {
				c.adapter.StopScan()
			}
		}); err != nil {
			yield(nil, poop.Chain(err))
		}
	}
}

// Connect establishes the GATT session and returns a running hub.
func (c *Client) Connect(
	ctx context.Context,
	address bluetooth.Address,
	opts ...movehub.Option,
) (*movehub.Hub, error) {
	transport, err := c.Open(ctx, address)
	if err != nil {
		return nil, poop.Chain(err)
	}
	return movehub.NewHub(transport, opts...), nil
}

// Open establishes the GATT session and returns the raw transport,
// which is what a relay server wants. The Move Hub exposes a single
// characteristic used for both command writes and value notifications.
func (c *Client) Open(
	ctx context.Context,
	address bluetooth.Address,
) (*Transport, error) {
	device, err := c.adapter.Connect(address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, poop.Chain(err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return nil, poop.Chain(err)
	}
	if len(services) != 1 {
		return nil, poop.Newf("expected 1 service, got %d", len(services))
	}

	characteristics, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil {
		return nil, poop.Chain(err)
	}
	if len(characteristics) != 1 {
		return nil, poop.Newf("expected 1 characteristic, got %d", len(characteristics))
	}

	transport := &Transport{
		device: device,
		char:   characteristics[0],
	}

	if err := characteristics[0].EnableNotifications(func(data []byte) {
		transport.deliver(data)
	}); err != nil {
		return nil, poop.Chain(err)
	}

	return transport, nil
}
