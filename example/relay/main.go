package main

import (
	"context"
	"flag"
	"net"
	"os"

	"github.com/kellegous/poop"
	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"

	movehub_bluetooth "github.com/kellegous/movehub/bluetooth"
	"github.com/kellegous/movehub/relay"
)

func main() {
	if err := run(context.Background()); err != nil {
		poop.HitFan(err)
	}
}

func run(ctx context.Context) error {
	var name, addr string
	flag.StringVar(
		&name,
		"name",
		"",
		"the advertised name of the hub (first hub found if empty)",
	)
	flag.StringVar(
		&addr,
		"addr",
		"localhost:9090",
		"the address to serve the relay on",
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	client, err := movehub_bluetooth.NewClient(bluetooth.DefaultAdapter)
	if err != nil {
		return poop.Chain(err)
	}

	device, err := client.LookupDevice(ctx, name)
	if err != nil {
		return poop.Chain(err)
	}

	tx, err := client.Open(ctx, device.Address)
	if err != nil {
		return poop.Chain(err)
	}
	defer tx.Disconnect()

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return poop.Chain(err)
	}

	log.Info().Str("addr", addr).Msg("relay listening")
	return relay.NewServer(tx, relay.WithLogger(log)).Serve(ctx, lis)
}
