package main

import (
	"context"
	"flag"
	"time"

	"github.com/kellegous/poop"
	"tinygo.org/x/bluetooth"

	"github.com/kellegous/movehub"
	movehub_bluetooth "github.com/kellegous/movehub/bluetooth"
)

func main() {
	if err := run(context.Background()); err != nil {
		poop.HitFan(err)
	}
}

func run(ctx context.Context) error {
	var name string
	flag.StringVar(
		&name,
		"name",
		"",
		"the advertised name of the hub (first hub found if empty)",
	)
	flag.Parse()

	client, err := movehub_bluetooth.NewClient(bluetooth.DefaultAdapter)
	if err != nil {
		return poop.Chain(err)
	}

	device, err := client.LookupDevice(ctx, name)
	if err != nil {
		return poop.Chain(err)
	}

	hub, err := client.Connect(ctx, device.Address)
	if err != nil {
		return poop.Chain(err)
	}
	defer hub.Close()

	led, err := hub.LED(ctx)
	if err != nil {
		return poop.Chain(err)
	}

	colors := []movehub.Color{
		movehub.ColorRed,
		movehub.ColorOrange,
		movehub.ColorYellow,
		movehub.ColorGreen,
		movehub.ColorCyan,
		movehub.ColorBlue,
		movehub.ColorPurple,
		movehub.ColorWhite,
	}

	for _, color := range colors {
		if err := led.SetColor(color); err != nil {
			return poop.Chain(err)
		}
		select {
		case <-time.After(time.Second):
		case <-hub.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
