package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/kellegous/poop"
	"github.com/rs/zerolog"
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
	var verbose bool
	flag.StringVar(
		&name,
		"name",
		"",
		"the advertised name of the hub (first hub found if empty)",
	)
	flag.BoolVar(
		&verbose,
		"verbose",
		false,
		"log protocol traffic to stderr",
	)
	flag.Parse()

	var opts []movehub.Option
	if verbose {
		opts = append(opts, movehub.WithLogger(
			zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}),
		))
	}

	client, err := movehub_bluetooth.NewClient(bluetooth.DefaultAdapter)
	if err != nil {
		return poop.Chain(err)
	}

	device, err := client.LookupDevice(ctx, name)
	if err != nil {
		return poop.Chain(err)
	}

	hub, err := client.Connect(ctx, device.Address, opts...)
	if err != nil {
		return poop.Chain(err)
	}
	defer hub.Close()

	tilt, err := hub.TiltSensor(ctx)
	if err != nil {
		return poop.Chain(err)
	}

	unsubTilt, err := tilt.Subscribe(
		ctx,
		movehub.TiltModeThreeAxisFull,
		func(ev movehub.TiltEvent) {
			fmt.Printf("tilt: roll=%d pitch=%d yaw=%d\n", ev.Roll, ev.Pitch, ev.Yaw)
		},
	)
	if err != nil {
		return poop.Chain(err)
	}
	defer unsubTilt()

	if sensor, err := hub.ColorDistanceSensor(ctx); err == nil {
		unsub, err := sensor.Subscribe(
			ctx,
			movehub.ColorDistanceModeColorDistance,
			func(ev movehub.ColorDistanceEvent) {
				fmt.Printf("color: %s distance=%.1f\n", ev.Color, ev.Distance)
			},
		)
		if err != nil {
			return poop.Chain(err)
		}
		defer unsub()
	}

	unsubButton, err := hub.Button().Subscribe(ctx, func(pressed bool) {
		fmt.Printf("button: pressed=%v\n", pressed)
	})
	if err != nil {
		return poop.Chain(err)
	}
	defer unsubButton()

	select {
	case <-hub.Done():
	case <-ctx.Done():
	}
	return nil
}
