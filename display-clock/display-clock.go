// display-clock shows the host's time on the display, without involving the RTC.  It's for checking
// the display wiring on the bench.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrockway/rtc-segment-clock/control/clock"
	"github.com/jrockway/rtc-segment-clock/control/i2cbus"
	"github.com/jrockway/rtc-segment-clock/control/segment"
	"github.com/urfave/cli/v3"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

func run(ctx context.Context, cmd *cli.Command) error {
	here, err := time.LoadLocation(cmd.String("zone"))
	if err != nil {
		return fmt.Errorf("load zone: %w", err)
	}
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("init periph.io: %w", err)
	}
	bus, err := i2creg.Open(cmd.String("bus"))
	if err != nil {
		return fmt.Errorf("open i2c bus: %w", err)
	}
	defer bus.Close()

	d := segment.New(i2cbus.New(bus, i2cbus.DefaultTimeout), uint16(cmd.Uint("addr")))
	if err := d.Initialize(); err != nil {
		return fmt.Errorf("initialize display: %w", err)
	}
	log.Printf("clock initialized")

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	tickCh := make(chan time.Time)
	go clock.Tick(ctx, time.Second, tickCh)

	colon := false
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case t := <-tickCh:
			now := t.In(here)
			colon = !colon
			if err := d.Render(now.Hour(), now.Minute(), colon); err != nil {
				log.Printf("render: %v", err)
			}
		}
	}
	log.Printf("exiting")

	// Blank the display when exiting on a signal, just so someone looking at the clock can tell
	// whether the OS crashed or we just exited the program for some reason.
	if err := d.Blank(); err != nil {
		return fmt.Errorf("blank display: %w", err)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "display-clock",
		Usage:  "Show the host's time on the display",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "bus",
				Usage: "i2c bus that the display is on; empty means the first one",
			},
			&cli.UintFlag{
				Name:  "addr",
				Usage: "i2c address of the display",
				Value: segment.DefaultAddr,
			},
			&cli.StringFlag{
				Name:  "zone",
				Usage: "time zone to display",
				Value: "Asia/Taipei",
			},
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
