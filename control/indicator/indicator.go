// Package indicator blinks the status LED so that you can tell the process is alive from across
// the room.
package indicator

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
	"periph.io/x/conn/v3/gpio"
)

// DefaultPeriod is how long the LED stays in each state.
const DefaultPeriod = 500 * time.Millisecond

var toggleCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "indicator_toggles",
	Help: "count of status led level changes, by result",
}, []string{"result"})

// Blink toggles pin every period until the context is done, and then turns it off.  Failing to set
// the pin is counted but otherwise ignored; only the context ends the loop.
func Blink(ctx context.Context, pin gpio.PinOut, period time.Duration) error {
	if period <= 0 {
		period = DefaultPeriod
	}
	l := trace.NewEventLog("indicator", pin.String())
	defer l.Finish()
	l.Printf("blinking every %v", period)
	level := gpio.Low
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		level = !level
		if err := pin.Out(level); err != nil {
			toggleCounter.WithLabelValues("error").Inc()
			l.Errorf("set %v: %v", level, err)
		} else {
			toggleCounter.WithLabelValues("ok").Inc()
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			if err := pin.Out(gpio.Low); err != nil {
				return fmt.Errorf("turn off %s: %w", pin, err)
			}
			return fmt.Errorf("blink %s: %w", pin, ctx.Err())
		}
	}
}
