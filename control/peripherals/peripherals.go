// Package peripherals opens the hardware the clock is made of.
package peripherals

import (
	"fmt"
	"io"
	"log"

	"github.com/jrockway/rtc-segment-clock/control/config"
	"github.com/jrockway/rtc-segment-clock/control/i2cbus"
	"github.com/jrockway/rtc-segment-clock/control/rtc"
	"github.com/jrockway/rtc-segment-clock/control/segment"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Peripherals is every device the clock talks to.  The RTC and display share Bus.
type Peripherals struct {
	Bus     *i2cbus.Bus
	RTC     *rtc.Dev
	Display *segment.Dev
	LED     gpio.PinOut // nil if there is no status led

	closer io.Closer
}

// New builds the devices on an already-open bus.  Nothing is sent to them.
func New(bus i2c.Bus, cfg config.HardwareConfig) *Peripherals {
	b := i2cbus.New(bus, cfg.BusTimeout)
	return &Peripherals{
		Bus:     b,
		RTC:     rtc.New(b, cfg.RTCAddress),
		Display: segment.New(b, cfg.DisplayAddress),
	}
}

// Open loads the host drivers and opens the configured bus and led pin.
func Open(cfg config.HardwareConfig) (*Peripherals, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph.io: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.I2CBus, err)
	}
	p := New(bus, cfg)
	p.closer = bus
	log.Printf("opened i2c bus %s", bus)

	if cfg.LEDPin != "" {
		pin := gpioreg.ByName(cfg.LEDPin)
		if pin == nil {
			bus.Close()
			return nil, fmt.Errorf("no gpio pin named %q", cfg.LEDPin)
		}
		p.LED = pin
	}
	return p, nil
}

// Close releases the bus.
func (p *Peripherals) Close() error {
	if p.closer == nil {
		return nil
	}
	if err := p.closer.Close(); err != nil {
		return fmt.Errorf("close i2c bus: %w", err)
	}
	return nil
}
