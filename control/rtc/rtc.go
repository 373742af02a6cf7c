// Package rtc talks to the DS3231 real-time clock that keeps time while the board is off.
package rtc

import (
	"fmt"

	"github.com/jrockway/rtc-segment-clock/control/bcd"
	"periph.io/x/conn/v3/i2c"
)

const (
	// DefaultAddr is the DS3231's fixed I2C address.
	DefaultAddr = 0x68

	// RegisterSeconds is the first timekeeping register; the other six follow it.
	RegisterSeconds = 0x00
)

// Dev is a DS3231.  Bus errors are returned as-is and never retried.
type Dev struct {
	dev i2c.Dev
}

// New returns a Dev at addr on bus.
func New(bus i2c.Bus, addr uint16) *Dev {
	return &Dev{dev: i2c.Dev{Bus: bus, Addr: addr}}
}

func (d *Dev) String() string {
	return "ds3231@" + d.dev.String()
}

// InitializeWith sets the clock to t in a single transaction.
func (d *Dev) InitializeWith(t bcd.CalendarTime) error {
	rec, err := bcd.Encode(t)
	if err != nil {
		return fmt.Errorf("initialize rtc: %w", err)
	}
	w := make([]byte, 1, 1+bcd.RecordLen)
	w[0] = RegisterSeconds
	w = append(w, rec[:]...)
	if err := d.dev.Tx(w, nil); err != nil {
		return fmt.Errorf("write time registers: %w", err)
	}
	return nil
}

// ReadCurrent reads all seven timekeeping registers at once, so the result is coherent.  The
// result is not validated.
func (d *Dev) ReadCurrent() (bcd.CalendarTime, error) {
	var rec bcd.Record
	if err := d.dev.Tx([]byte{RegisterSeconds}, rec[:]); err != nil {
		return bcd.CalendarTime{}, fmt.Errorf("read time registers: %w", err)
	}
	return bcd.Decode(rec), nil
}
