// Package segment drives the four-digit seven-segment display (a VK16K33, which is register
// compatible with the Holtek HT16K33) that shows the time, and retains the last frame it showed
// so that the display can be debugged without the hardware attached.
package segment

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"periph.io/x/conn/v3/i2c"
)

const (
	// DefaultAddr is the backpack's I2C address with no address jumpers bridged.
	DefaultAddr = 0x70

	cmdOscillatorOn = 0x21 // system setup: oscillator on
	cmdDisplayOn    = 0x81 // display setup: display on
	cmdBrightness   = 0xEF // dimming: 16/16 duty

	ramAddr  = 0x00
	colonOn  = 0xFF
	colonOff = 0x00

	// FrameLen is the size of a render transaction: RAM address, then five digit positions of
	// two bytes each.
	FrameLen = 11
)

// ErrOutOfRange is returned for digits, hours or minutes that can't be drawn.
var ErrOutOfRange = errors.New("value out of range")

// digits maps a decimal digit to its segments, bit 0 is segment a through bit 6 is segment g.
var digits = [10]byte{0x3F, 0x06, 0x5B, 0x4F, 0x66, 0x6D, 0x7D, 0x07, 0x7F, 0x6F}

var renderCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "display_renders",
	Help: "count of frames sent to the display, by result",
}, []string{"result"})

// Segment returns the segment pattern for a decimal digit.
func Segment(digit int) (byte, error) {
	if digit < 0 || digit > 9 {
		return 0, fmt.Errorf("digit %d: %w", digit, ErrOutOfRange)
	}
	return digits[digit], nil
}

// Frame is what the display shows: four segment patterns and the colon.
type Frame struct {
	HourTens, HourOnes     byte
	MinuteTens, MinuteOnes byte
	Colon                  bool
}

// NewFrame builds the frame for hour:minute.
func NewFrame(hour, minute int, colon bool) (Frame, error) {
	if hour < 0 || hour > 23 {
		return Frame{}, fmt.Errorf("hour %d: %w", hour, ErrOutOfRange)
	}
	if minute < 0 || minute > 59 {
		return Frame{}, fmt.Errorf("minute %d: %w", minute, ErrOutOfRange)
	}
	return Frame{
		HourTens:   digits[hour/10],
		HourOnes:   digits[hour%10],
		MinuteTens: digits[minute/10],
		MinuteOnes: digits[minute%10],
		Colon:      colon,
	}, nil
}

// Bytes returns the render transaction for f.  Each position is a segment byte followed by an
// unused high byte; the third position is the colon.
func (f Frame) Bytes() [FrameLen]byte {
	colon := byte(colonOff)
	if f.Colon {
		colon = colonOn
	}
	return [FrameLen]byte{
		ramAddr,
		f.HourTens, 0x00,
		f.HourOnes, 0x00,
		colon, 0x00,
		f.MinuteTens, 0x00,
		f.MinuteOnes, 0x00,
	}
}

// Dev is the display.
type Dev struct {
	dev i2c.Dev

	frameMu sync.Mutex
	frame   Frame // must hold frameMu; the last frame successfully written
}

// New returns a Dev at addr on bus.  If bus is nil, frames are retained but not sent anywhere.
func New(bus i2c.Bus, addr uint16) *Dev {
	return &Dev{dev: i2c.Dev{Bus: bus, Addr: addr}}
}

// Initialize starts the oscillator, turns the display on, and sets maximum brightness.  The
// first failure aborts the sequence.
func (d *Dev) Initialize() error {
	if d.dev.Bus == nil {
		return nil
	}
	for _, step := range []struct {
		name string
		cmd  byte
	}{
		{"enable oscillator", cmdOscillatorOn},
		{"enable display", cmdDisplayOn},
		{"set brightness", cmdBrightness},
	} {
		if err := d.dev.Tx([]byte{step.cmd}, nil); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

// Render shows hour:minute, with or without the colon, in one transaction.
func (d *Dev) Render(hour, minute int, colon bool) error {
	f, err := NewFrame(hour, minute, colon)
	if err != nil {
		renderCounter.WithLabelValues("invalid").Inc()
		return fmt.Errorf("render: %w", err)
	}
	return d.write(f)
}

// Blank turns every segment off.
func (d *Dev) Blank() error {
	return d.write(Frame{})
}

func (d *Dev) write(f Frame) error {
	if d.dev.Bus != nil {
		b := f.Bytes()
		if err := d.dev.Tx(b[:], nil); err != nil {
			renderCounter.WithLabelValues("error").Inc()
			return fmt.Errorf("write display ram: %w", err)
		}
	}
	renderCounter.WithLabelValues("ok").Inc()
	d.frameMu.Lock()
	d.frame = f
	d.frameMu.Unlock()
	return nil
}

// Frame returns the frame most recently written to the display.
func (d *Dev) Frame() Frame {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	return d.frame
}
