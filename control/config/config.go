// Package config loads the clock's settings from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jrockway/rtc-segment-clock/control/bcd"
	"gopkg.in/yaml.v3"
)

// SeedLayout is the format of Time.DefaultSeed.
const SeedLayout = "2006-01-02 15:04:05"

func init() {
	// Name fields in validation errors the way they appear in the file.
	validation.ErrorTag = "yaml"
}

// Config is the whole configuration.
type Config struct {
	Hardware HardwareConfig `yaml:"hardware"`
	Network  NetworkConfig  `yaml:"network"`
	Time     TimeConfig     `yaml:"time"`
	Clock    ClockConfig    `yaml:"clock"`
	Debug    DebugConfig    `yaml:"debug"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Hardware.Validate(); err != nil {
		return fmt.Errorf("hardware: %w", err)
	}
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	if err := c.Time.Validate(); err != nil {
		return fmt.Errorf("time: %w", err)
	}
	if err := c.Clock.Validate(); err != nil {
		return fmt.Errorf("clock: %w", err)
	}
	if err := c.Debug.Validate(); err != nil {
		return fmt.Errorf("debug: %w", err)
	}
	return nil
}

// HardwareConfig says where the devices are.
type HardwareConfig struct {
	I2CBus         string        `yaml:"i2c_bus"` // empty means the first bus found
	RTCAddress     uint16        `yaml:"rtc_address"`
	DisplayAddress uint16        `yaml:"display_address"`
	BusTimeout     time.Duration `yaml:"bus_timeout"`
	LEDPin         string        `yaml:"led_pin"` // gpioreg name; empty means no status led
}

// Validate validates the hardware configuration.
func (c *HardwareConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		// 7-bit addresses outside the reserved ranges.
		validation.Field(&c.RTCAddress, validation.Required, validation.Min(uint16(0x08)), validation.Max(uint16(0x77))),
		validation.Field(&c.DisplayAddress, validation.Required, validation.Min(uint16(0x08)), validation.Max(uint16(0x77))),
		validation.Field(&c.BusTimeout, validation.Required, validation.Min(time.Millisecond)),
	); err != nil {
		return err
	}
	if c.RTCAddress == c.DisplayAddress {
		return fmt.Errorf("rtc and display both at address %#x", c.RTCAddress)
	}
	return nil
}

// NetworkConfig controls waiting for the network.
type NetworkConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Interface        string        `yaml:"interface"`
	MaxRetries       int           `yaml:"max_retries"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	AssociateTimeout time.Duration `yaml:"associate_timeout"`
}

// Validate validates the network configuration.
func (c *NetworkConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Interface, validation.Required),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.ReconnectDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.AssociateTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

// TimeConfig controls where the time comes from.
type TimeConfig struct {
	Server       string        `yaml:"server"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Attempts     int           `yaml:"attempts"`
	MinYear      int           `yaml:"min_year"`
	NTPInterval  time.Duration `yaml:"ntp_interval"`
	NTPTimeout   time.Duration `yaml:"ntp_timeout"`
	UTCOffset    time.Duration `yaml:"utc_offset"`
	DefaultSeed  string        `yaml:"default_seed"` // in SeedLayout
}

// Validate validates the time configuration.
func (c *TimeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.Required),
		validation.Field(&c.PollInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Attempts, validation.Required, validation.Min(1)),
		validation.Field(&c.MinYear, validation.Required, validation.Min(2000), validation.Max(2099)),
		validation.Field(&c.NTPInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.NTPTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.UTCOffset, validation.Min(-12*time.Hour), validation.Max(14*time.Hour)),
		validation.Field(&c.DefaultSeed, validation.Required, validation.Date(SeedLayout), validation.By(func(interface{}) error {
			_, err := c.Seed()
			return err
		})),
	)
}

// Seed returns the time the RTC is set to when the network time can't be had.
func (c *TimeConfig) Seed() (bcd.CalendarTime, error) {
	return bcd.Parse(SeedLayout, c.DefaultSeed)
}

// Location returns the fixed zone the clock displays.
func (c *TimeConfig) Location() *time.Location {
	if c.UTCOffset == 0 {
		return time.UTC
	}
	sign, off := '+', c.UTCOffset
	if off < 0 {
		sign, off = '-', -off
	}
	name := fmt.Sprintf("UTC%c%02d:%02d", sign, int(off.Hours()), int(off.Minutes())%60)
	return time.FixedZone(name, int(c.UTCOffset.Seconds()))
}

// ClockConfig controls the periodic tasks.
type ClockConfig struct {
	RefreshPeriod time.Duration `yaml:"refresh_period"`
	BlinkPeriod   time.Duration `yaml:"blink_period"`
}

// Validate validates the clock configuration.
func (c *ClockConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RefreshPeriod, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.BlinkPeriod, validation.Required, validation.Min(10*time.Millisecond)),
	)
}

// DebugConfig controls the debug http server.
type DebugConfig struct {
	Bind string `yaml:"bind"` // empty disables the server
}

// Validate validates the debug configuration.
func (c *DebugConfig) Validate() error {
	return nil
}

// NewDefaultConfig returns a Config that works with the stock hardware.
func NewDefaultConfig() *Config {
	return &Config{
		Hardware: HardwareConfig{
			RTCAddress:     0x68,
			DisplayAddress: 0x70,
			BusTimeout:     time.Second,
			LEDPin:         "GPIO2",
		},
		Network: NetworkConfig{
			Enabled:          true,
			Interface:        "wlan0",
			MaxRetries:       5,
			AssociateTimeout: 15 * time.Second,
		},
		Time: TimeConfig{
			Server:       "pool.ntp.org",
			PollInterval: 2 * time.Second,
			Attempts:     10,
			MinYear:      2024,
			NTPInterval:  time.Hour,
			NTPTimeout:   5 * time.Second,
			UTCOffset:    8 * time.Hour,
			DefaultSeed:  "2014-05-13 17:53:00",
		},
		Clock: ClockConfig{
			RefreshPeriod: time.Second,
			BlinkPeriod:   500 * time.Millisecond,
		},
		Debug: DebugConfig{
			Bind: ":8080",
		},
	}
}

// Load reads the YAML file at filename, with $VARIABLES expanded from the environment, on top of
// the defaults, and validates the result.  An empty filename means the defaults alone.
func Load(filename string) (*Config, error) {
	cfg := NewDefaultConfig()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", filename, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", filename, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
