// Package startup brings the clock up in order: network, time, RTC, display.  Nothing periodic runs
// until Run returns successfully.
package startup

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jrockway/rtc-segment-clock/control/bcd"
	"github.com/jrockway/rtc-segment-clock/control/wifi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

// Source says where the RTC's initial time came from.
type Source int

const (
	SourceDefault Source = iota
	SourceNetwork
)

func (s Source) String() string {
	switch s {
	case SourceDefault:
		return "default"
	case SourceNetwork:
		return "network"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

var seedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rtc_seeds",
	Help: "count of times the rtc was set at startup, by source",
}, []string{"source"})

// Connectivity is the network; *wifi.Manager is one.
type Connectivity interface {
	Start(ctx context.Context)
	WaitForOutcome(ctx context.Context) (wifi.State, error)
}

// Runner is a background task; *timesync.Client is one.
type Runner interface {
	Run(ctx context.Context) error
}

// Acquirer gets the time; *timesync.Acquirer is one.
type Acquirer interface {
	Acquire(ctx context.Context) (bcd.CalendarTime, error)
}

// Seeder sets the RTC; *rtc.Dev is one.
type Seeder interface {
	InitializeWith(t bcd.CalendarTime) error
}

// Initializer turns on the display; *segment.Dev is one.
type Initializer interface {
	Initialize() error
}

// Sequence is everything startup touches.  Network, TimeSync and Acquirer may be nil, in which
// case the RTC gets DefaultSeed.
type Sequence struct {
	Network     Connectivity
	TimeSync    Runner
	Acquirer    Acquirer
	RTC         Seeder
	Display     Initializer
	DefaultSeed bcd.CalendarTime
}

// Result is what happened.
type Result struct {
	Network    wifi.State
	NetworkErr error
	AcquireErr error
	Seed       bcd.CalendarTime
	Source     Source
}

// Run performs the startup sequence.  TimeSync, if started, keeps running until ctx is done.
// Network and time problems fall back to DefaultSeed; an error from the RTC or display is returned
// and means the clock can't run.
func (s *Sequence) Run(ctx context.Context) (*Result, error) {
	l := trace.NewEventLog("startup", "sequence")
	defer l.Finish()
	res := &Result{Network: wifi.Idle, Seed: s.DefaultSeed, Source: SourceDefault}

	if s.Network != nil {
		l.Printf("waiting for network")
		s.Network.Start(ctx)
		state, err := s.Network.WaitForOutcome(ctx)
		res.Network, res.NetworkErr = state, err
		if err != nil {
			if ctx.Err() != nil {
				return res, fmt.Errorf("wait for network: %w", err)
			}
			log.Printf("network unavailable, using the default time: %v", err)
			l.Errorf("network: %v", err)
		}
	}

	if res.Network == wifi.Connected && s.Acquirer != nil {
		if s.TimeSync != nil {
			go func() {
				if err := s.TimeSync.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("time sync stopped: %v", err)
				}
			}()
		}
		t, err := s.Acquirer.Acquire(ctx)
		res.AcquireErr = err
		switch {
		case err == nil:
			res.Seed, res.Source = t, SourceNetwork
		case ctx.Err() != nil:
			return res, fmt.Errorf("acquire time: %w", err)
		default:
			log.Printf("could not get the time from the network, using the default: %v", err)
			l.Errorf("acquire: %v", err)
		}
	}

	if err := s.RTC.InitializeWith(res.Seed); err != nil {
		l.Errorf("seed rtc: %v", err)
		return res, fmt.Errorf("seed rtc with %v: %w", res.Seed, err)
	}
	seedCounter.WithLabelValues(res.Source.String()).Inc()
	log.Printf("rtc initialized with %v time %v", res.Source, res.Seed)
	l.Printf("rtc seeded from %v", res.Source)

	if err := s.Display.Initialize(); err != nil {
		l.Errorf("initialize display: %v", err)
		return res, fmt.Errorf("initialize display: %w", err)
	}
	log.Printf("display initialized")
	return res, nil
}
