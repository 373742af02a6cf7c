package timesync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jrockway/rtc-segment-clock/control/bcd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultAttempts     = 10
	DefaultMinYear      = 2024
)

// ErrNotSynced is returned by Acquire when the clock never reached a plausible year.
var ErrNotSynced = errors.New("wall clock not synchronized")

var (
	acquirePolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "time_acquisition_polls",
		Help: "count of times the wall clock was checked for plausibility",
	})
	acquireResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "time_acquisition_results",
		Help: "count of time acquisition attempts, by outcome",
	}, []string{"result"})
)

// WallClock is something that knows the time.  *Client is one.
type WallClock interface {
	Now() time.Time
}

// Acquirer waits for a WallClock to be set.
type Acquirer struct {
	Clock    WallClock
	Interval time.Duration  // between polls
	Attempts int            // total polls before giving up
	MinYear  int            // the first year that counts as synchronized
	Location *time.Location // the zone the result is expressed in; nil means UTC

	// sleep waits for d or until the context is done; nil means a timer.
	sleep func(ctx context.Context, d time.Duration) error
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Acquire polls the clock until it reads a year of at least MinYear, and returns that time as a
// CalendarTime in Location.  If every attempt sees an earlier year, it returns ErrNotSynced.
func (a *Acquirer) Acquire(ctx context.Context) (bcd.CalendarTime, error) {
	l := trace.NewEventLog("timesync", "acquire")
	defer l.Finish()

	interval, attempts, minYear, loc := a.Interval, a.Attempts, a.MinYear, a.Location
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if minYear <= 0 {
		minYear = DefaultMinYear
	}
	if loc == nil {
		loc = time.UTC
	}
	sleep := a.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for i := 1; ; i++ {
		acquirePolls.Inc()
		now := a.Clock.Now().In(loc)
		if now.Year() >= minYear {
			ct, err := bcd.FromTime(now)
			if err != nil {
				acquireResults.WithLabelValues("unrepresentable").Inc()
				l.Errorf("convert %v: %v", now, err)
				return bcd.CalendarTime{}, fmt.Errorf("acquire time: %w", err)
			}
			acquireResults.WithLabelValues("ok").Inc()
			l.Printf("acquired %v after %d polls", ct, i)
			return ct, nil
		}
		if i >= attempts {
			acquireResults.WithLabelValues("not_synced").Inc()
			l.Errorf("still %v after %d polls", now.Format(time.RFC3339), i)
			return bcd.CalendarTime{}, fmt.Errorf("acquire time after %d polls: %w", i, ErrNotSynced)
		}
		log.Printf("waiting for system time to be set... (%d/%d)", i, attempts)
		l.Printf("poll %d: year %d < %d", i, now.Year(), minYear)
		if err := sleep(ctx, interval); err != nil {
			acquireResults.WithLabelValues("cancelled").Inc()
			return bcd.CalendarTime{}, fmt.Errorf("acquire time: %w", err)
		}
	}
}
