// Package clock keeps the display showing what the RTC says.
package clock

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jrockway/rtc-segment-clock/control/bcd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

// DefaultPeriod is how often the display is refreshed.
const DefaultPeriod = time.Second

var (
	missedTicksCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "missed_ticks",
		Help: "count of ticks that were generated but never received by anything",
	})

	tickDelayMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tick_delay",
		Help:    "amount of time between the scheduled tick and when it is sent to the channel, in nanoseconds",
		Buckets: prometheus.ExponentialBuckets(1000, 10, 20),
	})

	readCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtc_reads",
		Help: "count of rtc reads, by result",
	}, []string{"result"})
)

// Tick sends the current time to the provided channel at the exact instant that a multiple of
// period begins.  An absent listener will not receive an outdated time; the tick will be skipped
// and the missedTicksCounter incremented.  Cancelling the context causes this to return
// immediately.
func Tick(ctx context.Context, period time.Duration, ch chan time.Time) error {
	for {
		next := time.Now().Add(period).Truncate(period)

		// Wait until the next period starts.
		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			return fmt.Errorf("waiting for next tick: %w", ctx.Err())
		}

		// Send the time to the channel.
		select {
		case <-time.After(period / 2):
			missedTicksCounter.Inc()
		case <-ctx.Done():
			return fmt.Errorf("waiting to send tick: %w", ctx.Err())
		case ch <- next:
			tickDelayMetric.Observe(float64(time.Since(next).Nanoseconds()))
		}
	}
}

// Reader is the source of the time; *rtc.Dev is one.
type Reader interface {
	ReadCurrent() (bcd.CalendarTime, error)
}

// Renderer shows the time; *segment.Dev is one.
type Renderer interface {
	Render(hour, minute int, colon bool) error
}

// Reading is the outcome of one refresh.
type Reading struct {
	At    time.Time
	Time  bcd.CalendarTime
	Err   error // from reading the RTC or rendering
	Colon bool  // the colon state that was rendered
}

// Clock reads the RTC and renders what it reads.
type Clock struct {
	rtc     Reader
	display Renderer
	period  time.Duration

	stepMu sync.Mutex // serializes Step
	colon  bool       // the colon state for the next render; must hold stepMu

	mu   sync.Mutex
	last Reading        // must hold mu
	l    trace.EventLog // must hold mu
}

// New returns a Clock that refreshes the display every period.
func New(r Reader, d Renderer, period time.Duration) *Clock {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Clock{rtc: r, display: d, period: period}
}

func (c *Clock) eventLog() trace.EventLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.l
}

func (c *Clock) printf(format string, args ...interface{}) {
	if l := c.eventLog(); l != nil {
		l.Printf(format, args...)
	}
}

func (c *Clock) errorf(format string, args ...interface{}) {
	log.Printf(format, args...)
	if l := c.eventLog(); l != nil {
		l.Errorf(format, args...)
	}
}

// Step does one refresh: read the RTC and, if that worked, render the hour and minute and flip
// the colon.  If the read fails, the display is left alone.  Last does not wait for a Step in
// progress.
func (c *Clock) Step() error {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	r := Reading{At: time.Now()}
	defer func() {
		c.mu.Lock()
		c.last = r
		c.mu.Unlock()
	}()

	t, err := c.rtc.ReadCurrent()
	if err != nil {
		readCounter.WithLabelValues("error").Inc()
		r.Err = fmt.Errorf("read rtc: %w", err)
		c.errorf("%v", r.Err)
		return r.Err
	}
	r.Time = t
	log.Printf("Current Time: 20%02d-%02d-%02d %02d:%02d:%02d", t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second)
	if err := t.Validate(); err != nil {
		// Most likely a flat battery or a bad connection.  The display refuses anything it
		// can't draw, so it keeps showing the last good time.
		readCounter.WithLabelValues("implausible").Inc()
		c.errorf("rtc returned an impossible time: %v", err)
	} else {
		readCounter.WithLabelValues("ok").Inc()
	}

	r.Colon = c.colon
	c.colon = !c.colon
	if err := c.display.Render(t.Hour, t.Minute, r.Colon); err != nil {
		r.Err = fmt.Errorf("render: %w", err)
		c.errorf("%v", r.Err)
		return r.Err
	}
	c.printf("rendered %02d:%02d colon=%v", t.Hour, t.Minute, r.Colon)
	return nil
}

// Last returns the outcome of the most recent refresh.
func (c *Clock) Last() Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Run refreshes the display until the context is cancelled.  Failed refreshes are logged and the
// loop goes on.
func (c *Clock) Run(ctx context.Context) error {
	l := trace.NewEventLog("clock", "refresh")
	defer l.Finish()
	c.mu.Lock()
	c.l = l
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.l = nil
		c.mu.Unlock()
	}()

	tickErrCh := make(chan error)
	tickCh := make(chan time.Time)
	go func() {
		err := Tick(ctx, c.period, tickCh)
		select {
		case tickErrCh <- err:
		case <-ctx.Done():
		}
		close(tickErrCh)
	}()

	// Show something right away instead of waiting for the first tick.
	c.Step()
	for {
		select {
		case <-tickCh:
			c.Step()
		case err := <-tickErrCh:
			return fmt.Errorf("ticker: %w", err)
		case <-ctx.Done():
			return fmt.Errorf("clock: %w", ctx.Err())
		}
	}
}
