// Package i2cbus provides the one bus that the clock's peripherals share.  Transactions are
// serialized and bounded by a timeout, and every failure comes back as an *Error.
package i2cbus

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// DefaultTimeout bounds a single transaction.
const DefaultTimeout = time.Second

// ErrTimeout is the cause of an *Error when a transaction did not finish in time.
var ErrTimeout = errors.New("transaction timed out")

var (
	txCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "i2c_transactions",
		Help: "count of i2c transactions, by device address and result",
	}, []string{"addr", "result"})

	txLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "i2c_transaction_latency",
		Help:    "time taken by successful i2c transactions, in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
	})
)

// Error is a failed transaction: the device did not acknowledge, or the transaction timed out.
type Error struct {
	Addr uint16
	Op   string // "write" or "write-read"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("i2c %s at %#02x: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Bus wraps an i2c.Bus.  It implements i2c.Bus itself, so device drivers neither know nor care.
type Bus struct {
	bus     i2c.Bus
	timeout time.Duration

	// mu is held for the duration of the underlying transaction, even if the caller has given
	// up waiting for it.
	mu sync.Mutex
}

// New wraps bus.  A timeout of 0 means DefaultTimeout.
func New(bus i2c.Bus, timeout time.Duration) *Bus {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Bus{bus: bus, timeout: timeout}
}

func (b *Bus) String() string {
	return b.bus.String()
}

// SetSpeed implements i2c.Bus.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus.SetSpeed(f)
}

// Tx implements i2c.Bus.  r is only written to if the transaction succeeds.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	op := "write"
	if len(r) > 0 {
		op = "write-read"
	}
	label := "0x" + strconv.FormatUint(uint64(addr), 16)
	fail := func(err error) error {
		txCounter.WithLabelValues(label, "error").Inc()
		return &Error{Addr: addr, Op: op, Err: err}
	}

	deadline := time.NewTimer(b.timeout)
	defer deadline.Stop()

	locked := make(chan struct{})
	go func() {
		b.mu.Lock()
		close(locked)
	}()
	select {
	case <-locked:
	case <-deadline.C:
		// Give the lock back whenever the goroutine gets it.
		go func() {
			<-locked
			b.mu.Unlock()
		}()
		return fail(fmt.Errorf("waiting for bus: %w", ErrTimeout))
	}

	start := time.Now()
	buf := make([]byte, len(r))
	done := make(chan error, 1)
	go func() {
		defer b.mu.Unlock()
		done <- b.bus.Tx(addr, w, buf)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fail(err)
		}
	case <-deadline.C:
		return fail(ErrTimeout)
	}
	copy(r, buf)
	txCounter.WithLabelValues(label, "ok").Inc()
	txLatency.Observe(time.Since(start).Seconds())
	return nil
}

var _ i2c.Bus = (*Bus)(nil)
