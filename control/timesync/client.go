// Package timesync gets the time from the network.  Client is a small SNTP client that keeps a
// corrected wall clock; Acquirer waits for that clock to look plausible and returns it in the form
// the RTC wants.
package timesync

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/facebookincubator/ntp/protocol/ntp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

const (
	DefaultServer   = "pool.ntp.org"
	DefaultInterval = time.Hour
	DefaultTimeout  = 5 * time.Second

	// LI = 0 (no warning), VN = 4, Mode = 3 (client).
	clientSettings = 0x23
	serverMode     = 4
)

var (
	queryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ntp_queries",
		Help: "count of ntp queries, by result",
	}, []string{"result"})

	offsetGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ntp_offset_seconds",
		Help: "offset of the local clock from the ntp server as of the last successful query; positive means the local clock is behind",
	})
)

// Sample is the result of one exchange with the server.
type Sample struct {
	When      time.Time // local time the reply arrived
	Offset    time.Duration
	Delay     time.Duration // average one-way network delay
	Stratum   uint8
	RefID     string
	Precision int8
}

// Client is an SNTP client in polling mode.
type Client struct {
	Server   string        // host or host:port
	Interval time.Duration // between successful polls
	Timeout  time.Duration // per query, and the retry interval until the first success

	// now is the local clock; nil means time.Now.
	now func() time.Time

	mu     sync.Mutex
	synced bool
	last   Sample
}

func (c *Client) localNow() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *Client) address() string {
	s := c.Server
	if s == "" {
		s = DefaultServer
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		s = net.JoinHostPort(s, "123")
	}
	return s
}

func (c *Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Query does one exchange with the server and returns the result.  It does not affect Now.
func (c *Client) Query(ctx context.Context) (Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var d net.Dialer
	nc, err := d.DialContext(ctx, "udp", c.address())
	if err != nil {
		return Sample{}, fmt.Errorf("dial: %w", err)
	}
	defer nc.Close()
	conn, ok := nc.(*net.UDPConn)
	if !ok {
		return Sample{}, fmt.Errorf("dial: unexpected connection type %T", nc)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return Sample{}, fmt.Errorf("set deadline: %w", err)
		}
	}

	sent := c.localNow()
	req := &ntp.Packet{Settings: clientSettings}
	req.TxTimeSec, req.TxTimeFrac = ntp.Time(sent)
	b, err := req.Bytes()
	if err != nil {
		return Sample{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := conn.Write(b); err != nil {
		return Sample{}, fmt.Errorf("send request: %w", err)
	}

	res, _, err := ntp.ReadNTPPacket(conn)
	if err != nil {
		return Sample{}, fmt.Errorf("read reply: %w", err)
	}
	received := c.localNow()
	// ValidSettingsFormat only accepts client requests, so the reply's mode is checked here.
	if mode := res.Settings & 0x7; mode != serverMode {
		return Sample{}, fmt.Errorf("reply has mode %d, not %d", mode, serverMode)
	}
	if res.Stratum == 0 || res.Stratum > 15 {
		// Stratum 0 is a kiss-o'-death; the reference id says why.
		return Sample{}, fmt.Errorf("server unsynchronized or refusing service (stratum %d, %s)", res.Stratum, intRefID(res.ReferenceID))
	}
	if res.OrigTimeSec != req.TxTimeSec || res.OrigTimeFrac != req.TxTimeFrac {
		return Sample{}, fmt.Errorf("reply does not match request")
	}

	serverRx := ntp.Unix(res.RxTimeSec, res.RxTimeFrac)
	serverTx := ntp.Unix(res.TxTimeSec, res.TxTimeFrac)
	delay := ntp.AvgNetworkDelay(sent, serverRx, serverTx, received)
	offset := ntp.CalculateOffset(ntp.CurrentRealTime(serverTx, delay), received)
	return Sample{
		When:      received,
		Offset:    time.Duration(offset),
		Delay:     time.Duration(delay),
		Stratum:   res.Stratum,
		RefID:     intRefID(res.ReferenceID),
		Precision: res.Precision,
	}, nil
}

// Run polls the server until the context is done.  Until the first successful query it retries
// every Timeout; after that, every Interval.  Failed queries are logged and otherwise ignored.
func (c *Client) Run(ctx context.Context) error {
	l := trace.NewEventLog("timesync", c.address())
	defer l.Finish()
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	for {
		wait := c.timeout()
		s, err := c.Query(ctx)
		if err != nil {
			queryCounter.WithLabelValues("error").Inc()
			l.Errorf("query: %v", err)
		} else {
			queryCounter.WithLabelValues("ok").Inc()
			offsetGauge.Set(s.Offset.Seconds())
			l.Printf("offset %v, delay %v, stratum %d, refid %s", s.Offset, s.Delay, s.Stratum, s.RefID)
			c.mu.Lock()
			c.synced = true
			c.last = s
			c.mu.Unlock()
			wait = interval
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("poll %s: %w", c.address(), ctx.Err())
		case <-time.After(wait):
		}
	}
}

// Last returns the most recent successful sample, and whether there has been one.
func (c *Client) Last() (Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.synced
}

// Now returns the corrected wall-clock time.  Before the first successful query it returns the
// Unix epoch, the same as a device that has never had its clock set.
func (c *Client) Now() time.Time {
	c.mu.Lock()
	synced, offset := c.synced, c.last.Offset
	c.mu.Unlock()
	if !synced {
		return time.Unix(0, 0).UTC()
	}
	return c.localNow().Add(offset)
}
