package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jrockway/rtc-segment-clock/control/bcd"
	"github.com/jrockway/rtc-segment-clock/control/rtc"
	"github.com/jrockway/rtc-segment-clock/control/segment"
	"github.com/jrockway/rtc-segment-clock/control/timesync"
	"github.com/jrockway/rtc-segment-clock/control/wifi"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

var defaultSeed = bcd.CalendarTime{Second: 0, Minute: 53, Hour: 17, Weekday: 2, Day: 13, Month: 5, Year: 14}

type fakeNetwork struct {
	state   wifi.State
	err     error
	started bool
}

func (f *fakeNetwork) Start(context.Context) { f.started = true }

func (f *fakeNetwork) WaitForOutcome(context.Context) (wifi.State, error) {
	return f.state, f.err
}

type fakeAcquirer struct {
	t     bcd.CalendarTime
	err   error
	calls int
}

func (f *fakeAcquirer) Acquire(context.Context) (bcd.CalendarTime, error) {
	f.calls++
	return f.t, f.err
}

type fakeSync struct{ started chan struct{} }

func (f *fakeSync) Run(ctx context.Context) error {
	close(f.started)
	<-ctx.Done()
	return ctx.Err()
}

var displayInit = []i2ctest.IO{
	{Addr: 0x70, W: []byte{0x21}},
	{Addr: 0x70, W: []byte{0x81}},
	{Addr: 0x70, W: []byte{0xEF}},
}

func seedOp(rec ...byte) i2ctest.IO {
	return i2ctest.IO{Addr: 0x68, W: append([]byte{0x00}, rec...)}
}

func TestAcquisitionFailureSeedsDefault(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := &i2ctest.Playback{
		Ops: append([]i2ctest.IO{seedOp(0x00, 0x53, 0x17, 0x02, 0x13, 0x05, 0x14)}, displayInit...),
	}
	defer bus.Close()

	// A clock that never gets past 1970.
	acq := &timesync.Acquirer{Clock: &timesync.Client{}, Interval: time.Millisecond, Attempts: 3}
	sync := &fakeSync{started: make(chan struct{})}
	s := &Sequence{
		Network:     &fakeNetwork{state: wifi.Connected},
		TimeSync:    sync,
		Acquirer:    acq,
		RTC:         rtc.New(bus, rtc.DefaultAddr),
		Display:     segment.New(bus, segment.DefaultAddr),
		DefaultSeed: defaultSeed,
	}
	res, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got, want := res.Source, SourceDefault; got != want {
		t.Errorf("source:\n  got: %v\n want: %v", got, want)
	}
	if !errors.Is(res.AcquireErr, timesync.ErrNotSynced) {
		t.Errorf("acquire error: %v", res.AcquireErr)
	}
	select {
	case <-sync.started:
	case <-time.After(time.Second):
		t.Error("time sync was never started")
	}
}

func TestNetworkTimeSeedsRTC(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: append([]i2ctest.IO{seedOp(0x15, 0x30, 0x04, 0x01, 0x02, 0x06, 0x25)}, displayInit...),
	}
	defer bus.Close()
	acquired := bcd.CalendarTime{Second: 15, Minute: 30, Hour: 4, Weekday: 1, Day: 2, Month: 6, Year: 25}
	s := &Sequence{
		Network:     &fakeNetwork{state: wifi.Connected},
		Acquirer:    &fakeAcquirer{t: acquired},
		RTC:         rtc.New(bus, rtc.DefaultAddr),
		Display:     segment.New(bus, segment.DefaultAddr),
		DefaultSeed: defaultSeed,
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got, want := res.Source, SourceNetwork; got != want {
		t.Errorf("source:\n  got: %v\n want: %v", got, want)
	}
	if got, want := res.Seed, acquired; got != want {
		t.Errorf("seed:\n  got: %v\n want: %v", got, want)
	}
}

func TestNetworkFailureSkipsAcquisition(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: append([]i2ctest.IO{seedOp(0x00, 0x53, 0x17, 0x02, 0x13, 0x05, 0x14)}, displayInit...),
	}
	defer bus.Close()
	net := &fakeNetwork{state: wifi.Failed, err: wifi.ErrFailed}
	acq := &fakeAcquirer{}
	s := &Sequence{
		Network:     net,
		Acquirer:    acq,
		RTC:         rtc.New(bus, rtc.DefaultAddr),
		Display:     segment.New(bus, segment.DefaultAddr),
		DefaultSeed: defaultSeed,
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !net.started {
		t.Error("network was never started")
	}
	if got, want := acq.calls, 0; got != want {
		t.Errorf("acquire calls:\n  got: %v\n want: %v", got, want)
	}
	if got, want := res.Network, wifi.Failed; got != want {
		t.Errorf("network:\n  got: %v\n want: %v", got, want)
	}
	if got, want := res.Source, SourceDefault; got != want {
		t.Errorf("source:\n  got: %v\n want: %v", got, want)
	}
}

func TestNoNetworkConfigured(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: append([]i2ctest.IO{seedOp(0x00, 0x53, 0x17, 0x02, 0x13, 0x05, 0x14)}, displayInit...),
	}
	defer bus.Close()
	acq := &fakeAcquirer{}
	s := &Sequence{
		Acquirer:    acq,
		RTC:         rtc.New(bus, rtc.DefaultAddr),
		Display:     segment.New(bus, segment.DefaultAddr),
		DefaultSeed: defaultSeed,
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got, want := acq.calls, 0; got != want {
		t.Errorf("acquire calls:\n  got: %v\n want: %v", got, want)
	}
}

type failingSeeder struct{}

func (failingSeeder) InitializeWith(bcd.CalendarTime) error { return errors.New("nack") }

type countingDisplay struct {
	calls int
	err   error
}

func (d *countingDisplay) Initialize() error {
	d.calls++
	return d.err
}

func TestRTCFailureIsFatal(t *testing.T) {
	d := &countingDisplay{}
	s := &Sequence{RTC: failingSeeder{}, Display: d, DefaultSeed: defaultSeed}
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got, want := d.calls, 0; got != want {
		t.Errorf("display initializations:\n  got: %v\n want: %v", got, want)
	}
}

func TestDisplayFailureIsFatal(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{seedOp(0x00, 0x53, 0x17, 0x02, 0x13, 0x05, 0x14)},
	}
	defer bus.Close()
	d := &countingDisplay{err: errors.New("nack")}
	s := &Sequence{RTC: rtc.New(bus, rtc.DefaultAddr), Display: d, DefaultSeed: defaultSeed}
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got, want := d.calls, 1; got != want {
		t.Errorf("display initializations:\n  got: %v\n want: %v", got, want)
	}
}

func TestCancelledWhileWaitingForNetwork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := wifi.NewManager(&idleStation{}, wifi.DefaultMaxRetries, 0)
	s := &Sequence{Network: m, RTC: failingSeeder{}, Display: &countingDisplay{}}
	if _, err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type idleStation struct{}

func (idleStation) Associate(context.Context, chan<- wifi.Event) error { return nil }
