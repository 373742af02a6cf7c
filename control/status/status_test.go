package status

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jrockway/rtc-segment-clock/control/bcd"
	"github.com/jrockway/rtc-segment-clock/control/clock"
	"github.com/jrockway/rtc-segment-clock/control/segment"
	"github.com/jrockway/rtc-segment-clock/control/startup"
	"github.com/jrockway/rtc-segment-clock/control/timesync"
	"github.com/jrockway/rtc-segment-clock/control/wifi"
)

func TestTemplate(t *testing.T) {
	now := time.Date(2025, 6, 2, 4, 30, 15, 0, time.UTC)
	f, err := segment.NewFrame(4, 30, true)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	p := &Page{Collect: func() Status {
		return Status{
			Now:     now,
			Network: wifi.Connected,
			Startup: &startup.Result{
				Network:    wifi.Connected,
				AcquireErr: timesync.ErrNotSynced,
				Seed:       bcd.CalendarTime{Minute: 53, Hour: 17, Weekday: 2, Day: 13, Month: 5, Year: 14},
				Source:     startup.SourceDefault,
			},
			Reading: clock.Reading{
				At:   now,
				Time: bcd.CalendarTime{Second: 15, Minute: 30, Hour: 4, Weekday: 1, Day: 2, Month: 6, Year: 25},
			},
			NTP:       timesync.Sample{When: now, Offset: -1500 * time.Microsecond, Stratum: 1, RefID: "GPS"},
			NTPSynced: true,
			Display:   f.Image(),
		}
	}}

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if got, want := rec.Code, http.StatusOK; got != want {
		t.Errorf("render index.html: response code:\n  got: %v\n want: %v", got, want)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"2025-06-02 04:30:15 (Mon)",
		"2014-05-13 17:53:00 (Tue) from default",
		"wall clock not synchronized",
		"1.5ms fast of NTP time",
		"GPS (stratum 1)",
		"data:image/png;base64,",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("page does not contain %q", want)
		}
	}
	if os.Getenv("DUMP") != "" {
		if err := os.WriteFile("../../index.html", rec.Body.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
		t.Log("wrote index.html")
	}
}

func TestTemplateEmpty(t *testing.T) {
	p := &Page{}
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if got, want := rec.Code, http.StatusOK; got != want {
		t.Errorf("response code:\n  got: %v\n want: %v", got, want)
	}
	body := rec.Body.String()
	for _, want := range []string{"Starting up.", "Not synchronized.", "never"} {
		if !strings.Contains(body, want) {
			t.Errorf("page does not contain %q", want)
		}
	}
}

func TestReadingError(t *testing.T) {
	p := &Page{Collect: func() Status {
		return Status{Reading: clock.Reading{At: time.Now(), Err: errors.New("read rtc: nack")}}
	}}
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if !strings.Contains(rec.Body.String(), "read rtc: nack") {
		t.Error("page does not show the read error")
	}
}

func TestFormatCalendar(t *testing.T) {
	testData := []struct {
		in   bcd.CalendarTime
		want string
	}{
		{bcd.CalendarTime{Hour: 14, Minute: 5, Weekday: 3, Day: 12, Month: 6, Year: 24}, "2024-06-12 14:05:00 (Wed)"},
		{bcd.CalendarTime{Hour: 39, Weekday: 1, Day: 1, Month: 1}, "2000-01-01 39:00:00 (Mon) (invalid: hour 39 not in [0, 23]: field out of range)"},
	}
	for _, test := range testData {
		if got, want := formatCalendar(test.in), test.want; got != want {
			t.Errorf("format %#v:\n  got: %v\n want: %v", test.in, got, want)
		}
	}
}

func TestFormatCorrection(t *testing.T) {
	if got, want := formatCorrection(2*time.Second), "2s slow of NTP time"; got != want {
		t.Errorf("positive:\n  got: %v\n want: %v", got, want)
	}
	if got, want := formatCorrection(-time.Millisecond), "1ms fast of NTP time"; got != want {
		t.Errorf("negative:\n  got: %v\n want: %v", got, want)
	}
}
