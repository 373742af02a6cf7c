package bcd

import (
	"errors"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	// Walk every value of every field, holding the others at a valid value.
	base := CalendarTime{Second: 0, Minute: 0, Hour: 0, Weekday: 1, Day: 1, Month: 1, Year: 0}
	check := func(in CalendarTime) {
		t.Helper()
		r, err := Encode(in)
		if err != nil {
			t.Fatalf("encode %v: %v", in, err)
		}
		if got, want := Decode(r), in; got != want {
			t.Errorf("round trip (%x):\n  got: %v\n want: %v", r, got, want)
		}
	}
	for i := 0; i < 60; i++ {
		tt := base
		tt.Second, tt.Minute = i, 59-i
		check(tt)
	}
	for i := 0; i < 24; i++ {
		tt := base
		tt.Hour = i
		check(tt)
	}
	for i := 1; i <= 7; i++ {
		tt := base
		tt.Weekday = i
		check(tt)
	}
	for i := 1; i <= 31; i++ {
		tt := base
		tt.Day = i
		check(tt)
	}
	for i := 1; i <= 12; i++ {
		tt := base
		tt.Month = i
		check(tt)
	}
	for i := 0; i < 100; i++ {
		tt := base
		tt.Year = i
		check(tt)
	}
}

func TestEncode(t *testing.T) {
	testData := []struct {
		name string
		in   CalendarTime
		want Record
	}{
		{
			name: "boundaries",
			in:   CalendarTime{Second: 59, Minute: 59, Hour: 23, Weekday: 7, Day: 31, Month: 12, Year: 99},
			want: Record{0x59, 0x59, 0x23, 0x07, 0x31, 0x12, 0x99},
		},
		{
			name: "default seed",
			in:   CalendarTime{Second: 0, Minute: 53, Hour: 17, Weekday: 2, Day: 13, Month: 5, Year: 14},
			want: Record{0x00, 0x53, 0x17, 0x02, 0x13, 0x05, 0x14},
		},
	}
	for _, test := range testData {
		t.Run(test.name, func(t *testing.T) {
			got, err := Encode(test.in)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if want := test.want; got != want {
				t.Errorf("encode:\n  got: %x\n want: %x", got, want)
			}
			for i, b := range got {
				if b>>4 > 9 || b&0x0f > 9 {
					t.Errorf("byte %d (%#x) is not decimal", i, b)
				}
			}
		})
	}
}

func TestEncodeOutOfRange(t *testing.T) {
	ok := CalendarTime{Weekday: 1, Day: 1, Month: 1}
	testData := []struct {
		name   string
		mutate func(*CalendarTime)
	}{
		{"second", func(c *CalendarTime) { c.Second = 60 }},
		{"minute", func(c *CalendarTime) { c.Minute = -1 }},
		{"hour", func(c *CalendarTime) { c.Hour = 24 }},
		{"weekday zero", func(c *CalendarTime) { c.Weekday = 0 }},
		{"weekday eight", func(c *CalendarTime) { c.Weekday = 8 }},
		{"day", func(c *CalendarTime) { c.Day = 32 }},
		{"month", func(c *CalendarTime) { c.Month = 13 }},
		{"year", func(c *CalendarTime) { c.Year = 100 }},
	}
	for _, test := range testData {
		t.Run(test.name, func(t *testing.T) {
			in := ok
			test.mutate(&in)
			if _, err := Encode(in); !errors.Is(err, ErrOutOfRange) {
				t.Errorf("encode %v: expected ErrOutOfRange, got %v", in, err)
			}
		})
	}
}

func TestDecodeGarbage(t *testing.T) {
	got := Decode(Record{0x00, 0x05, 0x39, 0x00, 0x00, 0x00, 0x00})
	if got.Hour != 39 {
		t.Errorf("hour:\n  got: %v\n want: %v", got.Hour, 39)
	}
	if err := got.Validate(); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("validate garbage: expected ErrOutOfRange, got %v", err)
	}
}

func TestFromTime(t *testing.T) {
	taipei := time.FixedZone("UTC+8", 8*60*60)
	testData := []struct {
		in   time.Time
		want CalendarTime
	}{
		{
			in:   time.Date(2024, time.March, 4, 9, 8, 7, 999, time.UTC), // Monday
			want: CalendarTime{Second: 7, Minute: 8, Hour: 9, Weekday: 1, Day: 4, Month: 3, Year: 24},
		},
		{
			in:   time.Date(2024, time.March, 10, 23, 59, 59, 0, time.UTC), // Sunday
			want: CalendarTime{Second: 59, Minute: 59, Hour: 23, Weekday: 7, Day: 10, Month: 3, Year: 24},
		},
		{
			in:   time.Date(2024, time.December, 31, 20, 0, 0, 0, time.UTC).In(taipei), // Wednesday in Taipei
			want: CalendarTime{Second: 0, Minute: 0, Hour: 4, Weekday: 3, Day: 1, Month: 1, Year: 25},
		},
	}
	for _, test := range testData {
		t.Run(test.in.String(), func(t *testing.T) {
			got, err := FromTime(test.in)
			if err != nil {
				t.Fatalf("from time: %v", err)
			}
			if want := test.want; got != want {
				t.Errorf("from time:\n  got: %v\n want: %v", got, want)
			}
			if got, want := got.Time(test.in.Location()), test.in.Truncate(time.Second); !got.Equal(want) {
				t.Errorf("back to time:\n  got: %v\n want: %v", got, want)
			}
		})
	}

	if _, err := FromTime(time.Unix(0, 0).UTC()); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("1970: expected ErrOutOfRange, got %v", err)
	}
}

func TestParse(t *testing.T) {
	got, err := Parse("2006-01-02 15:04:05", "2014-05-13 17:53:00")
	if err != nil {
		t.Fatal(err)
	}
	want := CalendarTime{Second: 0, Minute: 53, Hour: 17, Weekday: 2, Day: 13, Month: 5, Year: 14}
	if got != want {
		t.Errorf("parse:\n  got: %v\n want: %v", got, want)
	}
	if got, want := got.String(), "2014-05-13 17:53:00 (Tue)"; got != want {
		t.Errorf("string:\n  got: %v\n want: %v", got, want)
	}
}
