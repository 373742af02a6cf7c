// Package bcd converts between calendar time and the packed binary-coded-decimal records that the
// DS3231 uses for its timekeeping registers.
package bcd

import (
	"errors"
	"fmt"
	"time"
)

// RecordLen is the number of timekeeping registers, seconds through year.
const RecordLen = 7

// century is added to the year register; the chip only stores two digits.
const century = 2000

// ErrOutOfRange is returned when a field does not fit in its register.
var ErrOutOfRange = errors.New("field out of range")

// Record is the wire format of the timekeeping registers, in register order: second, minute,
// hour, weekday, day of month, month, year.  Each byte holds one decimal field as (tens<<4)|ones.
type Record [RecordLen]byte

// CalendarTime is a wall-clock reading as the RTC understands it.  There is no time zone; the chip
// holds whatever local time it was seeded with.
type CalendarTime struct {
	Second  int // 0-59
	Minute  int // 0-59
	Hour    int // 0-23
	Weekday int // 1-7, 1 is Monday
	Day     int // 1-31
	Month   int // 1-12
	Year    int // 0-99, years since 2000
}

type field struct {
	name     string
	v        *int
	min, max int
}

func (t *CalendarTime) fields() []field {
	return []field{
		{"second", &t.Second, 0, 59},
		{"minute", &t.Minute, 0, 59},
		{"hour", &t.Hour, 0, 23},
		{"weekday", &t.Weekday, 1, 7},
		{"day", &t.Day, 1, 31},
		{"month", &t.Month, 1, 12},
		{"year", &t.Year, 0, 99},
	}
}

// Validate returns an error wrapping ErrOutOfRange naming the first field outside its range.
func (t CalendarTime) Validate() error {
	for _, f := range t.fields() {
		if *f.v < f.min || *f.v > f.max {
			return fmt.Errorf("%s %d not in [%d, %d]: %w", f.name, *f.v, f.min, f.max, ErrOutOfRange)
		}
	}
	return nil
}

func (t CalendarTime) String() string {
	wd := "???"
	if t.Weekday >= 1 && t.Weekday <= 7 {
		wd = time.Weekday(t.Weekday % 7).String()[:3]
	}
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d (%s)", century+t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second, wd)
}

// Time returns t as a time.Time in the provided location.  The weekday register is ignored.
func (t CalendarTime) Time(loc *time.Location) time.Time {
	return time.Date(century+t.Year, time.Month(t.Month), t.Day, t.Hour, t.Minute, t.Second, 0, loc)
}

// FromTime converts a time.Time, in its own location, to a CalendarTime.  Sub-second precision is
// truncated.  Years outside 2000-2099 cannot be represented.
func FromTime(t time.Time) (CalendarTime, error) {
	ct := CalendarTime{
		Second:  t.Second(),
		Minute:  t.Minute(),
		Hour:    t.Hour(),
		Weekday: isoWeekday(t.Weekday()),
		Day:     t.Day(),
		Month:   int(t.Month()),
		Year:    t.Year() - century,
	}
	if err := ct.Validate(); err != nil {
		return CalendarTime{}, fmt.Errorf("convert %s: %w", t.Format(time.RFC3339), err)
	}
	return ct, nil
}

// Parse parses value according to layout (see time.Parse) and converts it to a CalendarTime.
func Parse(layout, value string) (CalendarTime, error) {
	t, err := time.Parse(layout, value)
	if err != nil {
		return CalendarTime{}, fmt.Errorf("parse time: %w", err)
	}
	return FromTime(t)
}

// isoWeekday maps Go's Sunday=0 numbering to Monday=1 ... Sunday=7.
func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

func toBCD(x int) byte {
	return byte((x/10)<<4 | x%10)
}

func fromBCD(b byte) int {
	return int(b>>4)*10 + int(b&0x0f)
}

// Encode packs t into a Record.  Every field must be in range; see Validate.
func Encode(t CalendarTime) (Record, error) {
	var r Record
	if err := t.Validate(); err != nil {
		return r, fmt.Errorf("encode: %w", err)
	}
	for i, f := range t.fields() {
		r[i] = toBCD(*f.v)
	}
	return r, nil
}

// Decode unpacks a Record.  Nothing is validated; a corrupt register comes back as an out-of-range
// field (hour 39, say) so that the caller can notice the hardware is misbehaving.
func Decode(r Record) CalendarTime {
	var t CalendarTime
	for i, f := range t.fields() {
		*f.v = fromBCD(r[i])
	}
	return t
}
