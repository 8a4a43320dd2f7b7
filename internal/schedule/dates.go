package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

const secondsPerDay = 24 * 60 * 60

// Day is a calendar date counted in whole days since 1970-01-01.
//
// All window and spacing arithmetic happens on Day values; strings only appear
// at the input/output boundary.
type Day int32

// DayOf returns the calendar date of t in t's own location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay)
}

// ParseDay parses "YYYY-MM-DD". An RFC 3339 timestamp is also accepted and
// reduced to its calendar date in loc (UTC when loc is nil).
func ParseDay(raw string, loc *time.Location) (Day, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("date required")
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return DayOf(t), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		if loc == nil {
			loc = time.UTC
		}
		return DayOf(t.In(loc)), nil
	}
	return 0, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", raw)
}

// MustParseDay is ParseDay for literals; it panics on malformed input.
func MustParseDay(s string) Day {
	d, err := ParseDay(s, nil)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Day) Time() time.Time { return time.Unix(int64(d)*secondsPerDay, 0).UTC() }

func (d Day) String() string { return d.Time().Format(dateLayout) }

func (d Day) AddDays(n int) Day { return d + Day(n) }

// Weekday relies on 1970-01-01 being a Thursday.
func (d Day) Weekday() time.Weekday {
	w := (int(d) + int(time.Thursday)) % 7
	if w < 0 {
		w += 7
	}
	return time.Weekday(w)
}

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Day) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseDay(s, nil)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// daysBetween returns the inclusive length of [from, to].
func daysBetween(from, to Day) int { return int(to-from) + 1 }
