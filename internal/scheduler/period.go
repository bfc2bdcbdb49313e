package scheduler

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/sosodev/duration"
)

// Period is an ISO-8601 duration (PnYnMnWnDTnHnMnS) kept in calendar units.
// Adding a period moves a floating local date-time, so "P1D" always lands on
// the same wall-clock time of the next day.
type Period struct {
	Years   int
	Months  int
	Weeks   int
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// periodShape admits whole calendar units only, in ISO-8601 order.
var periodShape = regexp.MustCompile(`^P(\d+Y)?(\d+M)?(\d+W)?(\d+D)?(T(\d+H)?(\d+M)?(\d+S)?)?$`)

func ParsePeriod(s string) (Period, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	if raw == "" {
		return Period{}, nil
	}
	if raw == "P" || strings.HasSuffix(raw, "T") || !periodShape.MatchString(raw) {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	d, err := duration.Parse(raw)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return Period{
		Years:   int(d.Years),
		Months:  int(d.Months),
		Weeks:   int(d.Weeks),
		Days:    int(d.Days),
		Hours:   int(d.Hours),
		Minutes: int(d.Minutes),
		Seconds: int(d.Seconds),
	}, nil
}

// MustParsePeriod panics on malformed input. Intended for constants and tests.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Period) IsZero() bool {
	return p == Period{}
}

func (p Period) String() string {
	if p.IsZero() {
		return ""
	}
	return p.duration().String()
}

func (p Period) duration() *duration.Duration {
	return &duration.Duration{
		Years:   float64(p.Years),
		Months:  float64(p.Months),
		Weeks:   float64(p.Weeks),
		Days:    float64(p.Days),
		Hours:   float64(p.Hours),
		Minutes: float64(p.Minutes),
		Seconds: float64(p.Seconds),
	}
}

func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Scale multiplies every unit by n.
func (p Period) Scale(n int) Period {
	return Period{
		Years:   p.Years * n,
		Months:  p.Months * n,
		Weeks:   p.Weeks * n,
		Days:    p.Days * n,
		Hours:   p.Hours * n,
		Minutes: p.Minutes * n,
		Seconds: p.Seconds * n,
	}
}

// AddTo adds the period to a floating date-time. Month arithmetic clamps to
// the last day of the target month (Jan 31 + P1M = Feb 28/29).
func (p Period) AddTo(dt civil.DateTime) civil.DateTime {
	d := dt.Date
	if months := p.Years*12 + p.Months; months != 0 {
		total := d.Year*12 + int(d.Month) - 1 + months
		year, month := total/12, time.Month(total%12+1)
		day := d.Day
		if last := daysIn(year, month); day > last {
			day = last
		}
		d = civil.Date{Year: year, Month: month, Day: day}
	}
	d = d.AddDays(p.Weeks*7 + p.Days)
	t := civil.DateTime{Date: d, Time: dt.Time}.In(time.UTC)
	t = t.Add(time.Duration(p.Hours)*time.Hour + time.Duration(p.Minutes)*time.Minute + time.Duration(p.Seconds)*time.Second)
	return civil.DateTimeOf(t)
}

// SubtractFrom moves dt back by the period, using the same unit rules as AddTo.
func (p Period) SubtractFrom(dt civil.DateTime) civil.DateTime {
	return p.Scale(-1).AddTo(dt)
}

// longest is an upper bound on the wall-clock length of the period.
func (p Period) longest() time.Duration {
	day := 24 * time.Hour
	return time.Duration(p.Years)*366*day +
		time.Duration(p.Months)*31*day +
		time.Duration(p.Weeks)*7*day +
		time.Duration(p.Days)*day +
		time.Duration(p.Hours)*time.Hour +
		time.Duration(p.Minutes)*time.Minute +
		time.Duration(p.Seconds)*time.Second
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// TimeOfDay is a local wall-clock time written as HH:MM or HH:MM:SS.
type TimeOfDay civil.Time

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	raw := strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05", "15:04:05.000"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return TimeOfDay(civil.TimeOf(t)), nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
}

func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Civil() civil.Time { return civil.Time(t) }

func (t TimeOfDay) String() string {
	if t.Second == 0 && t.Nanosecond == 0 {
		return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
	}
	return civil.Time(t).String()
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
