package optimization

import (
	"encoding/json"
	"time"
)

// =============================================================================
// DATE - Calendar day in UTC (recommended dates, due dates, schedules)
// =============================================================================

const dateLayout = "2006-01-02"

type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool { return d.Time.Equal(o.Time) }
func (d Date) IsZero() bool { return d.Time.IsZero() }
func (d Date) String() string { return d.Time.Format(dateLayout) }
func (d Date) Ptr() *Date { return &d }
func (d Date) Weekday() time.Weekday { return d.Time.Weekday() }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }

// DaysUntil returns the whole days from d to o (negative when o is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.Time.Sub(d.Time).Hours() / 24)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
