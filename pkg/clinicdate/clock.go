package clinicdate

import "time"

// Clock supplies "now" and the clinic day. Services take a Clock so tests
// can pin time.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// NewClock returns a wall clock in loc.
func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, now: time.Now}
}

// NewClockIn resolves a timezone name, falling back to DefaultTimezone.
func NewClockIn(tz string) (*Clock, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	return NewClock(loc), nil
}

// Fixed returns a clock frozen at t.
func Fixed(t time.Time, loc *time.Location) *Clock {
	c := NewClock(loc)
	c.now = func() time.Time { return t }
	return c
}

func (c *Clock) Now() time.Time { return c.now() }

func (c *Clock) Location() *time.Location { return c.loc }

// Today is the current calendar day in the clinic timezone.
func (c *Clock) Today() Date { return Of(c.now(), c.loc) }

// DayOf anchors an instant to its clinic calendar day.
func (c *Clock) DayOf(t time.Time) Date { return Of(t, c.loc) }

// Set pins the clock at t.
func (c *Clock) Set(t time.Time) {
	c.now = func() time.Time { return t }
}
