package models

import "time"

// CountdownValue is one tick of the discount-expiry countdown. Never
// negative; exactly zero once the deadline has passed.
type CountdownValue struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

func (v CountdownValue) Zero() bool {
	return v.Hours == 0 && v.Minutes == 0 && v.Seconds == 0
}

// CountdownUntil converts a remaining duration into a display value,
// clamping negatives to zero.
func CountdownUntil(deadline, now time.Time) CountdownValue {
	d := deadline.Sub(now)
	if d <= 0 {
		return CountdownValue{}
	}
	total := int(d / time.Second)
	return CountdownValue{
		Hours:   total / 3600,
		Minutes: total % 3600 / 60,
		Seconds: total % 60,
	}
}

// DailyDeadline returns today's discount expiry, 23:59:59.999 in loc.
func DailyDeadline(now time.Time, loc *time.Location) time.Time {
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 23, 59, 59, 999*int(time.Millisecond), loc)
}
