// Package dispatcher works pending leads into outbound calls, one at a
// time, inside the campaign's calling window.
package dispatcher

import "time"

// Window is the legal calling window: allowed weekdays and an
// [StartHour, EndHour) local-time range.
type Window struct {
	Days      []time.Weekday
	StartHour int
	EndHour   int
	Location  *time.Location
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	local := t.In(w.location())
	if !w.dayAllowed(local.Weekday()) {
		return false
	}
	hour := local.Hour()
	return hour >= w.StartHour && hour < w.EndHour
}

func (w Window) dayAllowed(day time.Weekday) bool {
	for _, allowed := range w.Days {
		if allowed == day {
			return true
		}
	}
	return false
}

func (w Window) location() *time.Location {
	if w.Location != nil {
		return w.Location
	}
	return time.UTC
}
