package domain

import (
	"time"
)

// QuietUntil returns the end of the quiet-hours window containing t, or the
// zero time when t is outside the window or the preference declares none.
// Windows may wrap midnight ("22:00" → "07:00").
func (p NotificationPreference) QuietUntil(t time.Time) time.Time {
	if p.QuietHoursStart == "" || p.QuietHoursEnd == "" {
		return time.Time{}
	}
	loc := time.UTC
	if p.Timezone != "" {
		if l, err := time.LoadLocation(p.Timezone); err == nil {
			loc = l
		}
	}
	start, err1 := time.Parse("15:04", p.QuietHoursStart)
	end, err2 := time.Parse("15:04", p.QuietHoursEnd)
	if err1 != nil || err2 != nil {
		return time.Time{}
	}

	local := t.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	s := day.Add(time.Duration(start.Hour())*time.Hour + time.Duration(start.Minute())*time.Minute)
	e := day.Add(time.Duration(end.Hour())*time.Hour + time.Duration(end.Minute())*time.Minute)

	switch {
	case s.Equal(e):
		return time.Time{}
	case s.Before(e):
		if !local.Before(s) && local.Before(e) {
			return e
		}
	default:
		if !local.Before(s) {
			return e.AddDate(0, 0, 1)
		}
		if local.Before(e) {
			return e
		}
	}
	return time.Time{}
}
