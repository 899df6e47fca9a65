package schedule

import "time"

// CheckInterval reports whether the proposed interval [start,end) is bookable
// under the policy. start and end must already be in the profile's location.
//
// Unlike GenerateSlots, the interval is not required to align with the
// generated packing grid: generation proposes a convenient grid, checking
// only enforces the declared policy boundaries (working hours, exceptions,
// breaks).
func CheckInterval(cfg Config, start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	if !cfg.Available {
		return false
	}

	date := start.Format(DateLayout)
	if cfg.expiredOn(date) {
		return false
	}

	hours := cfg.Hours[start.Weekday()]
	if !hours.Working {
		return false
	}

	// Weekly hours are time-of-day granular, so the comparison is too.
	startMin := ClockTime(start.Hour()*60 + start.Minute())
	endMin, ok := endMinuteOfDay(start, end)
	if !ok {
		return false
	}
	if startMin < hours.Start || endMin > hours.End {
		return false
	}

	if exc, found := cfg.exceptionFor(date); found {
		if !exc.Available {
			return false
		}
		if exc.Slots != nil {
			for _, r := range exc.Slots {
				if startMin >= r.Start && endMin <= r.End {
					return true
				}
			}
			return false
		}
		// Open exception without explicit slots: fall through to breaks.
	}

	return !cfg.overlapsBreak(start.Weekday(), startMin, endMin)
}

// endMinuteOfDay converts end to minutes relative to start's date. An end of
// exactly midnight on the next day maps to 24:00; anything later spills past
// the day and is not checkable against weekly hours.
func endMinuteOfDay(start, end time.Time) (ClockTime, bool) {
	m := ClockTime(end.Hour()*60 + end.Minute())
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sy == ey && sm == em && sd == ed {
		return m, true
	}
	prev := end.AddDate(0, 0, -1)
	py, pm, pd := prev.Date()
	if m == 0 && py == sy && pm == sm && pd == sd {
		return minutesPerDay, true
	}
	return 0, false
}

// WithinBookingWindow reports whether a slot starting at start satisfies the
// advisory booking window relative to now: at least MinNoticeMinutes away and
// no more than MaxAdvanceDays ahead. Zero values disable the respective
// bound. Callers apply this explicitly; the engine never does.
func WithinBookingWindow(w BookingWindow, start, now time.Time) bool {
	if w.MinNoticeMinutes > 0 && start.Before(now.Add(time.Duration(w.MinNoticeMinutes)*time.Minute)) {
		return false
	}
	if w.MaxAdvanceDays > 0 && start.After(now.AddDate(0, 0, w.MaxAdvanceDays)) {
		return false
	}
	return true
}
