package schedule

import "time"

// GenerateSlots computes the bookable slots for one calendar date. day must
// be midnight in the profile's location; returned slot times carry that
// location. The result is disjoint and strictly increasing by start time.
//
// An empty result is a normal outcome (closed day, expired config, break
// covering the window), never an error.
func GenerateSlots(cfg Config, day time.Time) []Slot {
	if !cfg.Available {
		return nil
	}
	date := day.Format(DateLayout)
	if cfg.expiredOn(date) {
		return nil
	}

	if exc, ok := cfg.exceptionFor(date); ok {
		if !exc.Available {
			return nil
		}
		if exc.Slots != nil {
			// Explicit exception slots are authoritative as-is: no duration
			// packing, no buffer, no break filtering.
			return explicitSlots(day, exc.Slots)
		}
		// Open exception without slots: the weekly entry still supplies the
		// hours below. A weekly non-working day therefore stays empty.
	}

	hours := cfg.Hours[day.Weekday()]
	if !hours.Working || hours.End <= hours.Start {
		return nil
	}

	duration := ClockTime(cfg.SlotDurationMinutes)
	step := duration + ClockTime(cfg.BufferMinutes)
	if duration <= 0 || step <= 0 {
		return nil
	}

	var slots []Slot
	for cursor := hours.Start; cursor+duration <= hours.End; cursor += step {
		if cfg.overlapsBreak(day.Weekday(), cursor, cursor+duration) {
			continue
		}
		slots = append(slots, Slot{
			Start: clockOn(day, cursor),
			End:   clockOn(day, cursor+duration),
		})
	}
	return slots
}

func explicitSlots(day time.Time, ranges []SlotRange) []Slot {
	slots := make([]Slot, 0, len(ranges))
	for _, r := range ranges {
		slots = append(slots, Slot{
			Start: clockOn(day, r.Start),
			End:   clockOn(day, r.End),
		})
	}
	sortSlots(slots)
	return slots
}

// clockOn projects a time of day onto a calendar date.
func clockOn(day time.Time, c ClockTime) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), int(c)/60, int(c)%60, 0, 0, day.Location())
}
