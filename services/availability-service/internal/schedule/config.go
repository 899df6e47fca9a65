// Package schedule implements the availability policy for a profile: weekly
// working hours, recurring breaks, date exceptions, buffer and booking-window
// policy, and the pure computations derived from it (slot generation and
// interval checking). Nothing in this package performs I/O; all functions are
// safe for concurrent use.
package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// DateLayout is the wire format for calendar dates (exception dates, end
// date, slot queries). Lexicographic order equals chronological order.
const DateLayout = "2006-01-02"

const clockLayout = "15:04"

const minutesPerDay = 24 * 60

// Defaults applied when a profile is created or a field is omitted.
const (
	DefaultSlotDurationMinutes = 60
	DefaultBufferMinutes       = 15
	DefaultMinNoticeMinutes    = 60
	DefaultMaxAdvanceDays      = 30
)

// ClockTime is a time of day in minutes since local midnight. It marshals as
// "HH:MM". The value 24*60 is a valid end-of-day boundary.
type ClockTime int

func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) valid() bool {
	return c >= 0 && c <= minutesPerDay
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid time value %s (want \"HH:MM\")", data)
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// DayHours is the weekly open-for-business window for one day of week.
type DayHours struct {
	Working bool      `json:"is_working"`
	Start   ClockTime `json:"start"`
	End     ClockTime `json:"end"`
}

// WeekHours holds one entry per day of week, indexed by time.Weekday
// (Sunday = 0). The fixed array makes day lookups exhaustive by construction.
type WeekHours [7]DayHours

// SlotRange is an explicit bookable interval inside one day, used by
// exceptions that replace generated slots outright.
type SlotRange struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// Exception overrides the weekly policy for a single calendar date. There is
// never more than one exception per date; when present it fully replaces the
// weekly entry's open/closed decision. With Available=true and a non-nil
// Slots list, the listed intervals are the only candidates for that date.
// With Available=true and no Slots, slots are generated from the weekly hours
// as usual.
type Exception struct {
	Date      string      `json:"date"`
	Available bool        `json:"is_available"`
	Slots     []SlotRange `json:"slots,omitempty"`
}

// Break is a recurring weekly block subtracted from generated slots on the
// listed weekdays. Explicit exception slots are not affected by breaks.
type Break struct {
	Start ClockTime      `json:"start"`
	End   ClockTime      `json:"end"`
	Days  []time.Weekday `json:"days"`
}

func (b Break) appliesOn(day time.Weekday) bool {
	for _, d := range b.Days {
		if d == day {
			return true
		}
	}
	return false
}

// BookingWindow is advisory policy: how close to "now" and how far ahead a
// slot may be booked. The engine never applies it implicitly; callers opt in
// (see WithinBookingWindow).
type BookingWindow struct {
	MinNoticeMinutes int `json:"min_notice_minutes"`
	MaxAdvanceDays   int `json:"max_advance_days"`
}

// Config is the full availability policy for one profile. It is a plain
// value: copying it is cheap and mutating a copy never affects stored state.
type Config struct {
	// Available is the master toggle. When false the profile yields no slots
	// and rejects every interval, regardless of all other fields.
	Available bool `json:"is_available"`

	// SlotDurationMinutes is the length of a generated slot.
	SlotDurationMinutes int `json:"default_duration_minutes"`

	// BufferMinutes is the idle gap between the end of one generated slot and
	// the start of the next.
	BufferMinutes int `json:"buffer_minutes"`

	// EndDate, when set ("YYYY-MM-DD"), expires the whole configuration for
	// dates after it. Used for temporary availability campaigns.
	EndDate string `json:"end_date,omitempty"`

	Hours      WeekHours     `json:"working_hours"`
	Exceptions []Exception   `json:"exceptions,omitempty"`
	Breaks     []Break       `json:"break_time,omitempty"`
	Window     BookingWindow `json:"booking_window"`
}

// DefaultConfig is the configuration seeded at profile creation: not yet
// bookable, no working hours, reference defaults for duration/buffer/window.
func DefaultConfig() Config {
	return Config{
		Available:           false,
		SlotDurationMinutes: DefaultSlotDurationMinutes,
		BufferMinutes:       DefaultBufferMinutes,
		Window: BookingWindow{
			MinNoticeMinutes: DefaultMinNoticeMinutes,
			MaxAdvanceDays:   DefaultMaxAdvanceDays,
		},
	}
}

// Slot is a concrete bookable interval on one calendar date. Slots are
// computed per query and never persisted.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// exceptionFor returns the exception for a date string, if any.
func (c Config) exceptionFor(date string) (Exception, bool) {
	for _, e := range c.Exceptions {
		if e.Date == date {
			return e, true
		}
	}
	return Exception{}, false
}

// expiredOn reports whether the config's end date has passed for the given
// date. ISO dates compare correctly as strings.
func (c Config) expiredOn(date string) bool {
	return c.EndDate != "" && date > c.EndDate
}

// overlapsBreak reports whether [start,end) intersects any break active on
// the given weekday. Touching endpoints do not count as overlap.
func (c Config) overlapsBreak(day time.Weekday, start, end ClockTime) bool {
	for _, b := range c.Breaks {
		if !b.appliesOn(day) {
			continue
		}
		if start < b.End && end > b.Start {
			return true
		}
	}
	return false
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].Start.Before(slots[j].Start)
	})
}
