package schedule

import (
	"fmt"
	"time"
)

// FieldError identifies the configuration field that failed validation. It is
// surfaced to API callers as a 400-class response and never retried.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func fieldErrorf(field, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks a configuration for structural correctness. It is pure:
// persistence is the caller's job after a nil return.
func Validate(cfg Config) error {
	if cfg.SlotDurationMinutes <= 0 {
		return fieldErrorf("default_duration_minutes", "must be greater than zero")
	}
	if cfg.BufferMinutes < 0 {
		return fieldErrorf("buffer_minutes", "must not be negative")
	}
	if cfg.EndDate != "" {
		if _, err := time.Parse(DateLayout, cfg.EndDate); err != nil {
			return fieldErrorf("end_date", "invalid date %q (want YYYY-MM-DD)", cfg.EndDate)
		}
	}

	for wd, hours := range cfg.Hours {
		field := fmt.Sprintf("working_hours[%d]", wd)
		if !hours.Start.valid() || !hours.End.valid() {
			return fieldErrorf(field, "time of day out of range")
		}
		// Closed days may carry zeroed hours; open days need a real window.
		if hours.Working && hours.Start >= hours.End {
			return fieldErrorf(field, "start %s must be before end %s", hours.Start, hours.End)
		}
	}

	seen := make(map[string]struct{}, len(cfg.Exceptions))
	for i, exc := range cfg.Exceptions {
		field := fmt.Sprintf("exceptions[%d]", i)
		if _, err := time.Parse(DateLayout, exc.Date); err != nil {
			return fieldErrorf(field+".date", "invalid date %q (want YYYY-MM-DD)", exc.Date)
		}
		if _, dup := seen[exc.Date]; dup {
			return fieldErrorf(field+".date", "duplicate exception for %s", exc.Date)
		}
		seen[exc.Date] = struct{}{}
		for j, r := range exc.Slots {
			slotField := fmt.Sprintf("%s.slots[%d]", field, j)
			if !r.Start.valid() || !r.End.valid() {
				return fieldErrorf(slotField, "time of day out of range")
			}
			if r.Start >= r.End {
				return fieldErrorf(slotField, "start %s must be before end %s", r.Start, r.End)
			}
		}
	}

	for i, b := range cfg.Breaks {
		field := fmt.Sprintf("break_time[%d]", i)
		if len(b.Days) == 0 {
			return fieldErrorf(field+".days", "must name at least one day of week")
		}
		for _, d := range b.Days {
			if d < time.Sunday || d > time.Saturday {
				return fieldErrorf(field+".days", "invalid day of week %d", d)
			}
		}
		if !b.Start.valid() || !b.End.valid() {
			return fieldErrorf(field, "time of day out of range")
		}
		if b.Start >= b.End {
			return fieldErrorf(field, "start %s must be before end %s", b.Start, b.End)
		}
	}

	if cfg.Window.MinNoticeMinutes < 0 {
		return fieldErrorf("booking_window.min_notice_minutes", "must not be negative")
	}
	if cfg.Window.MaxAdvanceDays < 0 {
		return fieldErrorf("booking_window.max_advance_days", "must not be negative")
	}
	return nil
}
