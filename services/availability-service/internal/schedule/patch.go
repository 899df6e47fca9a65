package schedule

// Patch is a partial configuration update. Nil fields keep their current
// value; non-nil fields replace it wholesale (lists are not merged
// element-wise). An empty EndDate string clears the end date.
type Patch struct {
	Available           *bool          `json:"is_available,omitempty"`
	SlotDurationMinutes *int           `json:"default_duration_minutes,omitempty"`
	BufferMinutes       *int           `json:"buffer_minutes,omitempty"`
	EndDate             *string        `json:"end_date,omitempty"`
	Hours               *WeekHours     `json:"working_hours,omitempty"`
	Exceptions          *[]Exception   `json:"exceptions,omitempty"`
	Breaks              *[]Break       `json:"break_time,omitempty"`
	Window              *BookingWindow `json:"booking_window,omitempty"`
}

// MergePatch applies a patch to a configuration copy. The result must pass
// Validate before it is persisted; a failing merge is discarded whole.
func MergePatch(cfg Config, p Patch) Config {
	if p.Available != nil {
		cfg.Available = *p.Available
	}
	if p.SlotDurationMinutes != nil {
		cfg.SlotDurationMinutes = *p.SlotDurationMinutes
	}
	if p.BufferMinutes != nil {
		cfg.BufferMinutes = *p.BufferMinutes
	}
	if p.EndDate != nil {
		cfg.EndDate = *p.EndDate
	}
	if p.Hours != nil {
		cfg.Hours = *p.Hours
	}
	if p.Exceptions != nil {
		cfg.Exceptions = append([]Exception(nil), (*p.Exceptions)...)
	}
	if p.Breaks != nil {
		cfg.Breaks = append([]Break(nil), (*p.Breaks)...)
	}
	if p.Window != nil {
		cfg.Window = *p.Window
	}
	return cfg
}
