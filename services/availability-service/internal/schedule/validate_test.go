package schedule

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidate_AcceptsDefaultConfig(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestValidate_AcceptsWorkingConfig(t *testing.T) {
	cfg := mondayMorningConfig()
	cfg.Exceptions = []Exception{
		{Date: "2026-01-05", Available: false},
		{Date: "2026-01-12", Available: true, Slots: []SlotRange{{Start: 13 * 60, End: 14 * 60}}},
	}
	cfg.Breaks = []Break{{Start: 10 * 60, End: 10*60 + 30, Days: []time.Weekday{time.Monday, time.Friday}}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			"zero duration",
			func(c *Config) { c.SlotDurationMinutes = 0 },
			"default_duration_minutes",
		},
		{
			"negative buffer",
			func(c *Config) { c.BufferMinutes = -1 },
			"buffer_minutes",
		},
		{
			"bad end date",
			func(c *Config) { c.EndDate = "01/05/2026" },
			"end_date",
		},
		{
			"inverted working hours",
			func(c *Config) { c.Hours[time.Monday] = DayHours{Working: true, Start: 12 * 60, End: 9 * 60} },
			"working_hours[1]",
		},
		{
			"working hours out of range",
			func(c *Config) { c.Hours[time.Monday] = DayHours{Working: true, Start: 9 * 60, End: 25 * 60} },
			"working_hours[1]",
		},
		{
			"duplicate exception dates",
			func(c *Config) {
				c.Exceptions = []Exception{
					{Date: "2026-01-05", Available: false},
					{Date: "2026-01-05", Available: true},
				}
			},
			"exceptions[1].date",
		},
		{
			"malformed exception date",
			func(c *Config) { c.Exceptions = []Exception{{Date: "not-a-date"}} },
			"exceptions[0].date",
		},
		{
			"inverted exception slot",
			func(c *Config) {
				c.Exceptions = []Exception{{
					Date:      "2026-01-05",
					Available: true,
					Slots:     []SlotRange{{Start: 14 * 60, End: 13 * 60}},
				}}
			},
			"exceptions[0].slots[0]",
		},
		{
			"break without days",
			func(c *Config) { c.Breaks = []Break{{Start: 10 * 60, End: 11 * 60}} },
			"break_time[0].days",
		},
		{
			"break with invalid day",
			func(c *Config) {
				c.Breaks = []Break{{Start: 10 * 60, End: 11 * 60, Days: []time.Weekday{7}}}
			},
			"break_time[0].days",
		},
		{
			"inverted break",
			func(c *Config) {
				c.Breaks = []Break{{Start: 11 * 60, End: 10 * 60, Days: []time.Weekday{time.Monday}}}
			},
			"break_time[0]",
		},
		{
			"negative min notice",
			func(c *Config) { c.Window.MinNoticeMinutes = -1 },
			"booking_window.min_notice_minutes",
		},
		{
			"negative max advance",
			func(c *Config) { c.Window.MaxAdvanceDays = -1 },
			"booking_window.max_advance_days",
		},
	}

	for _, tc := range cases {
		cfg := mondayMorningConfig()
		tc.mutate(&cfg)
		err := Validate(cfg)
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		var fe *FieldError
		if !errors.As(err, &fe) {
			t.Fatalf("%s: expected *FieldError, got %T", tc.name, err)
		}
		if fe.Field != tc.wantField {
			t.Fatalf("%s: expected field %q, got %q (%s)", tc.name, tc.wantField, fe.Field, fe.Message)
		}
	}
}

func TestValidate_ClosedDayMayHaveZeroHours(t *testing.T) {
	cfg := mondayMorningConfig()
	cfg.Hours[time.Saturday] = DayHours{Working: false, Start: 0, End: 0}
	if err := Validate(cfg); err != nil {
		t.Fatalf("closed day with zero hours must validate: %v", err)
	}
}

func TestFieldErrorMessage(t *testing.T) {
	err := Validate(Config{SlotDurationMinutes: 0})
	if err == nil || !strings.HasPrefix(err.Error(), "default_duration_minutes:") {
		t.Fatalf("unexpected error: %v", err)
	}
}
