package schedule

import (
	"testing"
	"time"
)

func TestCronExpression(t *testing.T) {
	tests := []struct {
		name    string
		sched   Schedule
		want    string
		wantErr bool
	}{
		{"daily", Schedule{Frequency: "daily", Time: "09:30"}, "30 9 * * *", false},
		{"daily midnight", Schedule{Frequency: "daily", Time: "00:00"}, "0 0 * * *", false},
		{"weekly", Schedule{Frequency: "weekly", Time: "18:05", Days: []string{"mon", "wed", "sun"}}, "5 18 * * 1,3,0", false},
		{"weekly unknown days dropped", Schedule{Frequency: "weekly", Time: "08:00", Days: []string{"mon", "xyz"}}, "0 8 * * 1", false},
		{"weekly no days", Schedule{Frequency: "weekly", Time: "08:00"}, "", true},
		{"monthly default day", Schedule{Frequency: "monthly", Time: "07:15"}, "15 7 1 * *", false},
		{"monthly explicit day", Schedule{Frequency: "monthly", Time: "07:15", DayOfMonth: 15}, "15 7 15 * *", false},
		{"monthly bad day", Schedule{Frequency: "monthly", Time: "07:15", DayOfMonth: 40}, "", true},
		{"cron passthrough", Schedule{Frequency: "cron", Cron: "*/5 * * * *"}, "*/5 * * * *", false},
		{"cron invalid", Schedule{Frequency: "cron", Cron: "not a cron"}, "", true},
		{"bad time", Schedule{Frequency: "daily", Time: "25:00"}, "", true},
		{"missing time", Schedule{Frequency: "daily"}, "", true},
		{"unknown frequency", Schedule{Frequency: "hourly", Time: "10:00"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.sched.CronExpression()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNextRun(t *testing.T) {
	ref := time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local)

	s := Schedule{Enabled: true, Frequency: "daily", Time: "09:30"}
	next := s.NextRun(ref)
	if next == nil {
		t.Fatal("expected next run, got nil")
	}
	want := time.Date(2026, 3, 10, 9, 30, 0, 0, time.Local)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, *next)
	}

	// Past today's slot rolls over to tomorrow
	next = s.NextRun(time.Date(2026, 3, 10, 10, 0, 0, 0, time.Local))
	if next == nil || next.Day() != 11 {
		t.Errorf("expected next run on the 11th, got %v", next)
	}
}

func TestNextRunDisabledOrInvalid(t *testing.T) {
	if next := (Schedule{Frequency: "daily", Time: "09:30"}).NextRun(time.Now()); next != nil {
		t.Error("expected nil for disabled schedule")
	}
	if next := (Schedule{Enabled: true, Frequency: "weekly", Time: "09:30"}).NextRun(time.Now()); next != nil {
		t.Error("expected nil for invalid schedule")
	}
}

func TestValidate(t *testing.T) {
	if err := (Schedule{Frequency: "bogus"}).Validate(); err != nil {
		t.Errorf("disabled schedule should validate, got %v", err)
	}
	if err := (Schedule{Enabled: true, Frequency: "bogus"}).Validate(); err == nil {
		t.Error("expected error for enabled bogus schedule")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		sched Schedule
		want  string
	}{
		{Schedule{}, "Disabled"},
		{Schedule{Enabled: true, Frequency: "daily", Time: "09:00"}, "Daily at 09:00"},
		{Schedule{Enabled: true, Frequency: "weekly", Time: "09:00", Days: []string{"mon", "fri"}}, "Weekly on mon, fri at 09:00"},
		{Schedule{Enabled: true, Frequency: "monthly", Time: "09:00"}, "Monthly on day 1 at 09:00"},
		{Schedule{Enabled: true, Frequency: "cron", Cron: "0 * * * *"}, "Cron: 0 * * * *"},
	}
	for _, tt := range tests {
		if got := tt.sched.Format(); got != tt.want {
			t.Errorf("Format() = %q, want %q", got, tt.want)
		}
	}
}
