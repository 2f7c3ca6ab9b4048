package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule is the recurring run policy attached to a configuration.
type Schedule struct {
	Enabled    bool     `json:"enabled"`
	Frequency  string   `json:"frequency"`            // "daily", "weekly", "monthly", "cron"
	Time       string   `json:"time,omitempty"`       // "HH:MM"
	Days       []string `json:"days,omitempty"`       // weekly: "mon".."sun"
	DayOfMonth int      `json:"dayOfMonth,omitempty"` // monthly, defaults to 1
	Cron       string   `json:"cron,omitempty"`       // frequency "cron"
}

var weekdays = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// CronExpression converts the schedule into a five-field cron expression.
func (s Schedule) CronExpression() (string, error) {
	if s.Frequency == "cron" {
		expr := strings.TrimSpace(s.Cron)
		if !gronx.New().IsValid(expr) {
			return "", fmt.Errorf("invalid cron expression: %q", s.Cron)
		}
		return expr, nil
	}

	hours, minutes, err := parseClock(s.Time)
	if err != nil {
		return "", err
	}

	var expr string
	switch s.Frequency {
	case "daily":
		expr = fmt.Sprintf("%d %d * * *", minutes, hours)
	case "weekly":
		var days []string
		for _, d := range s.Days {
			if n, ok := weekdays[strings.ToLower(d)]; ok {
				days = append(days, strconv.Itoa(n))
			}
		}
		if len(days) == 0 {
			return "", fmt.Errorf("weekly schedule needs at least one day")
		}
		expr = fmt.Sprintf("%d %d * * %s", minutes, hours, strings.Join(days, ","))
	case "monthly":
		day := s.DayOfMonth
		if day == 0 {
			day = 1
		}
		if day < 1 || day > 31 {
			return "", fmt.Errorf("day of month out of range: %d", day)
		}
		expr = fmt.Sprintf("%d %d %d * *", minutes, hours, day)
	default:
		return "", fmt.Errorf("unknown schedule frequency: %q", s.Frequency)
	}

	if !gronx.New().IsValid(expr) {
		return "", fmt.Errorf("invalid cron expression: %q", expr)
	}
	return expr, nil
}

// NextRun returns the first tick strictly after ref, or nil when the schedule
// is disabled or invalid.
func (s Schedule) NextRun(ref time.Time) *time.Time {
	if !s.Enabled {
		return nil
	}
	expr, err := s.CronExpression()
	if err != nil {
		return nil
	}
	next, err := gronx.NextTickAfter(expr, ref, false)
	if err != nil {
		return nil
	}
	return &next
}

// Validate reports whether an enabled schedule can be turned into a cron
// expression. Disabled schedules are always valid.
func (s Schedule) Validate() error {
	if !s.Enabled {
		return nil
	}
	_, err := s.CronExpression()
	return err
}

// Format returns a human-readable description of the schedule.
func (s Schedule) Format() string {
	if !s.Enabled {
		return "Disabled"
	}
	switch s.Frequency {
	case "daily":
		return "Daily at " + s.Time
	case "weekly":
		return fmt.Sprintf("Weekly on %s at %s", strings.Join(s.Days, ", "), s.Time)
	case "monthly":
		day := s.DayOfMonth
		if day == 0 {
			day = 1
		}
		return fmt.Sprintf("Monthly on day %d at %s", day, s.Time)
	case "cron":
		return "Cron: " + s.Cron
	default:
		return s.Frequency
	}
}

func parseClock(hhmm string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(hhmm), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", hhmm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", hhmm)
	}
	return h, m, nil
}
