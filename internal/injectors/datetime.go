package injectors

import (
	"context"
	"fmt"
	"time"

	"github.com/loopwork/beacon/pkg/models"
)

// Datetime renders the current wall-clock time for the agent, in the
// session's timezone, for both the system prompt and resumed histories.
type Datetime struct{}

// Name implements Injector.
func (Datetime) Name() string { return "datetime" }

// InjectSystemContext implements Injector.
func (Datetime) InjectSystemContext(_ context.Context, in Context) (string, error) {
	return "Current date and time: " + formatStamp(in.Now, in.Timezone), nil
}

// InjectResumeContext implements Injector.
func (Datetime) InjectResumeContext(_ context.Context, in Context) ([]models.CheckpointMessage, error) {
	return []models.CheckpointMessage{{
		Role:      "system",
		Content:   "Session resumed at: " + formatStamp(in.Now, in.Timezone),
		Timestamp: in.Now.UnixMilli(),
	}}, nil
}

// ordinalSuffix returns the English ordinal suffix for a day number.
// 11-13 (and 111-113, ...) always take "th".
func ordinalSuffix(day int) string {
	if last := day % 100; last >= 11 && last <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

// formatStamp renders a time like
// "Friday, January 24th, 2025 - 14:30 (PST)". An unknown timezone falls
// back to UTC.
func formatStamp(t time.Time, timezone string) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := t.In(loc)
	zone, _ := local.Zone()
	return fmt.Sprintf("%s, %s %d%s, %d - %s (%s)",
		local.Weekday(), local.Month(), local.Day(), ordinalSuffix(local.Day()),
		local.Year(), local.Format("15:04"), zone)
}
