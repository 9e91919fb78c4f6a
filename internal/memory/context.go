package memory

import (
	"strings"
	"time"
)

// TemporalContext situates an episodic memory in wall-clock terms.
// Computed once at write time, never recomputed.
type TemporalContext struct {
	DayOfWeek string `json:"day_of_week"`
	TimeOfDay string `json:"time_of_day"`
	Season    string `json:"season"`
}

// ContextAt derives the temporal context for the given instant.
func ContextAt(t time.Time) TemporalContext {
	return TemporalContext{
		DayOfWeek: strings.ToLower(t.Weekday().String()),
		TimeOfDay: timeOfDay(t.Hour()),
		Season:    season(t.Month()),
	}
}

func timeOfDay(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 17:
		return "afternoon"
	case hour >= 17 && hour < 22:
		return "evening"
	default:
		return "night"
	}
}

// season uses meteorological (northern hemisphere) boundaries.
func season(m time.Month) string {
	switch m {
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	case time.September, time.October, time.November:
		return "autumn"
	default:
		return "winter"
	}
}

// summaryLimit is the content length above which a summary is auto-derived.
const summaryLimit = 200

// Summarize truncates content into a short summary when no explicit summary
// was supplied. Content at or under the limit is returned unchanged.
func Summarize(content string) string {
	runes := []rune(content)
	if len(runes) <= summaryLimit {
		return content
	}
	return string(runes[:summaryLimit-3]) + "..."
}
