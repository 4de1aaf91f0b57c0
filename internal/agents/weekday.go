package agents

import (
	"fmt"
	"strings"
)

var weekdays = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// WeekdayIndex returns the 0-based index of a weekday name, case
// insensitively. ok is false for anything that is not a weekday.
func WeekdayIndex(name string) (int, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for i, day := range weekdays {
		if day == needle {
			return i, true
		}
	}
	return 0, false
}

// CyclesUntil returns how many cycles ahead the next occurrence of target
// lies, counted from current. The same weekday means next week (7), never
// today: a commitment for "Saturday" made on a Saturday points forward.
func CyclesUntil(current, target string) (int, error) {
	ci, ok := WeekdayIndex(current)
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", current)
	}
	ti, ok := WeekdayIndex(target)
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", target)
	}
	diff := (ti - ci + 7) % 7
	if diff == 0 {
		diff = 7
	}
	return diff, nil
}

// TargetCycle converts a weekday commitment into an absolute cycle number
// given the current cycle and its weekday.
func TargetCycle(cycle int, currentWeekday, targetWeekday string) (int, error) {
	ahead, err := CyclesUntil(currentWeekday, targetWeekday)
	if err != nil {
		return 0, err
	}
	return cycle + ahead, nil
}
