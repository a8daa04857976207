package layout

import (
	"strings"
	"time"

	"santecal/internal/model"
)

// ParseWeekStart maps "sunday" to time.Sunday; everything else is Monday.
func ParseWeekStart(s string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(s), "sunday") {
		return time.Sunday
	}
	return time.Monday
}

// StartOfDay returns midnight of t's calendar day in the engine's location.
func (e *Engine) StartOfDay(t time.Time) time.Time {
	y, m, d := t.In(e.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.loc)
}

// StartOfWeek returns midnight of the first day of t's week.
func (e *Engine) StartOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	day := e.StartOfDay(t)
	offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
	return day.AddDate(0, 0, -offset)
}

// WeekDays returns the seven days of date's week, each at midnight.
func (e *Engine) WeekDays(date time.Time, weekStart time.Weekday) []time.Time {
	first := e.StartOfWeek(date, weekStart)
	days := make([]time.Time, 7)
	for i := range days {
		days[i] = first.AddDate(0, 0, i)
	}
	return days
}

// MonthGrid returns whole weeks covering date's month, as shown by a month
// view. Leading and trailing days belong to the adjacent months.
func (e *Engine) MonthGrid(date time.Time, weekStart time.Weekday) [][]time.Time {
	local := date.In(e.loc)
	first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, e.loc)
	last := first.AddDate(0, 1, -1)

	weeks := make([][]time.Time, 0, 6)
	for w := e.StartOfWeek(first, weekStart); !w.After(last); w = w.AddDate(0, 0, 7) {
		weeks = append(weeks, e.WeekDays(w, weekStart))
	}
	return weeks
}

// Range returns the half-open [start, end) interval a view of mode displays
// around date. Month views cover their full grid, not just the month.
func (e *Engine) Range(mode model.Mode, date time.Time, weekStart time.Weekday) (time.Time, time.Time) {
	switch mode {
	case model.ModeWeek:
		start := e.StartOfWeek(date, weekStart)
		return start, start.AddDate(0, 0, 7)
	case model.ModeMonth:
		grid := e.MonthGrid(date, weekStart)
		lastWeek := grid[len(grid)-1]
		return grid[0][0], lastWeek[len(lastWeek)-1].AddDate(0, 0, 1)
	default:
		start := e.StartOfDay(date)
		return start, start.AddDate(0, 0, 1)
	}
}

// Step moves date n views forward (negative n moves back). Month steps keep
// the day of month, clamped to the length of the target month.
func (e *Engine) Step(mode model.Mode, date time.Time, n int) time.Time {
	local := date.In(e.loc)
	switch mode {
	case model.ModeWeek:
		return local.AddDate(0, 0, 7*n)
	case model.ModeMonth:
		first := time.Date(local.Year(), local.Month(), 1,
			local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), e.loc)
		target := first.AddDate(0, n, 0)
		lastDay := time.Date(target.Year(), target.Month()+1, 0, 0, 0, 0, 0, e.loc).Day()
		return target.AddDate(0, 0, min(local.Day(), lastDay)-1)
	default:
		return local.AddDate(0, 0, n)
	}
}
