package model

import (
	"strconv"
	"strings"
	"time"
)

// Status is the appointment state shown on the calendar.
type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
	StatusNoShow    Status = "No Show"
)

var statusColors = map[Status]string{
	StatusScheduled: "primary",
	StatusCompleted: "green-400",
	StatusCancelled: "red-400",
	StatusNoShow:    "orange-400",
}

// ParseStatus accepts the display names case-insensitively, "noshow" /
// "no-show" variants, and the iCalendar VEVENT STATUS values.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scheduled", "confirmed", "tentative":
		return StatusScheduled, true
	case "completed":
		return StatusCompleted, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	case "no show", "no-show", "noshow", "no_show":
		return StatusNoShow, true
	default:
		return "", false
	}
}

// Color returns the display color tag for s, or "primary" for unknown values.
func (s Status) Color() string {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return statusColors[StatusScheduled]
}

// Patient is the subject an appointment is booked for.
type Patient struct {
	ID           string `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	ProfileImage string `json:"profile_image"`
}

func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Event is a single scheduled appointment as displayed on the calendar.
// Recurring feed entries are expanded into one Event per instance before
// they get here.
type Event struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id,omitempty"`

	Title  string `json:"title"`
	Color  string `json:"color"`
	Status Status `json:"status"`

	Patient *Patient `json:"patient,omitempty"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// EventPosition is the rectangle an event occupies in the day view.
// Left and Width are percentages of the lane; Top and Height are pixels.
type EventPosition struct {
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// CSS renders p as an inline style declaration.
func (p EventPosition) CSS() string {
	var b strings.Builder
	b.WriteString("left:")
	b.WriteString(formatFloat(p.Left))
	b.WriteString("%;width:")
	b.WriteString(formatFloat(p.Width))
	b.WriteString("%;top:")
	b.WriteString(formatFloat(p.Top))
	b.WriteString("px;height:")
	b.WriteString(formatFloat(p.Height))
	b.WriteString("px")
	return b.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Mode selects the calendar view.
type Mode string

const (
	ModeDay   Mode = "day"
	ModeWeek  Mode = "week"
	ModeMonth Mode = "month"
)

func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDay:
		return ModeDay, true
	case ModeWeek:
		return ModeWeek, true
	case ModeMonth:
		return ModeMonth, true
	default:
		return "", false
	}
}
