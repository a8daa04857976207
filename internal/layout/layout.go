// Package layout computes where appointments sit in the calendar day view.
//
// Every function here is a pure computation over caller-owned events: inputs
// are never mutated and nothing is retained between calls, so an Engine may
// be shared by concurrent render passes.
package layout

import (
	"iter"
	"slices"
	"time"

	"santecal/internal/model"
)

// DefaultRowHeight is the pixel height of one hour when none is configured.
const DefaultRowHeight = 128

const (
	minutesPerHour = 60
	// Events that end on a later day are cut off at 23:59 of their start day.
	lastMinuteOfDay = 23*minutesPerHour + 59
)

// Engine lays out events on a vertical time axis of RowHeight pixels per
// hour. Calendar-day comparisons are made in the engine's location.
type Engine struct {
	rowHeight float64
	loc       *time.Location
}

// Placement pairs an event with its computed position.
type Placement struct {
	Event    model.Event         `json:"event"`
	Position model.EventPosition `json:"position"`
}

// New returns an Engine. A non-positive rowHeight falls back to
// DefaultRowHeight and a nil loc to time.Local.
func New(rowHeight float64, loc *time.Location) *Engine {
	if rowHeight <= 0 {
		rowHeight = DefaultRowHeight
	}
	if loc == nil {
		loc = time.Local
	}
	return &Engine{rowHeight: rowHeight, loc: loc}
}

func (e *Engine) RowHeight() float64 { return e.rowHeight }

func (e *Engine) Location() *time.Location { return e.loc }

// SameDay reports whether a and b fall on the same calendar day in the
// engine's location.
func (e *Engine) SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(e.loc).Date()
	by, bm, bd := b.In(e.loc).Date()
	return ay == by && am == bm && ad == bd
}

// Overlapping returns the events in all, other than target itself, whose
// half-open interval intersects target's and which start on target's day.
// The result follows the order of all.
func (e *Engine) Overlapping(target model.Event, all []model.Event) []model.Event {
	out := make([]model.Event, 0)
	for _, other := range all {
		if other.ID != target.ID && e.overlaps(target, other) {
			out = append(out, other)
		}
	}
	return out
}

func (e *Engine) overlaps(a, b model.Event) bool {
	return a.Start.Before(b.End) &&
		a.End.After(b.Start) &&
		e.SameDay(a.Start, b.Start)
}

// Position computes the rectangle for ev given every event visible that day.
//
// ev and its overlaps form a group ordered by start time. Equal start times
// keep their relative order in all (ev goes first if it is not in all), so
// the group's columns always tile the full lane width.
func (e *Engine) Position(ev model.Event, all []model.Event) model.EventPosition {
	group := make([]model.Event, 0, 1)
	seen := false
	for _, o := range all {
		switch {
		case o.ID == ev.ID:
			if !seen {
				group = append(group, ev)
				seen = true
			}
		case e.overlaps(ev, o):
			group = append(group, o)
		}
	}
	if !seen {
		group = slices.Insert(group, 0, ev)
	}

	slices.SortStableFunc(group, func(a, b model.Event) int {
		return a.Start.Compare(b.Start)
	})

	rank := slices.IndexFunc(group, func(o model.Event) bool { return o.ID == ev.ID })

	width := 100 / float64(len(group))
	return model.EventPosition{
		Left:   float64(rank) * width,
		Width:  width,
		Top:    e.TopPixels(ev.Start),
		Height: e.HeightPixels(ev),
	}
}

// TopPixels is the vertical offset of t's time of day. Seconds are ignored.
func (e *Engine) TopPixels(t time.Time) float64 {
	return float64(e.minuteOfDay(t)) / minutesPerHour * e.rowHeight
}

// HeightPixels is the pixel height of ev's duration. An event ending on a
// different calendar day is measured to 23:59 of its start day. Events whose
// end precedes their start produce a negative height.
func (e *Engine) HeightPixels(ev model.Event) float64 {
	start := e.minuteOfDay(ev.Start)
	end := e.minuteOfDay(ev.End)
	if !e.SameDay(ev.Start, ev.End) {
		end = lastMinuteOfDay
	}
	return float64(end-start) / minutesPerHour * e.rowHeight
}

func (e *Engine) minuteOfDay(t time.Time) int {
	local := t.In(e.loc)
	return local.Hour()*minutesPerHour + local.Minute()
}

// EventsForDay yields, in input order, the events that start on day.
// The sequence reads events lazily and may be ranged over more than once.
func (e *Engine) EventsForDay(events []model.Event, day time.Time) iter.Seq[model.Event] {
	return func(yield func(model.Event) bool) {
		for _, ev := range events {
			if !e.SameDay(ev.Start, day) {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// LayoutDay positions every event that starts on day, in input order.
func (e *Engine) LayoutDay(events []model.Event, day time.Time) []Placement {
	out := make([]Placement, 0)
	for ev := range e.EventsForDay(events, day) {
		out = append(out, Placement{
			Event:    ev,
			Position: e.Position(ev, events),
		})
	}
	return out
}
