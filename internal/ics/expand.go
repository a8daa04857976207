package ics

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "santecal/internal/log"
	"santecal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
	defaultAppointmentLength      = 20 * time.Minute
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the zone all events are converted to. nil means time.Local.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound the window, inclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// DefaultDuration is the length of timed entries without DTEND.
	// Zero means 20 minutes.
	DefaultDuration time.Duration

	// MaxOccurrencesPerEvent caps a single series. Zero means 5000.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the calendar events produced from a feed.
type ExpandResult struct {
	Events []model.Event
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandEvents turns parsed VEVENTs into one model.Event per concrete
// appointment inside the configured window, applying RRULE, EXDATE and
// RECURRENCE-ID overrides. Events are returned ordered by start, then ID.
//
// A non-recurring event is identified as "<source>:UID"; instances of a
// series get "<source>:UID/<RFC3339 start>" so each instance stays unique.
func ExpandEvents(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = defaultAppointmentLength
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// A UID has one master and one override per instance. When a feed
	// repeats them, the highest SEQUENCE wins and later entries win ties.
	baseByUID := make(map[string]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		ev.End = effectiveEnd(ev, cfg.DefaultDuration)
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = addOverride(overridesByUID[ev.UID], ev)
			continue
		}
		if cur, ok := baseByUID[ev.UID]; !ok || ev.Seq >= cur.Seq {
			baseByUID[ev.UID] = ev
		}
	}

	uids := make([]string, 0, len(baseByUID))
	for uid := range baseByUID {
		uids = append(uids, uid)
	}
	slices.Sort(uids)

	out := make([]model.Event, 0)
	for _, uid := range uids {
		ev, ov := baseByUID[uid], overridesByUID[uid]
		if ev.RawRRule == "" {
			out = append(out, expandSingle(ev, ov, cfg)...)
			continue
		}

		occ, truncated := expandRecurring(ev, ov, cfg)
		out = append(out, occ...)

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Error("expand: series truncated at cap",
				errors.New("max occurrences reached"),
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	slices.SortFunc(out, func(a, b model.Event) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	result.Events = out
	return result, nil
}

// addOverride adds ov to overrides, replacing an override of the same
// instance unless that one carries a higher SEQUENCE.
func addOverride(overrides []ParsedEvent, ov ParsedEvent) []ParsedEvent {
	for i, cur := range overrides {
		if cur.Recurrence.Equal(*ov.Recurrence) {
			if ov.Seq >= cur.Seq {
				overrides[i] = ov
			}
			return overrides
		}
	}
	return append(overrides, ov)
}

// eventID scopes a feed-local ID to its source so feeds sharing a UID, and
// directly booked appointments, never collide in the appointment book.
func eventID(sourceID, id string) string {
	if sourceID == "" {
		return id
	}
	return sourceID + ":" + id
}

// effectiveEnd fills in a missing DTEND: one day for all-day entries, the
// default appointment length otherwise.
func effectiveEnd(ev ParsedEvent, def time.Duration) time.Time {
	if !ev.End.IsZero() {
		return ev.End
	}
	if ev.AllDay {
		return ev.Start.AddDate(0, 0, 1)
	}
	return ev.Start.Add(def)
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Event {
	if !timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}

	start, end := ev.Start, ev.End
	if o, ok := findOverrideForStart(overrides, start); ok {
		ev, start, end = o, o.Start, o.End
	}
	return []model.Event{makeEvent(ev, ev.UID, start, end, cfg.DisplayLocation)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	out := make([]model.Event, 0)

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Widen the window by one duration so instances already in progress at
	// RangeStart are kept.
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			occStart = time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occEnd = occStart.AddDate(0, 0, 1)
		} else {
			occEnd = occStart.Add(dur)
		}
		id := ev.UID + "/" + occStart.In(cfg.DisplayLocation).Format(time.RFC3339)

		base, start, end := ev, occStart, occEnd
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			base, start, end = o, o.Start, o.End
		}
		if !timeRangesOverlap(start, end, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeEvent(base, id, start, end, cfg.DisplayLocation))
	}

	return out, hitCap
}

// findOverrideForStart finds the override whose RECURRENCE-ID is the same
// instant as start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeEvent(ev ParsedEvent, id string, start, end time.Time, displayLoc *time.Location) model.Event {
	title := ev.Summary
	if title == "" && ev.Patient != nil {
		title = ev.Patient.FullName()
	}
	color := ev.Color
	if color == "" {
		color = ev.Status.Color()
	}

	return model.Event{
		ID:       eventID(ev.Source.ID, id),
		SourceID: ev.Source.ID,
		Title:    title,
		Color:    color,
		Status:   ev.Status,
		Patient:  ev.Patient,
		Start:    start.In(displayLoc),
		End:      end.In(displayLoc),
	}
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
