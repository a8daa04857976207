package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "santecal/internal/log"
	"santecal/internal/model"
)

// Non-standard properties some practice-management exports carry.
const (
	propAppointmentStatus = "X-APPOINTMENT-STATUS"
	propColor             = "COLOR"
	propRecurrenceID      = "RECURRENCE-ID"
	paramPatientID        = "X-PATIENT-ID"
)

// ParsedEvent is a VEVENT reduced to what the calendar needs. Recurrence is
// recorded but not expanded; see ExpandEvents.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary string
	Status  model.Status
	Color   string
	Patient *model.Patient

	Start  time.Time
	End    time.Time // zero when the VEVENT has no DTEND
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, if this VEVENT overrides an instance
	IsOverride bool
}

// ParseICS parses one ICS payload. Malformed VEVENTs are logged and skipped;
// only an unreadable calendar is an error.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Source: src, Status: model.StatusScheduled}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	// The practice's own status wins over the generic iCalendar one.
	for _, name := range []ical.ComponentProperty{propAppointmentStatus, ical.ComponentPropertyStatus} {
		p := ve.GetProperty(name)
		if p == nil {
			continue
		}
		if s, ok := model.ParseStatus(p.Value); ok {
			out.Status = s
			break
		}
	}

	if p := ve.GetProperty(propColor); p != nil {
		out.Color = strings.TrimSpace(p.Value)
	}

	if p := ve.GetProperty(ical.ComponentPropertyAttendee); p != nil {
		out.Patient = parseAttendee(p)
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	out.Start = start
	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	}

	// VALUE=DATE or a value without a time part marks an all-day entry.
	if vs := dtStart.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		out.AllDay = true
	}
	if !strings.Contains(dtStart.Value, "T") {
		out.AllDay = true
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, p.ICalParameters, start.Location()); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(propRecurrenceID); p != nil {
		if t, err := parseICSTime(p.Value, p.ICalParameters, start.Location()); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// parseAttendee builds a patient from an ATTENDEE line such as
// ATTENDEE;CN=Sara Ali;X-PATIENT-ID=42:mailto:sara@example.com
func parseAttendee(p *ical.IANAProperty) *model.Patient {
	pt := &model.Patient{}

	if v := p.Value; len(v) > len("mailto:") && strings.EqualFold(v[:len("mailto:")], "mailto:") {
		pt.Email = v[len("mailto:"):]
	}
	if cn := p.ICalParameters["CN"]; len(cn) > 0 {
		first, last, _ := strings.Cut(strings.TrimSpace(cn[0]), " ")
		pt.FirstName = first
		pt.LastName = strings.TrimSpace(last)
	}
	if ids := p.ICalParameters[paramPatientID]; len(ids) > 0 {
		pt.ID = ids[0]
	} else {
		pt.ID = pt.Email
	}

	if pt.ID == "" && pt.FullName() == "" {
		return nil
	}
	return pt
}

// parseICSTime parses a DATE or DATE-TIME value. Floating times use the
// TZID parameter when it names a known zone, else fallback.
func parseICSTime(v string, params map[string][]string, fallback *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	loc := fallback
	if tz := params["TZID"]; len(tz) > 0 {
		if l, err := time.LoadLocation(tz[0]); err == nil {
			loc = l
		}
	}
	if loc == nil {
		loc = time.Local
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
