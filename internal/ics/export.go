package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "famcal/internal/log"
	"famcal/internal/model"
)

const (
	// DefaultEventDuration is the length given to timed events, which carry
	// only a start time.
	DefaultEventDuration = time.Hour

	productID = "-//famcal//family calendar//EN"
	uidSuffix = "@famcal"
)

// ExportOptions controls calendar serialization.
type ExportOptions struct {
	// Name is written as X-WR-CALNAME when non-empty.
	Name string

	// Location is the zone Event.Date/Event.Time are interpreted in. If nil,
	// time.Local is used.
	Location *time.Location

	Duration time.Duration

	Now func() time.Time
}

// Export serializes events into a VCALENDAR. Events with a start time become
// timed VEVENTs; the rest are all-day. The member label goes to CATEGORIES.
func Export(events []model.Event, opts ExportOptions) string {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	dur := opts.Duration
	if dur <= 0 {
		dur = DefaultEventDuration
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	stamp := now()

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	if loc != time.Local {
		cal.SetXWRTimezone(loc.String())
	}

	for _, ev := range events {
		day, err := time.ParseInLocation(model.DateLayout, ev.Date, loc)
		if err != nil {
			appLog.Warn("ics export: skipping event with bad date", "id", ev.ID, "date", ev.Date)
			continue
		}

		ve := cal.AddEvent(ev.ID + uidSuffix)
		ve.SetDtStampTime(stamp)
		if !ev.CreatedAt.IsZero() {
			ve.SetCreatedTime(ev.CreatedAt)
		}
		if !ev.UpdatedAt.IsZero() {
			ve.SetModifiedAt(ev.UpdatedAt)
		}
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Member != "" {
			ve.AddProperty(ical.ComponentPropertyCategories, ev.Member)
		}

		if ev.Time == "" {
			ve.SetAllDayStartAt(day)
			ve.SetAllDayEndAt(day.AddDate(0, 0, 1))
			continue
		}
		start, err := time.ParseInLocation(model.DateLayout+" "+model.TimeLayout, ev.Date+" "+ev.Time, loc)
		if err != nil {
			// Malformed clock time: keep the event on its day.
			ve.SetAllDayStartAt(day)
			ve.SetAllDayEndAt(day.AddDate(0, 0, 1))
			continue
		}
		ve.SetStartAt(start)
		ve.SetEndAt(start.Add(dur))
	}

	return cal.Serialize()
}
