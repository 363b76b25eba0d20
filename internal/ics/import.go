package ics

import (
	"strings"
	"time"

	"github.com/google/uuid"

	appLog "famcal/internal/log"
	"famcal/internal/model"
)

// UntitledSummary replaces an empty SUMMARY on import.
const UntitledSummary = "(untitled)"

// ImportOptions controls how a feed is turned into calendar events.
type ImportOptions struct {
	// Feed names the source in logs.
	Feed string

	// Member is used when a VEVENT carries no CATEGORIES.
	Member string

	// Location is the zone timed occurrences are expressed in. If nil,
	// time.Local is used.
	Location *time.Location

	// RangeStart / RangeEnd bound recurrence expansion. Zero values default
	// to six months back and one year ahead of Now.
	RangeStart time.Time
	RangeEnd   time.Time

	MaxOccurrencesPerEvent int

	Now func() time.Time
}

// ImportResult holds the events built from a feed.
type ImportResult struct {
	Events []model.Event

	// Truncated lists UIDs whose expansion hit the occurrence cap.
	Truncated []string

	// Skipped counts occurrences that did not yield a valid event.
	Skipped int
}

// Import parses an ICS payload, expands recurrences inside the configured
// window and converts every occurrence into a model.Event. Ids are derived
// from the VEVENT UID and the occurrence's original start, so importing the
// same feed twice yields the same ids.
func Import(body []byte, opts ImportOptions) (ImportResult, error) {
	var res ImportResult

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	ts := now().UTC()
	if opts.RangeStart.IsZero() {
		opts.RangeStart = ts.AddDate(0, -6, 0)
	}
	if opts.RangeEnd.IsZero() {
		opts.RangeEnd = ts.AddDate(1, 0, 0)
	}

	parsed, err := ParseICS(opts.Feed, body)
	if err != nil {
		return res, err
	}

	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation:        loc,
		RangeStart:             opts.RangeStart,
		RangeEnd:               opts.RangeEnd,
		MaxOccurrencesPerEvent: opts.MaxOccurrencesPerEvent,
	})
	if err != nil {
		return res, err
	}
	res.Truncated = expanded.TruncatedEvents

	seen := make(map[string]struct{}, len(expanded.Occurrences))
	for _, occ := range expanded.Occurrences {
		ev := occurrenceToEvent(occ, opts.Member, ts)
		if err := ev.Validate(); err != nil {
			appLog.Warn("ics import: skipping occurrence", "feed", opts.Feed, "uid", occ.UID, "error", err.Error())
			res.Skipped++
			continue
		}
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		res.Events = append(res.Events, ev)
	}

	appLog.Info("ics import completed",
		"feed", opts.Feed,
		"events", len(res.Events),
		"skipped", res.Skipped,
		"truncated", len(res.Truncated),
	)
	return res, nil
}

func occurrenceToEvent(occ Occurrence, defaultMember string, now time.Time) model.Event {
	title := strings.TrimSpace(occ.Summary)
	if title == "" {
		title = UntitledSummary
	}
	member := defaultMember
	if len(occ.Categories) > 0 {
		member = occ.Categories[0]
	}

	ev := model.Event{
		ID:          importID(occ),
		Title:       title,
		Date:        occ.Start.Format(model.DateLayout),
		Description: strings.TrimSpace(occ.Description),
		Member:      member,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if !occ.AllDay {
		ev.Time = occ.Start.Format(model.TimeLayout)
	}
	return ev
}

// importID reuses the id of events this package exported and otherwise
// derives a name-based UUID from the UID and instance.
func importID(occ Occurrence) string {
	if id, ok := strings.CutSuffix(occ.UID, uidSuffix); ok && id != "" {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(occ.UID+"#"+occ.InstanceKey)).String()
}
