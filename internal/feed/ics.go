// Package feed converts between canonical events and iCalendar data: it
// renders the calendar subscription feed and reads .ics files used as a
// local event dataset.
package feed

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"espressomap/internal/geo"
	appLog "espressomap/internal/log"
	"espressomap/internal/model"
)

// ProductID identifies calendars produced by WriteICS.
const ProductID = "-//Espresso//Event Map//EN"

// WriteICS renders events as a VCALENDAR. Events whose date cannot be
// parsed are left out.
func WriteICS(w io.Writer, events []model.Event, now time.Time) error {
	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetMethod(ical.MethodPublish)

	skipped := 0
	for _, ev := range events {
		start, ok := ev.When()
		if !ok {
			skipped++
			continue
		}

		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(now)
		if model.IsDateOnly(ev.Date) {
			ve.SetAllDayStartAt(start)
		} else {
			ve.SetStartAt(start)
		}

		summary := model.StringValue(ev.Title)
		if summary == "" {
			summary = ev.Location
		}
		ve.SetSummary(summary)
		ve.SetLocation(ev.Location)
		if d := model.StringValue(ev.Description); d != "" {
			ve.SetDescription(d)
		}
		if u := model.StringValue(ev.Website); u != "" {
			ve.SetURL(u)
		}
		if ev.Latitude != 0 && ev.Longitude != 0 && geo.IsValidCoordinate(ev.Latitude, ev.Longitude) {
			ve.SetProperty(ical.ComponentPropertyGeo, fmt.Sprintf("%.6f;%.6f", ev.Latitude, ev.Longitude))
		}
		// One property per tag; a joined list would have its commas escaped.
		for _, tag := range ev.Tags {
			if tag = strings.TrimSpace(tag); tag != "" {
				ve.AddProperty(ical.ComponentPropertyCategories, tag)
			}
		}
	}

	if skipped > 0 {
		appLog.Warn("feed: skipped events with unparseable dates", "count", skipped)
	}

	if err := cal.SerializeTo(w); err != nil {
		return fmt.Errorf("serialize calendar: %w", err)
	}
	return nil
}
