package feed

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"espressomap/internal/events"
	appLog "espressomap/internal/log"
)

// ReadICS turns the VEVENTs of an iCalendar payload into raw event records
// so they go through the same series expansion and normalization as
// remote data. RRULE and EXDATE are carried over as "rrule"/"exdates".
func ReadICS(body []byte) ([]events.Raw, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	out := make([]events.Raw, 0)
	for _, ve := range cal.Events() {
		raw, err := rawFromVEvent(ve)
		if err != nil {
			appLog.Warn("feed: skipping vevent", "reason", err)
			continue
		}
		out = append(out, raw)
	}
	appLog.Debug("feed: ics parsed", "events", len(out))
	return out, nil
}

func rawFromVEvent(ve *ical.VEvent) (events.Raw, error) {
	dt := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dt == nil || dt.Value == "" {
		return nil, errors.New("missing DTSTART")
	}
	start, allDay, err := parseICSTime(dt.Value, paramValue(dt, "TZID"), paramValue(dt, "VALUE"))
	if err != nil {
		return nil, fmt.Errorf("DTSTART %q: %w", dt.Value, err)
	}

	raw := events.Raw{}
	if allDay {
		raw["date"] = start.Format("2006-01-02")
	} else {
		raw["date"] = start.UTC().Format(time.RFC3339)
	}

	text := func(prop ical.ComponentProperty, key string) {
		if p := ve.GetProperty(prop); p != nil && p.Value != "" {
			raw[key] = textUnescaper.Replace(p.Value)
		}
	}
	text(ical.ComponentPropertyUniqueId, "id")
	text(ical.ComponentPropertySummary, "title")
	text(ical.ComponentPropertyDescription, "description")
	text(ical.ComponentPropertyLocation, "location")
	text(ical.ComponentPropertyUrl, "website")

	if p := ve.GetProperty(ical.ComponentPropertyGeo); p != nil {
		if lat, lon, ok := parseGeo(p.Value); ok {
			raw["latitude"] = lat
			raw["longitude"] = lon
		}
	}

	var tags []any
	for _, p := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, t := range splitEscaped(p.Value) {
			tags = append(tags, t)
		}
	}
	if len(tags) > 0 {
		raw["tags"] = tags
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		raw["rrule"] = p.Value
	}

	var exdates []any
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			t, exAllDay, err := parseICSTime(part, paramValue(p, "TZID"), paramValue(p, "VALUE"))
			if err != nil {
				continue
			}
			if exAllDay {
				exdates = append(exdates, t.Format("2006-01-02"))
			} else {
				exdates = append(exdates, t.UTC().Format(time.RFC3339))
			}
		}
	}
	if len(exdates) > 0 {
		raw["exdates"] = exdates
	}

	return raw, nil
}

func paramValue(p *ical.IANAProperty, name string) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if vs := p.ICalParameters[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parseICSTime reads DATE and DATE-TIME values. Floating times use tzid
// when it names a known zone and UTC otherwise.
func parseICSTime(v, tzid, valueType string) (t time.Time, allDay bool, err error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if strings.EqualFold(valueType, "DATE") || !strings.Contains(v, "T") {
		t, err = time.Parse("20060102", v)
		return t, true, err
	}
	if strings.HasSuffix(v, "Z") {
		t, err = time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	loc := time.UTC
	if tzid != "" {
		if l, lerr := time.LoadLocation(tzid); lerr == nil {
			loc = l
		}
	}
	t, err = time.ParseInLocation("20060102T150405", v, loc)
	return t, false, err
}

func parseGeo(v string) (lat, lon float64, ok bool) {
	latStr, lonStr, found := strings.Cut(v, ";")
	if !found {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

var textUnescaper = strings.NewReplacer(`\\`, `\`, `\,`, `,`, `\;`, `;`, `\n`, "\n", `\N`, "\n")

// splitEscaped splits a CATEGORIES value on unescaped commas.
func splitEscaped(v string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(textUnescaper.Replace(cur.String())); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(v); i++ {
		switch {
		case v[i] == '\\' && i+1 < len(v):
			cur.WriteByte(v[i])
			cur.WriteByte(v[i+1])
			i++
		case v[i] == ',':
			flush()
		default:
			cur.WriteByte(v[i])
		}
	}
	flush()
	return out
}
