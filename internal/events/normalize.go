package events

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"espressomap/internal/model"
)

// Raw is an event record as decoded from JSON, before normalization.
type Raw = map[string]any

// aliases lists, per canonical attribute, the source keys tried in order.
var aliases = map[string][]string{
	"id":          {"id"},
	"location":    {"location", "city"},
	"latitude":    {"latitude", "lat"},
	"longitude":   {"longitude", "lng", "lon"},
	"date":        {"date"},
	"time":        {"time"},
	"type":        {"type"},
	"title":       {"title", "name"},
	"description": {"description", "details"},
	"attendees":   {"attendees", "participants"},
	"website":     {"website", "url"},
	"tags":        {"tags", "categories"},
	"venue":       {"venue"},
	"organizer":   {"organizer"},
}

// Aliases returns the candidate source keys for a canonical attribute.
func Aliases(attr string) []string {
	return append([]string(nil), aliases[attr]...)
}

// lookup returns the first candidate value for attr that is present.
// Present means: not null, not "", not false, not numeric zero. A zero
// latitude therefore falls through to "lat", same as the feeds this
// accepts were produced against.
func lookup(raw Raw, attr string) (any, bool) {
	for _, key := range aliases[attr] {
		v, ok := raw[key]
		if ok && present(v) {
			return v, true
		}
	}
	return nil, false
}

func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case int:
		return x != 0
	case int64:
		return x != 0
	default:
		return true
	}
}

// Normalize converts a raw record into the canonical Event using the
// current time for defaults and type derivation.
func Normalize(raw Raw) model.Event {
	return NormalizeAt(raw, time.Now())
}

// NormalizeAt is Normalize with an explicit clock. It never fails: every
// missing or malformed field gets a default.
func NormalizeAt(raw Raw, now time.Time) model.Event {
	ev := model.Event{
		Location: model.UnknownLocation,
		Tags:     []string{},
	}

	if v, ok := lookup(raw, "location"); ok {
		ev.Location = stringOf(v)
	}
	if v, ok := lookup(raw, "latitude"); ok {
		ev.Latitude = floatOf(v)
	}
	if v, ok := lookup(raw, "longitude"); ok {
		ev.Longitude = floatOf(v)
	}

	ev.Date = model.FormatDate(now)
	if v, ok := lookup(raw, "date"); ok {
		ev.Date = stringOf(v)
	}

	if v, ok := lookup(raw, "id"); ok {
		ev.ID = stringOf(v)
	} else {
		ev.ID = ev.Location + "-" + ev.Date
	}

	ev.Type = deriveType(raw, ev.Date, now)

	ev.Time = optionalString(raw, "time")
	ev.Title = optionalString(raw, "title")
	ev.Description = optionalString(raw, "description")
	ev.Website = optionalString(raw, "website")
	ev.Venue = optionalString(raw, "venue")
	ev.Organizer = optionalString(raw, "organizer")
	ev.Attendees = optionalInt(raw, "attendees")

	if v, ok := lookup(raw, "tags"); ok {
		ev.Tags = stringsOf(v)
	}

	return ev
}

func deriveType(raw Raw, date string, now time.Time) model.EventType {
	if v, ok := lookup(raw, "type"); ok {
		switch model.EventType(strings.ToLower(strings.TrimSpace(stringOf(v)))) {
		case model.TypePast:
			return model.TypePast
		case model.TypeUpcoming:
			return model.TypeUpcoming
		}
	}
	t, err := model.ParseDate(date)
	if err == nil && t.After(now) {
		return model.TypeUpcoming
	}
	return model.TypePast
}

func optionalString(raw Raw, attr string) *string {
	v, ok := lookup(raw, attr)
	if !ok {
		return nil
	}
	s := stringOf(v)
	return &s
}

func optionalInt(raw Raw, attr string) *int {
	v, ok := lookup(raw, attr)
	if !ok {
		return nil
	}
	f := floatOf(v)
	if f == 0 {
		return nil
	}
	n := int(f)
	return &n
}

func stringOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

var leadingFloat = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// floatOf mirrors a lenient float parse: numbers pass through, strings
// are read up to the longest numeric prefix, anything else is 0.
func floatOf(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(leadingFloat.FindString(strings.TrimSpace(x)), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func stringsOf(v any) []string {
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s := stringOf(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string{}, x...)
	case string:
		return []string{x}
	default:
		return []string{}
	}
}
