package model

import (
	"strings"
	"time"
)

// EventType tells whether an event happened already or is still ahead.
type EventType string

const (
	TypePast     EventType = "past"
	TypeUpcoming EventType = "upcoming"
)

// UnknownLocation is used when a record carries no location at all.
const UnknownLocation = "Unknown Location"

// Event is the canonical event shape produced by the normalizer.
//
// Events are built once per load and never mutated afterwards; every
// filter/sort/group operation derives new slices. Optional display
// fields are nil when the source did not provide them.
//
// Latitude/Longitude are not range-checked: (0,0) and out-of-range
// values mean "unknown location" unless geo.IsValidCoordinate says
// otherwise.
type Event struct {
	ID        string  `json:"id"`
	Location  string  `json:"location"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Date is an ISO-8601 timestamp string as delivered by the source.
	Date string  `json:"date"`
	Time *string `json:"time"`

	// Type is derived once at normalization time and can go stale.
	Type EventType `json:"type"`

	Title       *string `json:"title"`
	Description *string `json:"description"`
	Attendees   *int    `json:"attendees"`
	Website     *string `json:"website"`
	Venue       *string `json:"venue"`
	Organizer   *string `json:"organizer"`

	Tags []string `json:"tags"`
}

// Coordinates implements geo.Locator.
func (e Event) Coordinates() (lat, lon float64) {
	return e.Latitude, e.Longitude
}

// When parses Date. ok is false when the date is not a recognised
// ISO-8601 form.
func (e Event) When() (t time.Time, ok bool) {
	t, err := ParseDate(e.Date)
	return t, err == nil
}

// EventGroup is a non-empty run of events clustered around its first
// element (the seed).
type EventGroup []Event

// Seed returns the event the group was opened with.
func (g EventGroup) Seed() Event {
	return g[0]
}

// StringValue dereferences an optional string field, "" for nil.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// dateLayouts are tried in order. Zone-less forms are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate accepts the ISO-8601 shapes seen in event feeds.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// IsDateOnly reports whether s is a bare calendar date (no time part).
func IsDateOnly(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != len("2006-01-02") {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// FormatDate renders t the way the normalizer stamps missing dates.
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
