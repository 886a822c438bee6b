// Package filter narrows and orders canonical event collections for display.
package filter

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"espressomap/internal/model"
)

// All disables the type or region stage of a Spec.
const All = "all"

// Spec selects a subset of events. An empty Type or Region behaves like All;
// an empty Search matches everything.
type Spec struct {
	Type   string `json:"type"`
	Region string `json:"region"`
	Search string `json:"search"`
}

// Stats are the counters shown next to the map.
type Stats struct {
	Total    int `json:"total"`
	Past     int `json:"past"`
	Upcoming int `json:"upcoming"`
	Regions  int `json:"regions"`
}

// ParseSpec reads type, region and search from a query string.
func ParseSpec(q url.Values) Spec {
	return Spec{
		Type:   strings.TrimSpace(q.Get("type")),
		Region: strings.TrimSpace(q.Get("region")),
		Search: strings.TrimSpace(q.Get("search")),
	}
}

// IsZero reports whether s keeps every event.
func (s Spec) IsZero() bool {
	return isAll(s.Type) && isAll(s.Region) && s.Search == ""
}

func isAll(v string) bool {
	return v == "" || v == All
}

// matcher does case-insensitive substring tests. cases.Caser keeps state,
// so each Apply call builds its own.
type matcher struct {
	caser cases.Caser
}

func newMatcher() *matcher {
	return &matcher{caser: cases.Fold()}
}

func (m *matcher) fold(s string) string {
	return m.caser.String(s)
}

func (m *matcher) contains(haystack, needle string) bool {
	return strings.Contains(m.fold(haystack), m.fold(needle))
}

// Apply returns the events that pass every stage of spec, in input order.
// The input slice is not modified.
func Apply(events []model.Event, spec Spec) []model.Event {
	m := newMatcher()
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if !isAll(spec.Type) && string(ev.Type) != spec.Type {
			continue
		}
		if !isAll(spec.Region) && !m.contains(ev.Location, spec.Region) {
			continue
		}
		if spec.Search != "" && !matchesSearch(m, ev, spec.Search) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func matchesSearch(m *matcher, ev model.Event, search string) bool {
	needle := m.fold(search)
	for _, field := range []string{ev.Location, model.StringValue(ev.Title), model.StringValue(ev.Description)} {
		if strings.Contains(m.fold(field), needle) {
			return true
		}
	}
	return false
}

// SortForDisplay orders events for the timeline: upcoming first, soonest
// first, then past events with the most recent first. Events whose date
// does not parse go to the end of their bucket; ties keep input order.
func SortForDisplay(events []model.Event) []model.Event {
	type keyed struct {
		ev     model.Event
		at     time.Time
		parsed bool
	}
	ks := make([]keyed, len(events))
	for i, ev := range events {
		at, ok := ev.When()
		ks[i] = keyed{ev: ev, at: at, parsed: ok}
	}

	slices.SortStableFunc(ks, func(a, b keyed) int {
		ua, ub := a.ev.Type == model.TypeUpcoming, b.ev.Type == model.TypeUpcoming
		switch {
		case ua && !ub:
			return -1
		case !ua && ub:
			return 1
		}
		switch {
		case a.parsed && !b.parsed:
			return -1
		case !a.parsed && b.parsed:
			return 1
		case !a.parsed && !b.parsed:
			return 0
		}
		c := a.at.Compare(b.at)
		if !ua {
			c = -c
		}
		return c
	})

	out := make([]model.Event, len(ks))
	for i, k := range ks {
		out[i] = k.ev
	}
	return out
}

// RegionName returns the last comma-separated part of a location, trimmed.
func RegionName(location string) string {
	if i := strings.LastIndex(location, ","); i >= 0 {
		location = location[i+1:]
	}
	return strings.TrimSpace(location)
}

// Regions lists the distinct location regions in events, sorted.
func Regions(events []model.Event) []string {
	seen := make(map[string]struct{}, len(events))
	out := []string{}
	for _, ev := range events {
		r := RegionName(ev.Location)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Summarize counts events by type and distinct region.
func Summarize(events []model.Event) Stats {
	st := Stats{Total: len(events), Regions: len(Regions(events))}
	for _, ev := range events {
		switch ev.Type {
		case model.TypePast:
			st.Past++
		case model.TypeUpcoming:
			st.Upcoming++
		}
	}
	return st
}
