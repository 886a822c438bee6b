package events

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "espressomap/internal/log"
	"espressomap/internal/model"
)

const defaultMaxOccurrences = 500

// SeriesConfig bounds recurrence expansion.
type SeriesConfig struct {
	// RangeStart / RangeEnd form the inclusive window occurrences must
	// fall in. A zero RangeStart means "from the series start"; a zero
	// RangeEnd is replaced by one year after the series start.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrences caps each series. Zero uses defaultMaxOccurrences.
	MaxOccurrences int

	// Now decides which occurrences survive the cap: upcoming ones first,
	// then the most recent past ones. Zero keeps the earliest.
	Now time.Time
}

// SeriesReport summarizes an ExpandSeries call.
type SeriesReport struct {
	// Series counts records that carried a usable rrule.
	Series int
	// Occurrences counts records produced from those series.
	Occurrences int
	// Truncated holds IDs (or locations) of series that hit the cap.
	Truncated []string
	// Invalid holds IDs of records whose rrule could not be parsed; those
	// records are passed through unchanged.
	Invalid []string
}

// ExpandSeries replaces every record that has an "rrule" key with one
// record per occurrence. Occurrences copy the original record, carry
// the occurrence start as "date", lose the "rrule"/"exdates" keys and,
// when the record had an explicit id, get "@<date>" appended to it.
// Records without a rule keep their position and are returned as-is.
func ExpandSeries(raws []Raw, cfg SeriesConfig) ([]Raw, SeriesReport) {
	var report SeriesReport
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	out := make([]Raw, 0, len(raws))
	for _, raw := range raws {
		rule, ok := raw["rrule"].(string)
		if !ok || strings.TrimSpace(rule) == "" {
			out = append(out, raw)
			continue
		}

		occ, truncated, err := expandRecord(raw, rule, cfg)
		if err != nil {
			label := seriesLabel(raw)
			appLog.Error("series: failed to expand rrule", err, "series", label, "rrule", rule)
			report.Invalid = append(report.Invalid, label)
			out = append(out, raw)
			continue
		}

		report.Series++
		report.Occurrences += len(occ)
		if truncated {
			label := seriesLabel(raw)
			report.Truncated = append(report.Truncated, label)
			appLog.Error("series: truncated occurrences due to cap",
				errors.New("max occurrences reached"),
				"series", label,
				"cap", cfg.MaxOccurrences,
			)
		}
		out = append(out, occ...)
	}

	return out, report
}

func expandRecord(raw Raw, rule string, cfg SeriesConfig) ([]Raw, bool, error) {
	dateStr, _ := raw["date"].(string)
	start, err := model.ParseDate(dateStr)
	if err != nil {
		return nil, false, errors.New("series record has no parseable date")
	}
	dateOnly := model.IsDateOnly(dateStr)

	r, err := rrule.StrToRRule(strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:"))
	if err != nil {
		return nil, false, err
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range exDates(raw) {
		set.ExDate(ex)
	}

	rangeStart := cfg.RangeStart
	if rangeStart.IsZero() {
		rangeStart = start
	}
	rangeEnd := cfg.RangeEnd
	if rangeEnd.IsZero() {
		rangeEnd = start.AddDate(1, 0, 0)
	}
	if rangeEnd.Before(rangeStart) {
		return nil, false, errors.New("series range end is before range start")
	}

	times := set.Between(rangeStart, rangeEnd, true)
	truncated := false
	if len(times) > cfg.MaxOccurrences {
		times = capAround(times, cfg.MaxOccurrences, cfg.Now)
		truncated = true
	}

	baseID, hasID := raw["id"].(string)
	hasID = hasID && baseID != ""

	out := make([]Raw, 0, len(times))
	for _, t := range times {
		occ := maps.Clone(raw)
		delete(occ, "rrule")
		delete(occ, "exdates")

		date := t.UTC().Format(time.RFC3339)
		if dateOnly {
			date = t.UTC().Format("2006-01-02")
		}
		occ["date"] = date
		if hasID {
			occ["id"] = baseID + "@" + date
		}
		out = append(out, occ)
	}

	return out, truncated, nil
}

// capAround keeps n of the sorted times, preferring those at or after now
// and filling the rest with the latest ones before it.
func capAround(times []time.Time, n int, now time.Time) []time.Time {
	if now.IsZero() {
		return times[:n]
	}
	first, _ := slices.BinarySearchFunc(times, now, func(t, target time.Time) int {
		return t.Compare(target)
	})
	start := max(0, min(first, len(times)-n))
	return times[start : start+n]
}

func exDates(raw Raw) []time.Time {
	list, ok := raw["exdates"].([]any)
	if !ok {
		return nil
	}
	out := make([]time.Time, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if t, err := model.ParseDate(s); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func seriesLabel(raw Raw) string {
	if id, ok := raw["id"].(string); ok && id != "" {
		return id
	}
	if loc, ok := raw["location"].(string); ok && loc != "" {
		return loc
	}
	return "(unnamed)"
}
