// Package catalog holds the event collection the HTTP API serves. A
// refresh loads from the remote source, falls back to the local dataset
// when that fails, and swaps in the result as a new immutable snapshot.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"espressomap/internal/client"
	"espressomap/internal/events"
	"espressomap/internal/feed"
	appLog "espressomap/internal/log"
	"espressomap/internal/metrics"
	"espressomap/internal/model"
)

const (
	SourceRemote   = "remote"
	SourceFallback = "fallback"
)

// Fetcher is the remote half of a refresh. *client.Client satisfies it.
type Fetcher interface {
	FetchRawEvents(ctx context.Context) client.Result[[]events.Raw]
}

// Options configures a Catalog.
type Options struct {
	// FallbackPath overrides the bundled dataset when set. An http(s) URL
	// is fetched as an iCalendar subscription.
	FallbackPath string
	// Subscriptions fetches URL fallbacks. Nil builds one caching under
	// ./var/ics-cache.
	Subscriptions *feed.Fetcher
	// HorizonDays limits how far ahead of and behind now recurring events
	// are expanded. Zero keeps the one-year default from the series start.
	HorizonDays int
	// MaxOccurrences caps each recurring series.
	MaxOccurrences int
	Now            func() time.Time
}

// Snapshot is one loaded collection. It is never modified after Refresh
// publishes it.
type Snapshot struct {
	Events   []model.Event
	Source   string
	Outcome  client.Outcome
	Err      error
	Series   events.SeriesReport
	LoadedAt time.Time
}

// Find returns the event with the given id.
func (s *Snapshot) Find(id string) (model.Event, bool) {
	for _, ev := range s.Events {
		if ev.ID == id {
			return ev, true
		}
	}
	return model.Event{}, false
}

// Catalog publishes snapshots. Readers call Current; Refresh replaces the
// snapshot wholesale.
type Catalog struct {
	fetcher Fetcher
	opts    Options

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// New returns a Catalog holding an empty snapshot until the first Refresh.
func New(fetcher Fetcher, opts Options) *Catalog {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Subscriptions == nil && feed.IsRemote(opts.FallbackPath) {
		opts.Subscriptions = feed.NewFetcher("", 0)
	}
	c := &Catalog{fetcher: fetcher, opts: opts}
	c.current.Store(&Snapshot{Events: []model.Event{}})
	return c
}

// Current returns the latest published snapshot.
func (c *Catalog) Current() *Snapshot {
	return c.current.Load()
}

// Refresh reloads the collection and publishes it. It never fails: when
// the remote source is unconfigured, unreachable or returns a bad body
// the fallback dataset is used, and a broken fallback yields an empty
// collection.
func (c *Catalog) Refresh(ctx context.Context) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	snap := &Snapshot{LoadedAt: now}

	var raws []events.Raw
	res := c.fetcher.FetchRawEvents(ctx)
	snap.Outcome, snap.Err = res.Outcome, res.Err
	if res.OK() {
		snap.Source = SourceRemote
		raws = res.Value
	} else {
		snap.Source = SourceFallback
		fb, err := c.loadFallback(ctx)
		if err != nil {
			appLog.Error("catalog: failed to load fallback dataset", err, "path", c.fallbackLabel())
		}
		raws = fb
	}

	raws, snap.Series = events.ExpandSeries(raws, c.seriesConfig(now))
	snap.Events = events.NormalizeAll(raws, now)

	c.current.Store(snap)
	metrics.SetCatalog(snap.Source, len(snap.Events), now)
	appLog.Info("catalog refreshed",
		"source", snap.Source,
		"outcome", snap.Outcome,
		"events", len(snap.Events),
		"series", snap.Series.Series,
	)
	return snap
}

// loadFallback reads the fallback dataset: the bundled JSON when no path
// is set, a calendar subscription for URLs, an iCalendar file for .ics
// paths, JSON otherwise.
func (c *Catalog) loadFallback(ctx context.Context) ([]events.Raw, error) {
	path := c.opts.FallbackPath
	switch {
	case feed.IsRemote(path):
		res, err := c.opts.Subscriptions.Fetch(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("fetch fallback calendar: %w", err)
		}
		raws, err := feed.ReadICS(res.Body)
		if err != nil {
			return nil, fmt.Errorf("decode fallback calendar: %w", err)
		}
		return raws, nil
	case strings.EqualFold(filepath.Ext(path), ".ics"):
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read fallback calendar: %w", err)
		}
		raws, err := feed.ReadICS(body)
		if err != nil {
			return nil, fmt.Errorf("decode fallback calendar %q: %w", path, err)
		}
		return raws, nil
	default:
		return events.LoadFallback(path)
	}
}

// fallbackLabel is FallbackPath safe for logs.
func (c *Catalog) fallbackLabel() string {
	if feed.IsRemote(c.opts.FallbackPath) {
		return "(subscription)"
	}
	return c.opts.FallbackPath
}

func (c *Catalog) seriesConfig(now time.Time) events.SeriesConfig {
	cfg := events.SeriesConfig{MaxOccurrences: c.opts.MaxOccurrences, Now: now}
	if c.opts.HorizonDays > 0 {
		cfg.RangeStart = now.AddDate(0, 0, -c.opts.HorizonDays)
		cfg.RangeEnd = now.AddDate(0, 0, c.opts.HorizonDays)
	}
	return cfg
}
