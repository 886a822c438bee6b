package web

import (
	"bytes"
	"encoding/json"
	"context"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"espressomap/internal/feed"
	"espressomap/internal/filter"
	"espressomap/internal/geo"
	appLog "espressomap/internal/log"
	"espressomap/internal/model"
)

const (
	// maxTrackBody bounds POST /api/track bodies.
	maxTrackBody = 64 << 10
	// trackTimeout bounds a forwarded analytics call once the request
	// that triggered it has been answered.
	trackTimeout = 10 * time.Second
)

// point is a (lon, lat) pair in the order map libraries expect.
type point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// eventView is an event plus the marker attributes the map draws with.
type eventView struct {
	model.Event
	Color     string `json:"color"`
	Continent string `json:"continent"`
}

func viewsOf(evs []model.Event) []eventView {
	out := make([]eventView, len(evs))
	for i, ev := range evs {
		out[i] = eventView{
			Event:     ev,
			Color:     geo.MarkerColor(ev.ID),
			Continent: geo.RegionOf(ev.Latitude, ev.Longitude),
		}
	}
	return out
}

// located keeps events whose coordinates can be put on the map: valid
// and not the (0,0) placeholder the normalizer emits for missing data.
func located(evs []model.Event) []model.Event {
	out := make([]model.Event, 0, len(evs))
	for _, ev := range evs {
		if ev.Latitude == 0 && ev.Longitude == 0 {
			continue
		}
		if geo.IsValidCoordinate(ev.Latitude, ev.Longitude) {
			out = append(out, ev)
		}
	}
	return out
}

type eventsResponse struct {
	Events []eventView `json:"events"`
	Total  int         `json:"total"`
	Center point       `json:"center"`
	Zoom   int         `json:"zoom"`
	Source string      `json:"source"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents returns the filtered events plus the map viewport.
//
// GET /api/events?type=upcoming&region=USA&search=roast
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snap := s.opts.Catalog.Current()
	evs := filter.Apply(snap.Events, filter.ParseSpec(r.URL.Query()))

	onMap := located(evs)
	lon, lat := geo.CenterPoint(onMap)

	writeJSON(w, http.StatusOK, eventsResponse{
		Events: viewsOf(evs),
		Total:  len(evs),
		Center: point{Lon: lon, Lat: lat},
		Zoom:   geo.OptimalZoom(onMap),
		Source: snap.Source,
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ev, ok := s.opts.Catalog.Current().Find(id)
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, viewsOf([]model.Event{ev})[0])
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	evs := filter.Apply(s.opts.Catalog.Current().Events, filter.ParseSpec(r.URL.Query()))
	sorted := filter.SortForDisplay(evs)
	writeJSON(w, http.StatusOK, map[string]any{
		"events": viewsOf(sorted),
		"total":  len(sorted),
	})
}

type groupView struct {
	Center      point       `json:"center"`
	Coordinates string      `json:"coordinates"`
	Count       int         `json:"count"`
	Events      []eventView `json:"events"`
}

// handleGroups clusters the filtered, mappable events around seeds.
//
// GET /api/groups?threshold_km=100
func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	threshold := s.opts.ProximityKm
	if v := strings.TrimSpace(q.Get("threshold_km")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
			writeError(w, http.StatusBadRequest, "threshold_km must be a positive number")
			return
		}
		threshold = f
	}

	evs := located(filter.Apply(s.opts.Catalog.Current().Events, filter.ParseSpec(q)))
	groups := geo.GroupByProximity(evs, threshold)

	out := make([]groupView, 0, len(groups))
	for _, g := range groups {
		lon, lat := geo.CenterPoint(g)
		out = append(out, groupView{
			Center:      point{Lon: lon, Lat: lat},
			Coordinates: geo.FormatCoordinates(lat, lon),
			Count:       len(g),
			Events:      viewsOf(g),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups":       out,
		"threshold_km": threshold,
	})
}

func (s *Server) handleRegions(w http.ResponseWriter, _ *http.Request) {
	evs := s.opts.Catalog.Current().Events
	writeJSON(w, http.StatusOK, map[string]any{
		"regions": filter.Regions(evs),
		"stats":   filter.Summarize(evs),
	})
}

// handleSearch forwards to the remote search endpoint. Failures there
// come back as an empty list.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q")
		return
	}
	evs := s.opts.Remote.SearchEvents(r.Context(), q)
	writeJSON(w, http.StatusOK, map[string]any{
		"events": viewsOf(evs),
		"total":  len(evs),
	})
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	evs := filter.Apply(s.opts.Catalog.Current().Events, filter.ParseSpec(r.URL.Query()))

	var buf bytes.Buffer
	if err := feed.WriteICS(&buf, evs, s.opts.Now()); err != nil {
		appLog.Error("api calendar: render failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="espresso-events.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type trackRequest struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// handleTrack forwards an analytics event to the remote source without
// waiting for it.
//
// POST /api/track {"event": "marker_click", "data": {"eventId": "..."}}
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxTrackBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Event = strings.TrimSpace(req.Event)
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}

	detached := context.WithoutCancel(r.Context())
	s.tracking.Add(1)
	go func() {
		defer s.tracking.Done()
		ctx, cancel := context.WithTimeout(detached, trackTimeout)
		defer cancel()
		s.opts.Remote.TrackEvent(ctx, req.Event, req.Data)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type refreshResponse struct {
	Source   string    `json:"source"`
	Outcome  string    `json:"outcome"`
	Total    int       `json:"total"`
	LoadedAt time.Time `json:"loaded_at"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap := s.opts.Catalog.Refresh(r.Context())
	writeJSON(w, http.StatusOK, refreshResponse{
		Source:   snap.Source,
		Outcome:  string(snap.Outcome),
		Total:    len(snap.Events),
		LoadedAt: snap.LoadedAt,
	})
}
