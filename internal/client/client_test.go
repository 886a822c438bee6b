package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"espressomap/internal/model"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestClient(baseURL string, timeout time.Duration) *Client {
	return New(Config{
		BaseURL: baseURL,
		Timeout: timeout,
		Now:     func() time.Time { return fixedNow },
	})
}

func TestFetchEvents_Unconfigured(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := newTestClient("", 0)
	res := c.FetchEvents(context.Background())

	if res.OK() || res.Outcome != Unconfigured {
		t.Fatalf("outcome = %s, want unconfigured", res.Outcome)
	}
	if !errors.Is(res.Err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", res.Err)
	}
	if res.Value != nil {
		t.Errorf("value = %v, want nil", res.Value)
	}
	if hits.Load() != 0 {
		t.Errorf("unconfigured client made %d requests", hits.Load())
	}
	if c.Ping(context.Background()) {
		t.Error("Ping should be false when unconfigured")
	}
	if got := c.SearchEvents(context.Background(), "x"); got == nil || len(got) != 0 {
		t.Errorf("SearchEvents = %#v, want empty non-nil", got)
	}
}

func TestFetchEvents_WrappedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			t.Errorf("path = %s, want /events", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"events": [
			{"id": "1", "location": "Denver, USA", "longitude": -104.99, "date": "2023-01-01"},
			{"id": "2", "city": "Paris, France", "lng": 2.35, "date": "2030-01-01"}
		]}`)
	}))
	defer srv.Close()

	res := newTestClient(srv.URL+"/", 0).FetchEvents(context.Background())
	if !res.OK() {
		t.Fatalf("outcome = %s err = %v", res.Outcome, res.Err)
	}
	if len(res.Value) != 2 {
		t.Fatalf("got %d events, want 2", len(res.Value))
	}
	for _, ev := range res.Value {
		if ev.Latitude != 0 {
			t.Errorf("event %s latitude = %v, want 0 when missing", ev.ID, ev.Latitude)
		}
	}
	if res.Value[0].Type != model.TypePast || res.Value[1].Type != model.TypeUpcoming {
		t.Errorf("types = %s, %s", res.Value[0].Type, res.Value[1].Type)
	}
	if res.Value[1].Location != "Paris, France" || res.Value[1].Longitude != 2.35 {
		t.Errorf("aliases not applied: %+v", res.Value[1])
	}
}

func TestFetchEvents_BareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id": "a"}]`)
	}))
	defer srv.Close()

	res := newTestClient(srv.URL, 0).FetchEvents(context.Background())
	if !res.OK() || len(res.Value) != 1 || res.Value[0].ID != "a" {
		t.Fatalf("result = %+v", res)
	}
}

func TestFetchEvents_Failures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    Outcome
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}, Unreachable},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}, Unreachable},
		{"wrong object", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"data": []}`)
		}, BadShape},
		{"scalar", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `"hello"`)
		}, BadShape},
		{"invalid json", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `<html>`)
		}, BadShape},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			res := newTestClient(srv.URL, 0).FetchEvents(context.Background())
			if res.Outcome != tc.want {
				t.Errorf("outcome = %s, want %s (err %v)", res.Outcome, tc.want, res.Err)
			}
			if res.Value != nil {
				t.Errorf("value = %v, want nil", res.Value)
			}
		})
	}
}

func TestFetchEvents_StatusErrorCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "maintenance")
	}))
	defer srv.Close()

	res := newTestClient(srv.URL, 0).FetchEvents(context.Background())
	var se *StatusError
	if !errors.As(res.Err, &se) {
		t.Fatalf("err = %v, want *StatusError", res.Err)
	}
	if se.StatusCode != http.StatusServiceUnavailable || se.Body != "maintenance" {
		t.Errorf("status error = %+v", se)
	}
}

func TestFetchEvents_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	started := time.Now()
	res := newTestClient(srv.URL, 50*time.Millisecond).FetchEvents(context.Background())
	elapsed := time.Since(started)

	if res.Outcome != Unreachable {
		t.Fatalf("outcome = %s, want unreachable", res.Outcome)
	}
	if !errors.Is(res.Err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", res.Err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("timed out call took %s", elapsed)
	}
}

func TestFetchEvents_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := newTestClient(url, time.Second).FetchEvents(context.Background())
	if res.Outcome != Unreachable || res.Err == nil {
		t.Errorf("outcome = %s err = %v", res.Outcome, res.Err)
	}
}

func TestFetchEventByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.EscapedPath() {
		case "/events/berlin%202023":
			io.WriteString(w, `{"id": "berlin 2023", "location": "Berlin, Germany", "lat": "52.52"}`)
		case "/events/list":
			io.WriteString(w, `[]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv.URL, 0)

	res := c.FetchEventByID(context.Background(), "berlin 2023")
	if !res.OK() || res.Value.Location != "Berlin, Germany" || res.Value.Latitude != 52.52 {
		t.Errorf("result = %+v", res)
	}

	if res := c.FetchEventByID(context.Background(), "missing"); res.Outcome != Unreachable {
		t.Errorf("missing: outcome = %s", res.Outcome)
	}
	if res := c.FetchEventByID(context.Background(), "list"); res.Outcome != BadShape {
		t.Errorf("array body: outcome = %s", res.Outcome)
	}
}

func TestSearchEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events/search" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("q") {
		case "coffee & code":
			io.WriteString(w, `{"events": [{"id": "x", "title": "Coffee & Code"}]}`)
		case "broken":
			io.WriteString(w, `{"results": []}`)
		default:
			http.Error(w, "nope", http.StatusBadGateway)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv.URL, 0)

	got := c.SearchEvents(context.Background(), "coffee & code")
	if len(got) != 1 || got[0].ID != "x" {
		t.Errorf("search = %+v", got)
	}
	for _, q := range []string{"broken", "down"} {
		got := c.SearchEvents(context.Background(), q)
		if got == nil || len(got) != 0 {
			t.Errorf("search %q = %#v, want empty non-nil", q, got)
		}
	}
}

func TestPing(t *testing.T) {
	status := `{"status": "ok"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, status)
	}))
	defer srv.Close()
	c := newTestClient(srv.URL, 0)

	if !c.Ping(context.Background()) {
		t.Error("Ping = false, want true")
	}
	status = `{"status": "degraded"}`
	if c.Ping(context.Background()) {
		t.Error("Ping = true for degraded status")
	}
	status = `garbage`
	if c.Ping(context.Background()) {
		t.Error("Ping = true for garbage body")
	}
}

func TestTrackEvent(t *testing.T) {
	got := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/analytics" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	newTestClient(srv.URL, 0).TrackEvent(context.Background(), "marker_click", map[string]any{
		"eventId": "denver-2023-01",
	})

	body := <-got
	if body["event"] != "marker_click" || body["eventId"] != "denver-2023-01" {
		t.Errorf("payload = %v", body)
	}
	if body["timestamp"] != "2026-10-19T12:00:00.000Z" {
		t.Errorf("timestamp = %v", body["timestamp"])
	}
}

func TestTrackEvent_DataOverridesAndFailuresAreSwallowed(t *testing.T) {
	got := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		got <- body
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	newTestClient(srv.URL, 0).TrackEvent(context.Background(), "view", map[string]any{"timestamp": "custom"})
	if body := <-got; body["timestamp"] != "custom" {
		t.Errorf("data should override timestamp, got %v", body["timestamp"])
	}

	// Unconfigured: returns without panicking or blocking.
	newTestClient("", 0).TrackEvent(context.Background(), "view", nil)
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://user:pw@api.example.com/events/search?q=secret"); got != "https://api.example.com/events/search" {
		t.Errorf("redactURL = %q", got)
	}
}
