package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOutcome(t *testing.T) {
	before := testutil.ToFloat64(clientRequests.WithLabelValues("events", "unreachable"))
	ObserveOutcome("events", "unreachable")
	ObserveOutcome("events", "unreachable")
	after := testutil.ToFloat64(clientRequests.WithLabelValues("events", "unreachable"))
	if after-before != 2 {
		t.Errorf("counter moved by %v, want 2", after-before)
	}
}

func TestSetCatalogKeepsOnlyCurrentSource(t *testing.T) {
	at := time.Unix(1_800_000_000, 0)
	SetCatalog("remote", 12, at)
	SetCatalog("fallback", 7, at.Add(time.Minute))

	if got := testutil.ToFloat64(catalogEvents.WithLabelValues("fallback")); got != 7 {
		t.Errorf("fallback gauge = %v, want 7", got)
	}
	if got := testutil.ToFloat64(catalogEvents.WithLabelValues("remote")); got != 0 {
		t.Errorf("stale remote gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(catalogLastRefresh); got != float64(at.Add(time.Minute).Unix()) {
		t.Errorf("last refresh = %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveOutcome("health", "ok")
	ObserveDuration("health", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Result().Body)
	for _, want := range []string{
		`espressomap_client_requests_total{operation="health",outcome="ok"}`,
		`espressomap_client_request_duration_seconds_bucket{operation="health"`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
