package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.Inc(EventJoin)
	m.Inc(EventJoin)
	m.Inc(EventRateLimited)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `huddle_relay_events_total{event="join"} 2`) {
		t.Errorf("missing join counter:\n%s", body)
	}
	if !strings.Contains(body, `huddle_relay_events_total{event="rate_limited"} 1`) {
		t.Errorf("missing rate_limited counter:\n%s", body)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := New()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				m.Inc(EventRelayed)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if got := m.Get(EventRelayed); got != 800 {
		t.Fatalf("counter = %d, want 800", got)
	}
}
