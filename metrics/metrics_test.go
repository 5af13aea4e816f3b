package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	r := New()
	r.ActiveConnections.WithLabelValues("server").Set(3)
	r.BytesTotal.WithLabelValues("download", "rx").Add(4096)
	r.PhaseDuration.WithLabelValues("download").Observe(0.25)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"nettest_active_connections",
		"nettest_bytes_total",
		"nettest_phase_duration_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics body missing %q", want)
		}
	}
}
