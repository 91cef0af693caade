package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"

	sessionkit "github.com/sessionkit/sessionkit"
)

type fakeSource struct {
	snapshot sessionkit.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() sessionkit.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func sampleSource() fakeSource {
	return fakeSource{
		snapshot: sessionkit.MetricsSnapshot{
			Counters: map[sessionkit.MetricID]uint64{
				sessionkit.MetricVerifySuccess: 42,
				sessionkit.MetricVerifyFailure: 3,
				sessionkit.MetricTheftDetected: 1,
			},
			Histograms: map[sessionkit.MetricID][]uint64{
				// one observation in the 0-5ms bucket, two in 10-25ms
				sessionkit.MetricVerifyLatency: {1, 0, 2, 0, 0, 0, 0, 0},
			},
		},
		dropped: 7,
	}
}

func TestRenderCounters(t *testing.T) {
	out := NewPrometheusExporterFromSource(sampleSource()).Render()

	for _, want := range []string{
		"# TYPE sessionkit_verify_success_total counter",
		"sessionkit_verify_success_total 42",
		"sessionkit_verify_failure_total 3",
		"sessionkit_theft_detected_total 1",
		"sessionkit_session_created_total 0",
		"sessionkit_audit_dropped_total 7",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestRenderHistogramIsCumulative(t *testing.T) {
	out := NewPrometheusExporterFromSource(sampleSource()).Render()

	for _, want := range []string{
		"# TYPE sessionkit_verify_latency_seconds histogram",
		`sessionkit_verify_latency_seconds_bucket{le="0.005"} 1`,
		`sessionkit_verify_latency_seconds_bucket{le="0.01"} 1`,
		`sessionkit_verify_latency_seconds_bucket{le="0.025"} 3`,
		`sessionkit_verify_latency_seconds_bucket{le="+Inf"} 3`,
		"sessionkit_verify_latency_seconds_count 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestRenderEmptySource(t *testing.T) {
	if out := NewPrometheusExporterFromSource(fakeSource{}).Render(); out != "" {
		t.Fatalf("empty source rendered %q", out)
	}
	var nilExporter *PrometheusExporter
	if out := nilExporter.Render(); out != "" {
		t.Fatalf("nil exporter rendered %q", out)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	NewPrometheusExporterFromSource(sampleSource()).Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("Content-Type = %q", got)
	}
	if !strings.Contains(rec.Body.String(), "sessionkit_verify_success_total 42") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestRenderAgainstLiveEngine(t *testing.T) {
	engine, err := sessionkit.New().
		WithConnection("http://localhost:3567", "").
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	out := NewPrometheusExporter(engine).Render()
	if !strings.Contains(out, "sessionkit_verify_success_total 0") {
		t.Fatalf("live engine output missing zeroed counter:\n%s", out)
	}
}
