package otel

import (
	"context"
	"testing"

	sessionkit "github.com/sessionkit/sessionkit"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
)

type fakeSource struct {
	snapshot sessionkit.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() sessionkit.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	values := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					values[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					values[m.Name] = dp.Value
				}
			}
		}
	}
	return values
}

func TestExporterObservesSnapshot(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.Empty()),
	)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	otel.SetMeterProvider(provider)

	source := fakeSource{
		snapshot: sessionkit.MetricsSnapshot{
			Counters: map[sessionkit.MetricID]uint64{
				sessionkit.MetricVerifySuccess: 9,
				sessionkit.MetricTheftDetected: 2,
			},
			Histograms: map[sessionkit.MetricID][]uint64{
				sessionkit.MetricVerifyLatency: {4, 0, 1, 0, 0, 0, 0, 0},
			},
		},
		dropped: 5,
	}

	exporter, err := NewOTelExporterFromSource(otel.Meter("sessionkit-test"), source)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource: %v", err)
	}
	defer exporter.Close()

	values := collect(t, reader)
	checks := map[string]int64{
		"sessionkit_verify_success_total":                   9,
		"sessionkit_theft_detected_total":                   2,
		"sessionkit_verify_failure_total":                   0,
		"sessionkit_audit_dropped_total":                    5,
		"sessionkit_verify_latency_seconds_bucket_le_0_005": 4,
		"sessionkit_verify_latency_seconds_bucket_le_0_025": 5,
		"sessionkit_verify_latency_seconds_bucket_le_inf":   5,
		"sessionkit_verify_latency_seconds_count":           5,
	}
	for name, want := range checks {
		if got, ok := values[name]; !ok || got != want {
			t.Errorf("%s = %d (present %v), want %d", name, got, ok, want)
		}
	}
}

func TestExporterValidatesArguments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	if _, err := NewOTelExporterFromSource(nil, fakeSource{}); err != ErrNilMeter {
		t.Fatalf("nil meter err = %v", err)
	}
	if _, err := NewOTelExporterFromSource(provider.Meter("t"), nil); err != ErrNilSource {
		t.Fatalf("nil source err = %v", err)
	}
}

func TestExporterCloseUnregistersCallback(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	source := fakeSource{
		snapshot: sessionkit.MetricsSnapshot{
			Counters: map[sessionkit.MetricID]uint64{sessionkit.MetricVerifySuccess: 1},
		},
	}
	exporter, err := NewOTelExporterFromSource(provider.Meter("t"), source)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	values := collect(t, reader)
	if v, ok := values["sessionkit_verify_success_total"]; ok && v != 0 {
		t.Fatalf("observed %d after Unregister", v)
	}

	// closing again is a no-op
	var nilExporter *OTelExporter
	if err := nilExporter.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}
