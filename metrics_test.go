package sessionkit

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	m.Inc(MetricVerifySuccess)
	m.Observe(MetricVerifyLatency, 10*time.Millisecond)

	if m.Enabled() || m.LatencyEnabled() {
		t.Fatal("disabled metrics report enabled")
	}
	if m.Value(MetricVerifySuccess) != 0 {
		t.Fatal("disabled metrics counted")
	}
	snapshot := m.Snapshot()
	if len(snapshot.Counters) != 0 || len(snapshot.Histograms) != 0 {
		t.Fatalf("disabled snapshot = %+v", snapshot)
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricVerifySuccess)
	if nilMetrics.Value(MetricVerifySuccess) != 0 || nilMetrics.Enabled() {
		t.Fatal("nil Metrics misbehaved")
	}
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	for i := 0; i < 3; i++ {
		m.Inc(MetricVerifySuccess)
	}
	m.Inc(MetricVerifyFailure)
	m.Inc(metricIDCount + 1) // out of range, ignored

	if got := m.Value(MetricVerifySuccess); got != 3 {
		t.Fatalf("Value(VerifySuccess) = %d", got)
	}
	snapshot := m.Snapshot()
	if snapshot.Counters[MetricVerifySuccess] != 3 || snapshot.Counters[MetricVerifyFailure] != 1 {
		t.Fatalf("snapshot = %+v", snapshot.Counters)
	}
	if snapshot.Counters[MetricTheftDetected] != 0 {
		t.Fatalf("untouched counter = %d", snapshot.Counters[MetricTheftDetected])
	}
}

func TestMetricsLatencyGating(t *testing.T) {
	// latency histograms off: Observe is a no-op even when counters are on
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricVerifyLatency, 10*time.Millisecond)
	if hist := m.Snapshot().Histograms; len(hist) != 0 {
		t.Fatalf("histograms recorded while disabled: %+v", hist)
	}

	m = NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	if !m.LatencyEnabled() {
		t.Fatal("LatencyEnabled = false")
	}

	// only latency metrics accept observations
	m.Observe(MetricVerifySuccess, 10*time.Millisecond)
	m.Observe(MetricVerifyLatency, 3*time.Millisecond)   // bucket 0
	m.Observe(MetricVerifyLatency, 40*time.Millisecond)  // bucket 3
	m.Observe(MetricRefreshLatency, 999*time.Millisecond) // bucket 7

	snapshot := m.Snapshot()
	verify := snapshot.Histograms[MetricVerifyLatency]
	refresh := snapshot.Histograms[MetricRefreshLatency]
	if len(verify) != histBucketCount || len(refresh) != histBucketCount {
		t.Fatalf("histogram sizes = %d/%d", len(verify), len(refresh))
	}
	if verify[0] != 1 || verify[3] != 1 {
		t.Fatalf("verify buckets = %v", verify)
	}
	if refresh[7] != 1 {
		t.Fatalf("refresh buckets = %v", refresh)
	}
}

func TestBucketIndexBoundaries(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{5 * time.Millisecond, 0},
		{6 * time.Millisecond, 1},
		{10 * time.Millisecond, 1},
		{25 * time.Millisecond, 2},
		{50 * time.Millisecond, 3},
		{100 * time.Millisecond, 4},
		{250 * time.Millisecond, 5},
		{500 * time.Millisecond, 6},
		{501 * time.Millisecond, 7},
		{10 * time.Second, 7},
	}
	for _, tc := range cases {
		if got := bucketIndex(tc.d); got != tc.want {
			t.Errorf("bucketIndex(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers = 8
	const perWorker = 1000
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricVerifySuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricVerifySuccess); got != workers*perWorker {
		t.Fatalf("Value = %d, want %d", got, workers*perWorker)
	}
}
