package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsIsolatedRegistries(t *testing.T) {
	// Two instances on separate registries must not collide
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())

	a.RecordActivation()
	a.RecordActivation()
	b.RecordActivation()

	if got := testutil.ToFloat64(a.GateActivations); got != 2 {
		t.Errorf("Expected 2 activations, got %v", got)
	}
	if got := testutil.ToFloat64(b.GateActivations); got != 1 {
		t.Errorf("Expected 1 activation, got %v", got)
	}
}

func TestRecordBlock(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordBlock(true)
	m.RecordBlock(true)
	m.RecordBlock(false)

	if got := testutil.ToFloat64(m.BlocksReceived); got != 3 {
		t.Errorf("Expected 3 blocks received, got %v", got)
	}
	if got := testutil.ToFloat64(m.BlocksDropped); got != 1 {
		t.Errorf("Expected 1 block dropped, got %v", got)
	}
}

func TestRecordAnalysis(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAnalysis(0.2, 0.001, true)
	m.RecordAnalysis(0.999, 0.001, false)

	if got := testutil.ToFloat64(m.Analyses); got != 2 {
		t.Errorf("Expected 2 analyses, got %v", got)
	}
	if got := testutil.ToFloat64(m.TonalAnomalies); got != 1 {
		t.Errorf("Expected 1 tonal anomaly, got %v", got)
	}
}

func TestRecordRecording(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRecording(684, 5)

	if got := testutil.ToFloat64(m.RecordingsEncoded); got != 1 {
		t.Errorf("Expected 1 recording, got %v", got)
	}
	if got := testutil.ToFloat64(m.BlocksAccumulated); got != 5 {
		t.Errorf("Expected 5 accumulated blocks, got %v", got)
	}
}
