package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCallLifecycle(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordCallStart()
	m.RecordCallStart()
	m.RecordCallEnd("hangup", "high", 90, 12)

	if got := testutil.ToFloat64(m.CallsActive); got != 1 {
		t.Errorf("expected 1 active call, got %v", got)
	}
	if got := testutil.ToFloat64(m.CallsEnded.WithLabelValues("hangup", "high")); got != 1 {
		t.Errorf("expected 1 ended call, got %v", got)
	}
}

func TestRecordSegment(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordSegment("Caller", 3)
	m.RecordSegment("You", 0)

	if got := testutil.ToFloat64(m.KeywordMatches); got != 3 {
		t.Errorf("expected 3 matches, got %v", got)
	}
	if got := testutil.ToFloat64(m.SegmentsDelivered.WithLabelValues("Caller")); got != 1 {
		t.Errorf("expected 1 caller segment, got %v", got)
	}
}

func TestRecordAnalysis_CountsErrors(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordAnalysis("mock", "scam-patterns", nil, 0.1)
	m.RecordAnalysis("mock", "scam-patterns", errors.New("boom"), 0.1)

	if got := testutil.ToFloat64(m.AnalysisErrors.WithLabelValues("mock", "scam-patterns")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{409, "4xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		if got := statusClass(tt.status); got != tt.expected {
			t.Errorf("statusClass(%d) = %s, want %s", tt.status, got, tt.expected)
		}
	}
}
