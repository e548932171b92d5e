package rangeserver

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsObserveUpdate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveUpdate(time.Millisecond, nil)
	m.ObserveUpdate(time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(m.updates.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 ok update, got %v", got)
	}
	if got := testutil.ToFloat64(m.updates.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 error update, got %v", got)
	}
}

func TestMetricsObserveScan(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveScan(500*time.Microsecond, nil)
	if got := testutil.ToFloat64(m.scans.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 ok scan, got %v", got)
	}
}

func TestMetricsObserveCompaction(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveCompaction(CompactMinor, 10*time.Millisecond)
	m.ObserveCompaction(CompactMajor, 100*time.Millisecond)

	if got := testutil.ToFloat64(m.compactions.WithLabelValues("minor")); got != 1 {
		t.Errorf("expected 1 minor compaction, got %v", got)
	}
	if got := testutil.ToFloat64(m.compactions.WithLabelValues("major")); got != 1 {
		t.Errorf("expected 1 major compaction, got %v", got)
	}
}

func TestMetricsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SetRangesLoaded(3)
	m.SetScannersOpen(2)
	m.SetMemoryUsed(4096)

	if got := testutil.ToFloat64(m.rangesLoaded); got != 3 {
		t.Errorf("expected 3 ranges loaded, got %v", got)
	}
	if got := testutil.ToFloat64(m.scannersOpen); got != 2 {
		t.Errorf("expected 2 scanners open, got %v", got)
	}
	if got := testutil.ToFloat64(m.memoryUsed); got != 4096 {
		t.Errorf("expected 4096 memory used, got %v", got)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics(nil)
	time.Sleep(5 * time.Millisecond)
	if m.Uptime() < 5*time.Millisecond {
		t.Errorf("expected uptime >= 5ms, got %v", m.Uptime())
	}
}

func TestMetricsCommitLogSync(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveCommitLogSync(2 * time.Millisecond)
	if got := testutil.ToFloat64(m.logSyncs); got != 1 {
		t.Errorf("expected 1 commit log sync, got %v", got)
	}
}
