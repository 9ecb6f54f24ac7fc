package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestLatencyTracker(t *testing.T) {
	tracker := NewLatencyTracker(0.01)

	// Record some sample latencies for each transfer phase
	operations := []string{OpLookup, OpDownload, OpUnpack, OpPack, OpUpload}

	for _, op := range operations {
		// Record a variety of latencies
		tracker.Record(op, 1*time.Millisecond)
		tracker.Record(op, 5*time.Millisecond)
		tracker.Record(op, 10*time.Millisecond)
		tracker.Record(op, 50*time.Millisecond)
		tracker.Record(op, 100*time.Millisecond)
	}

	// Test GetStats for each operation
	for _, op := range operations {
		stats, err := tracker.GetStats(op)
		if err != nil {
			t.Errorf("Failed to get stats for %s: %v", op, err)
			continue
		}

		if stats.Count != 5 {
			t.Errorf("Expected count 5 for %s, got %d", op, stats.Count)
		}

		if stats.Min < 0.9 || stats.Min > 1.1 {
			t.Errorf("Expected min ~1ms for %s, got %.2fms", op, stats.Min)
		}

		if stats.Max < 99 || stats.Max > 101 {
			t.Errorf("Expected max ~100ms for %s, got %.2fms", op, stats.Max)
		}

		// P50 should be around 10ms
		if stats.P50 < 5 || stats.P50 > 15 {
			t.Errorf("Expected p50 ~10ms for %s, got %.2fms", op, stats.P50)
		}

		// P99 should be reasonably high (we only have 5 samples, so it's approximate)
		if stats.P99 < 40 || stats.P99 > 110 {
			t.Errorf("Expected p99 between 40-110ms for %s, got %.2fms", op, stats.P99)
		}
	}

	// Test GetAllStats
	allStats := tracker.GetAllStats()
	if len(allStats) != len(operations) {
		t.Errorf("Expected %d operations in GetAllStats, got %d", len(operations), len(allStats))
	}
	for i := 1; i < len(allStats); i++ {
		if allStats[i-1].Operation > allStats[i].Operation {
			t.Errorf("Expected GetAllStats sorted by operation, got %v before %v",
				allStats[i-1].Operation, allStats[i].Operation)
		}
	}

	// Test non-existent operation
	if _, err := tracker.GetStats("does-not-exist"); err == nil {
		t.Error("Expected error for unknown operation")
	}
}

func TestRecordFunc(t *testing.T) {
	tracker := NewLatencyTracker(0.01)

	wantErr := errors.New("boom")
	err := tracker.RecordFunc(OpUpload, func() error {
		time.Sleep(2 * time.Millisecond)
		return wantErr
	})
	if err != wantErr {
		t.Errorf("Expected RecordFunc to return the function's error, got %v", err)
	}

	// The duration is recorded even when the function fails
	stats, err := tracker.GetStats(OpUpload)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Count != 1 {
		t.Errorf("Expected count 1, got %d", stats.Count)
	}
	if stats.Min < 1 {
		t.Errorf("Expected min >= 1ms, got %.2fms", stats.Min)
	}
}
