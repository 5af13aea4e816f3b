package calc

import "testing"

func sec(n float64) int64 { return int64(n * 1e9) }

func TestThroughputSingleThreadLinearRamp(t *testing.T) {
	// One thread transferring bytes at a constant 100 MB/s for 3s.
	samples := []Sample{
		{NanosElapsed: sec(0), BytesTotal: 0},
		{NanosElapsed: sec(1), BytesTotal: 100_000_000},
		{NanosElapsed: sec(2), BytesTotal: 200_000_000},
		{NanosElapsed: sec(3), BytesTotal: 300_000_000},
	}
	res, err := Throughput([][]Sample{samples})
	if err != nil {
		t.Fatalf("Throughput: %v", err)
	}
	if res.TStar != sec(2) {
		t.Fatalf("TStar = %d, want %d", res.TStar, sec(2))
	}
	if res.AggregateBytes != 200_000_000 {
		t.Fatalf("AggregateBytes = %d, want 200000000", res.AggregateBytes)
	}
	wantBps := 8 * 200_000_000.0 / 2.0
	if res.BitsPerSecond != wantBps {
		t.Fatalf("BitsPerSecond = %v, want %v", res.BitsPerSecond, wantBps)
	}
}

func TestThroughputMultiThreadUsesSlowestForTStar(t *testing.T) {
	fast := []Sample{
		{NanosElapsed: sec(0), BytesTotal: 0},
		{NanosElapsed: sec(5), BytesTotal: 500_000_000},
	}
	slow := []Sample{
		{NanosElapsed: sec(0), BytesTotal: 0},
		{NanosElapsed: sec(2), BytesTotal: 100_000_000},
	}
	res, err := Throughput([][]Sample{fast, slow})
	if err != nil {
		t.Fatalf("Throughput: %v", err)
	}
	// slow thread ends at 2s, so t* = 2s - 1s = 1s.
	if res.TStar != sec(1) {
		t.Fatalf("TStar = %d, want %d", res.TStar, sec(1))
	}
}

func TestThroughputNoWarmupSurvivalReturnsZero(t *testing.T) {
	samples := []Sample{
		{NanosElapsed: sec(0), BytesTotal: 0},
		{NanosElapsed: sec(0.5), BytesTotal: 1000},
	}
	res, err := Throughput([][]Sample{samples})
	if err != nil {
		t.Fatalf("Throughput: %v", err)
	}
	if res.TStar != 0 || res.AggregateBytes != 0 {
		t.Fatalf("expected zero result for sub-warmup run, got %+v", res)
	}
}

func TestThroughputNoThreadsReturnsZero(t *testing.T) {
	res, err := Throughput(nil)
	if err != nil {
		t.Fatalf("Throughput: %v", err)
	}
	if res != (Result{}) {
		t.Fatalf("expected zero Result, got %+v", res)
	}
}

func TestThroughputEmptyThreadIgnored(t *testing.T) {
	samples := []Sample{
		{NanosElapsed: sec(0), BytesTotal: 0},
		{NanosElapsed: sec(3), BytesTotal: 300_000_000},
	}
	res, err := Throughput([][]Sample{samples, {}})
	if err != nil {
		t.Fatalf("Throughput: %v", err)
	}
	if res.TStar != sec(2) {
		t.Fatalf("TStar = %d, want %d (empty thread should be ignored)", res.TStar, sec(2))
	}
}

func TestInterpolateAtBeforeFirstSample(t *testing.T) {
	s := []Sample{{NanosElapsed: sec(1), BytesTotal: 500}}
	if got := interpolateAt(s, sec(0.5)); got != 0 {
		t.Fatalf("interpolateAt before first sample = %d, want 0", got)
	}
}

func TestInterpolateAtAfterLastSample(t *testing.T) {
	s := []Sample{
		{NanosElapsed: sec(0), BytesTotal: 0},
		{NanosElapsed: sec(1), BytesTotal: 500},
	}
	if got := interpolateAt(s, sec(5)); got != 500 {
		t.Fatalf("interpolateAt after last sample = %d, want 500 (no extrapolation)", got)
	}
}

func TestInterpolateAtSharedTimestampUsesLaterValue(t *testing.T) {
	s := []Sample{
		{NanosElapsed: sec(1), BytesTotal: 100},
		{NanosElapsed: sec(1), BytesTotal: 200},
		{NanosElapsed: sec(2), BytesTotal: 300},
	}
	if got := interpolateAt(s, sec(1)); got != 200 {
		t.Fatalf("interpolateAt at shared timestamp = %d, want 200 (later value)", got)
	}
}
