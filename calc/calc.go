// Package calc computes aggregate throughput across a set of per-thread
// sample vectors, spec.md §4.7.
package calc

import "fmt"

// Sample is one (elapsed-ns, cumulative-bytes) observation within a
// single thread's phase.
type Sample struct {
	NanosElapsed int64
	BytesTotal   int64
}

// warmupSkip is the one-second warm-up discarded before any thread's
// samples count toward the aggregate, spec.md §4.7 step 1.
const warmupSkip = int64(1_000_000_000)

// Result is the outcome of Throughput.
type Result struct {
	// TStar is the common measurement window length in ns, spec.md
	// §4.7 step 2.
	TStar int64
	// AggregateBytes is the sum of per-thread contributions over the
	// window [skip, skip+TStar].
	AggregateBytes int64
	BitsPerSecond  float64
	Gbps           float64
	Mbps           float64
}

// Throughput implements spec.md §4.7's algorithm over one sample vector
// per successful thread. Threads with fewer than one sample are
// ignored; if fewer than one thread remains, or t* <= 0, it returns the
// zero Result.
func Throughput(perThread [][]Sample) (Result, error) {
	threads := make([][]Sample, 0, len(perThread))
	for _, s := range perThread {
		if len(s) > 0 {
			threads = append(threads, s)
		}
	}
	if len(threads) == 0 {
		return Result{}, nil
	}

	// Step 2: t* = min over k of t_{k,Nk} - skip.
	tStar := int64(-1)
	for _, s := range threads {
		last := s[len(s)-1].NanosElapsed - warmupSkip
		if tStar == -1 || last < tStar {
			tStar = last
		}
	}
	if tStar <= 0 {
		return Result{}, nil
	}

	target := warmupSkip + tStar
	var aggregate int64
	for _, s := range threads {
		bStart := interpolateAt(s, warmupSkip)
		bEnd := interpolateAt(s, target)
		contribution := bEnd - bStart
		if contribution < 0 {
			return Result{}, fmt.Errorf("calc: negative contribution (non-monotonic sample vector)")
		}
		aggregate += contribution
	}

	seconds := float64(tStar) / 1e9
	if seconds <= 0 {
		return Result{}, nil
	}
	bps := 8 * float64(aggregate) / seconds

	return Result{
		TStar:          tStar,
		AggregateBytes: aggregate,
		BitsPerSecond:  bps,
		Gbps:           bps / 1e9,
		Mbps:           bps / 1e6,
	}, nil
}

// interpolateAt returns the linearly-interpolated cumulative byte value
// of sample vector s at time t, spec.md §4.7 steps 3-4 and edge rules:
// no sample <= t => 0 (nothing transferred yet); no sample >= t => the
// last sample's value (no extrapolation); samples sharing a timestamp
// use the later value (since the scan below always advances the "low"
// anchor to the latest sample not after t).
func interpolateAt(s []Sample, t int64) int64 {
	if len(s) == 0 {
		return 0
	}
	if t < s[0].NanosElapsed {
		return 0
	}
	if t >= s[len(s)-1].NanosElapsed {
		return s[len(s)-1].BytesTotal
	}

	// Find first index with NanosElapsed >= t, using the sample
	// immediately before it as the lower anchor. Equal timestamps
	// collapse to the later (higher-index) sample automatically since
	// lo is advanced past every sample with NanosElapsed <= t.
	lo := 0
	for i := range s {
		if s[i].NanosElapsed <= t {
			lo = i
		} else {
			break
		}
	}
	hi := lo + 1
	if hi >= len(s) {
		return s[lo].BytesTotal
	}
	t0, t1 := s[lo].NanosElapsed, s[hi].NanosElapsed
	b0, b1 := s[lo].BytesTotal, s[hi].BytesTotal
	if t1 == t0 {
		return b1
	}
	frac := float64(t-t0) / float64(t1-t0)
	return b0 + int64(frac*float64(b1-b0))
}
