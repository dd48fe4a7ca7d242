// Package pacing measures how evenly frames are delivered to a consumer.
package pacing

import (
	"math"
	"sync"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum allowed FPS standard deviation as a fraction of mean FPS.
	// A stream is considered stable if stddev < 15% of mean FPS.
	// Example: 5 FPS mean → stable if stddev < 0.75 FPS
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum allowed mean jitter as a fraction of expected interval.
	// Example: 5 FPS (200ms interval) → stable if jitter < 40ms
	jitterStabilityThreshold = 0.20
)

// Stats summarises a run of delivery timestamps.
type Stats struct {
	Frames       int
	Duration     time.Duration
	FPSMean      float64
	FPSStdDev    float64
	FPSMin       float64
	FPSMax       float64
	IsStable     bool
	JitterMean   float64 // seconds
	JitterStdDev float64 // seconds
	JitterMax    float64 // seconds
}

// Calculate computes FPS statistics from delivery timestamps
//
// This function:
//  1. Calculates mean FPS over totalDuration
//  2. Calculates instantaneous FPS for each interval and its min/max/stddev
//  3. Calculates jitter (deviation from the expected interval)
//  4. Determines stability (stddev < 15% of mean AND jitter < 20% of interval)
func Calculate(frameTimes []time.Time, totalDuration time.Duration) Stats {
	n := len(frameTimes)
	if n == 0 || totalDuration <= 0 {
		return Stats{Frames: n, Duration: totalDuration}
	}

	fpsMean := float64(n) / totalDuration.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return Stats{Frames: n, Duration: totalDuration, FPSMean: fpsMean}
	}

	fpsMin, fpsMax := instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		fpsMin = math.Min(fpsMin, fps)
		fpsMax = math.Max(fpsMax, fps)
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1.0 / fpsMean
	jitters := make([]float64, 0, n-1)
	var jitterSum, jitterMax float64
	for i := 1; i < n; i++ {
		j := math.Abs(frameTimes[i].Sub(frameTimes[i-1]).Seconds() - expected)
		jitters = append(jitters, j)
		jitterSum += j
		jitterMax = math.Max(jitterMax, j)
	}
	jitterMean := jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		diff := j - jitterMean
		jitterSquares += diff * diff
	}

	return Stats{
		Frames:       n,
		Duration:     totalDuration,
		FPSMean:      fpsMean,
		FPSStdDev:    fpsStdDev,
		FPSMin:       fpsMin,
		FPSMax:       fpsMax,
		IsStable:     fpsStdDev < fpsMean*fpsStabilityThreshold && jitterMean < expected*jitterStabilityThreshold,
		JitterMean:   jitterMean,
		JitterStdDev: math.Sqrt(jitterSquares / float64(len(jitters))),
		JitterMax:    jitterMax,
	}
}

// Window keeps the most recent delivery timestamps in a fixed-size ring.
// Safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
}

// NewWindow creates a window holding up to size timestamps (minimum 2).
func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{times: make([]time.Time, size)}
}

// Mark records a delivery at t.
func (w *Window) Mark(t time.Time) {
	w.mu.Lock()
	w.times[w.next] = t
	w.next = (w.next + 1) % len(w.times)
	if w.next == 0 {
		w.full = true
	}
	w.mu.Unlock()
}

// Stats computes statistics over the recorded timestamps, oldest first.
// Duration spans first to last delivery plus one mean interval so that a
// perfectly paced window reports exactly the target FPS.
func (w *Window) Stats() Stats {
	w.mu.Lock()
	var ordered []time.Time
	if w.full {
		ordered = append(ordered, w.times[w.next:]...)
		ordered = append(ordered, w.times[:w.next]...)
	} else {
		ordered = append(ordered, w.times[:w.next]...)
	}
	w.mu.Unlock()

	n := len(ordered)
	if n < 2 {
		return Stats{Frames: n}
	}

	span := ordered[n-1].Sub(ordered[0])
	return Calculate(ordered, span+span/time.Duration(n-1))
}
