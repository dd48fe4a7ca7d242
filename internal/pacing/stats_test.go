package pacing

import (
	"math"
	"math/rand"
	"testing"
	"testing/quick"
	"time"
)

// pacedTimes returns n delivery times at fps with uniform jitter of ±jitter×interval.
func pacedTimes(n int, fps, jitter float64) []time.Time {
	if n < 1 {
		return nil
	}
	interval := 1.0 / fps
	rng := rand.New(rand.NewSource(7))

	times := make([]time.Time, n)
	times[0] = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i < n; i++ {
		offset := (rng.Float64()*2 - 1) * jitter * interval
		times[i] = times[i-1].Add(time.Duration((interval + offset) * float64(time.Second)))
	}
	return times
}

func TestCalculate_Stability(t *testing.T) {
	tests := []struct {
		name       string
		jitter     float64
		wantStable bool
	}{
		{"steady 5fps", 0.02, true},
		{"jittery 5fps", 0.6, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := Calculate(pacedTimes(50, 5, tt.jitter), 10*time.Second)
			if stats.IsStable != tt.wantStable {
				t.Errorf("IsStable = %v, want %v (stddev %.2f, jitter %.4fs)",
					stats.IsStable, tt.wantStable, stats.FPSStdDev, stats.JitterMean)
			}
		})
	}
}

func TestCalculate_EdgeCases(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		times    []time.Time
		duration time.Duration
	}{
		{"no frames", nil, time.Second},
		{"one frame", []time.Time{now}, time.Second},
		{"zero duration", []time.Time{now, now.Add(time.Second)}, 0},
		{"identical timestamps", []time.Time{now, now, now}, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := Calculate(tt.times, tt.duration)
			if stats.IsStable {
				t.Error("degenerate input reported stable")
			}
			if stats.FPSStdDev < 0 || stats.JitterMean < 0 || stats.JitterMax < 0 {
				t.Errorf("negative statistic: %+v", stats)
			}
			if stats.Frames != len(tt.times) {
				t.Errorf("Frames = %d, want %d", stats.Frames, len(tt.times))
			}
		})
	}
}

// TestCalculate_Bounds checks min <= mean <= max and jitter max >= jitter mean
func TestCalculate_Bounds(t *testing.T) {
	f := func(fpsSeed uint8, n uint8) bool {
		fps := 1 + float64(fpsSeed%30)
		if n < 20 {
			return true
		}

		times := pacedTimes(int(n), fps, 0.1)
		stats := Calculate(times, time.Duration(float64(n)/fps*float64(time.Second)))

		const tolerance = 0.001
		if stats.FPSMin > stats.FPSMean+tolerance || stats.FPSMax < stats.FPSMean-tolerance {
			t.Logf("fps bounds violated: %+v", stats)
			return false
		}
		return stats.JitterMax >= stats.JitterMean && stats.JitterMean >= 0
	}

	if err := quick.Check(f, &quick.Config{MaxCount: 100}); err != nil {
		t.Errorf("property violated: %v", err)
	}
}

func TestWindow_Stats(t *testing.T) {
	w := NewWindow(10)
	if got := w.Stats(); got.Frames != 0 {
		t.Fatalf("empty window Frames = %d, want 0", got.Frames)
	}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		w.Mark(base.Add(time.Duration(i) * 200 * time.Millisecond))
	}

	stats := w.Stats()
	if stats.Frames != 10 {
		t.Errorf("Frames = %d, want ring size 10", stats.Frames)
	}
	if math.Abs(stats.FPSMean-5) > 0.001 {
		t.Errorf("FPSMean = %.4f, want 5", stats.FPSMean)
	}
	if !stats.IsStable {
		t.Error("perfectly paced window reported unstable")
	}
	if stats.JitterMax > 1e-9 {
		t.Errorf("JitterMax = %g, want 0", stats.JitterMax)
	}
}

func BenchmarkCalculate(b *testing.B) {
	times := pacedTimes(100, 5, 0.1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Calculate(times, 20*time.Second)
	}
}
