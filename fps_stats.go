package sensorstream

import (
	"time"

	"github.com/tuomaz/ha-sensor-streamer/internal/pacing"
)

// CalculateFPSStats calculates delivery statistics from frame timestamps
//
// This is a public wrapper around internal/pacing.Calculate.
//
// This function:
//  1. Calculates mean FPS (overall)
//  2. Calculates instantaneous FPS for each frame interval
//  3. Finds min/max instantaneous FPS
//  4. Calculates standard deviation of instantaneous FPS
//  5. Calculates jitter statistics (inter-frame interval variance)
//  6. Determines stability (stddev < 15% of mean AND jitter < 20%)
//
// Example: 5 FPS mean → stable if stddev < 0.75 AND jitter < 0.04s
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *FPSStats {
	return fromPacing(pacing.Calculate(frameTimes, totalDuration))
}

func fromPacing(s pacing.Stats) *FPSStats {
	return &FPSStats{
		Frames:       s.Frames,
		Duration:     s.Duration,
		FPSMean:      s.FPSMean,
		FPSStdDev:    s.FPSStdDev,
		FPSMin:       s.FPSMin,
		FPSMax:       s.FPSMax,
		IsStable:     s.IsStable,
		JitterMean:   s.JitterMean,
		JitterStdDev: s.JitterStdDev,
		JitterMax:    s.JitterMax,
	}
}
