package sensorstream

import (
	"errors"
	"fmt"
	"time"
)

// Transport names reported in StreamStats.
const (
	TransportMJPEG = "mjpeg"
	TransportRTSP  = "rtsp"
)

// Config contains the settings shared by both stream servers
type Config struct {
	// Address is the listen address of the stream server (e.g. ":8080")
	Address string
	// Width of the canvas in pixels
	Width int
	// Height of the canvas in pixels
	Height int
	// FPS is the target frame rate (1-60)
	FPS int
	// JPEGQuality is the still-image quality for MJPEG (1-100, default 80)
	JPEGQuality int
	// Path is the RTSP mount point (default "stream")
	Path string
	// BitrateKbps is the H.264 bitrate for RTSP, 0 keeps the encoder default
	BitrateKbps int
	// MetricsAddress serves /metrics and /healthz next to the RTSP listener.
	// Empty disables it. Ignored by the MJPEG server, which serves both itself.
	MetricsAddress string
}

// Validate checks c and fills defaults.
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("sensorstream: address is required")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("sensorstream: invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.FPS < 1 || c.FPS > 60 {
		return fmt.Errorf("sensorstream: fps must be in [1, 60], got %d", c.FPS)
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = 80
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("sensorstream: jpeg quality must be in [1, 100], got %d", c.JPEGQuality)
	}
	if c.Path == "" {
		c.Path = "stream"
	}
	return nil
}

// Resolution returns "WIDTHxHEIGHT".
func (c Config) Resolution() string {
	return fmt.Sprintf("%dx%d", c.Width, c.Height)
}

// StreamStats contains current server statistics
type StreamStats struct {
	// Transport is "mjpeg" or "rtsp"
	Transport string
	// Resolution is the frame resolution (e.g., "640x360")
	Resolution string
	// FPSTarget is the configured frame rate
	FPSTarget float64
	// FPSReal is the measured delivery rate over recent frames, all consumers combined
	FPSReal float64
	// FrameCount is the total number of frames delivered
	FrameCount uint64
	// FramesSkipped counts render or encode failures
	FramesSkipped uint64
	// BytesSent is the total payload bytes written to consumers
	BytesSent uint64
	// ActiveConsumers is the number of connected clients or RTSP sessions
	ActiveConsumers int64
	// TotalConsumers is the number of clients ever served
	TotalConsumers uint64
	// PushFailures counts buffers the encoding pipeline refused (RTSP only)
	PushFailures uint64
	// PacketsSent counts RTP packets written (RTSP only)
	PacketsSent uint64
	// PipelineErrors counts pipeline errors by category (RTSP only)
	PipelineErrors map[string]uint64
	// Restarts is the number of pipeline rebuilds (RTSP only)
	Restarts uint64
	// SensorsCached is the number of sensor values currently known
	SensorsCached int
	// LastSensorUpdate is when the cache last changed
	LastSensorUpdate time.Time
}

// FPSStats contains delivery rate statistics
type FPSStats struct {
	// Frames is the number of frames measured
	Frames int
	// Duration is the measured span
	Duration time.Duration
	// FPSMean is the mean FPS across all frames
	FPSMean float64
	// FPSStdDev is the standard deviation of FPS
	FPSStdDev float64
	// FPSMin is the minimum instantaneous FPS
	FPSMin float64
	// FPSMax is the maximum instantaneous FPS
	FPSMax float64
	// IsStable is true if FPS is stable (stddev < 15% of mean)
	IsStable bool
	// JitterMean is the mean inter-frame interval deviation in seconds
	JitterMean float64
	// JitterStdDev is the standard deviation of the jitter in seconds
	JitterStdDev float64
	// JitterMax is the largest interval deviation in seconds
	JitterMax float64
}
