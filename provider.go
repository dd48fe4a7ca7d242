package sensorstream

import "context"

// StreamServer defines the contract shared by the MJPEG and RTSP servers
//
// Implementations must guarantee:
//   - Run() blocks until ctx is cancelled or the listener fails
//   - Run() returns nil on a clean shutdown
//   - Stats() is thread-safe (can be called from any goroutine)
//   - a failure in one consumer never affects another
type StreamServer interface {
	// Run listens and serves consumers until ctx is cancelled.
	//
	// Every consumer gets independently rendered frames from the shared
	// sensor cache. Returns an error if the listener cannot be opened or the
	// encoding pipeline is unavailable (RTSP); both are fatal at startup.
	Run(ctx context.Context) error

	// Stats returns current server statistics.
	//
	// Counters are updated atomically while consumers are served. FPSReal
	// covers the most recent deliveries across all consumers.
	Stats() StreamStats
}

var (
	_ StreamServer = (*MJPEGServer)(nil)
	_ StreamServer = (*RTSPServer)(nil)
)
