// Package mjpeg streams freshly rendered JPEG frames as an HTTP
// multipart/x-mixed-replace response.
//
// Every connected consumer gets its own ticker and render cycle. Nothing is
// shared between consumers except the frame producer, which must be safe for
// concurrent use.
package mjpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tuomaz/ha-sensor-streamer/internal/metrics"
	"github.com/tuomaz/ha-sensor-streamer/internal/pacing"
)

const (
	// Boundary separates parts in the multipart body.
	Boundary = "frame"

	// ContentType is the response content type announced on /stream.
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

	// pacingWindow is how many recent deliveries feed the FPS statistics.
	pacingWindow = 64
)

// FrameFunc renders one JPEG frame from the current cache and clock.
type FrameFunc func() ([]byte, error)

// State is the lifecycle of one consumer.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WritePart writes one multipart part holding a JPEG image and returns the
// number of bytes written.
func WritePart(w io.Writer, jpeg []byte) (int, error) {
	header := "--" + Boundary + "\r\n" +
		"Content-Type: image/jpeg\r\n" +
		"Content-Length: " + strconv.Itoa(len(jpeg)) + "\r\n\r\n"

	total := 0
	for _, chunk := range [][]byte{[]byte(header), jpeg, []byte("\r\n")} {
		n, err := w.Write(chunk)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Stats is a snapshot of driver counters.
type Stats struct {
	ActiveConsumers int64
	TotalConsumers  uint64
	FramesSent      uint64
	FramesSkipped   uint64
	BytesSent       uint64
	Pacing          pacing.Stats
}

// Driver runs the per-consumer push loop.
type Driver struct {
	frame    FrameFunc
	interval time.Duration
	metrics  *metrics.Metrics

	active        atomic.Int64
	total         atomic.Uint64
	framesSent    atomic.Uint64
	framesSkipped atomic.Uint64
	bytesSent     atomic.Uint64
	deliveries    *pacing.Window
}

// New creates a driver ticking every 1000/fps milliseconds. m may be nil.
func New(frame FrameFunc, fps int, m *metrics.Metrics) (*Driver, error) {
	if frame == nil {
		return nil, errors.New("mjpeg: frame producer is required")
	}
	if fps <= 0 {
		return nil, fmt.Errorf("mjpeg: invalid fps %d", fps)
	}

	return &Driver{
		frame:      frame,
		interval:   time.Duration(1000/fps) * time.Millisecond,
		metrics:    m,
		deliveries: pacing.NewWindow(pacingWindow),
	}, nil
}

// Interval returns the tick period.
func (d *Driver) Interval() time.Duration {
	return d.interval
}

// ServeHTTP streams frames until the client goes away.
func (d *Driver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	_ = d.Stream(r.Context(), w, rc.Flush)
}

// Stream runs one consumer: a frame immediately, then one per tick. A failed
// render skips the tick. It returns when ctx is done or a write fails.
func (d *Driver) Stream(ctx context.Context, w io.Writer, flush func() error) error {
	id := uuid.NewString()
	slog.Debug("mjpeg: consumer accepted", "consumer_id", id, "state", StateIdle.String())

	d.active.Add(1)
	d.total.Add(1)
	d.metrics.ConsumerConnected(metrics.TransportMJPEG)
	defer func() {
		d.active.Add(-1)
		d.metrics.ConsumerDisconnected(metrics.TransportMJPEG)
		slog.Info("mjpeg: consumer disconnected",
			"consumer_id", id,
			"state", StateClosed.String(),
		)
	}()

	slog.Info("mjpeg: consumer connected",
		"consumer_id", id,
		"state", StateStreaming.String(),
		"interval", d.interval,
		"active", d.active.Load(),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := d.emit(w, flush, id); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// emit renders and writes one part. Render failures are swallowed.
func (d *Driver) emit(w io.Writer, flush func() error, id string) error {
	start := time.Now()
	frame, err := d.frame()
	if err != nil {
		d.framesSkipped.Add(1)
		d.metrics.FrameSkipped(metrics.TransportMJPEG)
		slog.Warn("mjpeg: frame generation failed, skipping tick",
			"consumer_id", id,
			"error", err,
		)
		return nil
	}

	n, err := WritePart(w, frame)
	d.bytesSent.Add(uint64(n))
	if err != nil {
		return fmt.Errorf("mjpeg: write failed: %w", err)
	}
	if flush != nil {
		if err := flush(); err != nil {
			return fmt.Errorf("mjpeg: flush failed: %w", err)
		}
	}

	d.framesSent.Add(1)
	d.deliveries.Mark(time.Now())
	d.metrics.FrameRendered(metrics.TransportMJPEG, time.Since(start), n)

	slog.Debug("mjpeg: frame sent",
		"consumer_id", id,
		"size_bytes", len(frame),
	)
	return nil
}

// Stats returns current counters. Pacing covers deliveries to all consumers.
func (d *Driver) Stats() Stats {
	return Stats{
		ActiveConsumers: d.active.Load(),
		TotalConsumers:  d.total.Load(),
		FramesSent:      d.framesSent.Load(),
		FramesSkipped:   d.framesSkipped.Load(),
		BytesSent:       d.bytesSent.Load(),
		Pacing:          d.deliveries.Stats(),
	}
}
