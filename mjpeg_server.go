package sensorstream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/tuomaz/ha-sensor-streamer/internal/metrics"
	"github.com/tuomaz/ha-sensor-streamer/internal/mjpeg"
)

// MJPEGServer serves the rendered frames over HTTP
//
// Routes:
//   - GET /stream        multipart/x-mixed-replace stream, one part per tick
//   - GET /snapshot.jpg  a single JPEG still
//   - GET /healthz       "ok"
//   - GET /metrics       Prometheus exposition (when metrics are enabled)
type MJPEGServer struct {
	cfg      Config
	producer *Producer
	driver   *mjpeg.Driver
	metrics  *metrics.Metrics
	handler  http.Handler

	snapshots singleflight.Group
}

// NewMJPEGServer validates cfg and wires the routes. m may be nil.
func NewMJPEGServer(cfg Config, producer *Producer, m *metrics.Metrics) (*MJPEGServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if producer == nil {
		return nil, errors.New("sensorstream: producer is required")
	}

	driver, err := mjpeg.New(producer.JPEG, cfg.FPS, m)
	if err != nil {
		return nil, err
	}

	s := &MJPEGServer{
		cfg:      cfg,
		producer: producer,
		driver:   driver,
		metrics:  m,
	}

	r := newRouter(m)
	r.Handle("/stream", m.WrapHandler("/stream", driver)).Methods(http.MethodGet)
	r.Handle("/snapshot.jpg", m.WrapHandler("/snapshot.jpg", http.HandlerFunc(s.handleSnapshot))).Methods(http.MethodGet)
	s.handler = r

	return s, nil
}

// Handler returns the routes without a listener, for embedding and tests.
func (s *MJPEGServer) Handler() http.Handler {
	return s.handler
}

// Run implements StreamServer.
func (s *MJPEGServer) Run(ctx context.Context) error {
	slog.Info("sensorstream: mjpeg server starting",
		"address", s.cfg.Address,
		"resolution", s.cfg.Resolution(),
		"fps", s.cfg.FPS,
		"interval", s.driver.Interval(),
		"jpeg_quality", s.cfg.JPEGQuality,
	)
	return serveHTTP(ctx, "mjpeg", s.cfg.Address, s.handler)
}

// handleSnapshot serves one still. Concurrent requests share a render.
func (s *MJPEGServer) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	v, err, _ := s.snapshots.Do("snapshot", func() (any, error) {
		return s.producer.JPEG()
	})
	if err != nil {
		slog.Warn("sensorstream: snapshot render failed", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	frame := v.([]byte)

	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(frame)))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	_, _ = w.Write(frame)
}

// Stats implements StreamServer.
func (s *MJPEGServer) Stats() StreamStats {
	ds := s.driver.Stats()
	cs := s.producer.Store().Stats()

	return StreamStats{
		Transport:        TransportMJPEG,
		Resolution:       s.cfg.Resolution(),
		FPSTarget:        float64(s.cfg.FPS),
		FPSReal:          ds.Pacing.FPSMean,
		FrameCount:       ds.FramesSent,
		FramesSkipped:    ds.FramesSkipped,
		BytesSent:        ds.BytesSent,
		ActiveConsumers:  ds.ActiveConsumers,
		TotalConsumers:   ds.TotalConsumers,
		SensorsCached:    cs.Entries,
		LastSensorUpdate: cs.UpdatedAt,
	}
}

// DeliveryStats returns pacing statistics over the recent parts written.
func (s *MJPEGServer) DeliveryStats() *FPSStats {
	return fromPacing(s.driver.Stats().Pacing)
}
