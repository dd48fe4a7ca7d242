package sensorstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tuomaz/ha-sensor-streamer/internal/metrics"
	"github.com/tuomaz/ha-sensor-streamer/internal/rtsp"
)

// deliveryWindow is how many recent frame pushes FPSReal is computed over.
const deliveryWindow = 64

// RTSPServer serves the rendered frames at rtsp://<address>/<path>
//
// Each RTSP session gets its own frame source and H.264 encoding pipeline.
// When cfg.MetricsAddress is set, /healthz and /metrics are served on it.
type RTSPServer struct {
	cfg      Config
	producer *Producer
	server   *rtsp.Server
	counters *rtsp.Counters
	metrics  *metrics.Metrics
}

// NewRTSPServer validates cfg and creates the server. m may be nil.
func NewRTSPServer(cfg Config, producer *Producer, m *metrics.Metrics) (*RTSPServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if producer == nil {
		return nil, errors.New("sensorstream: producer is required")
	}

	counters := rtsp.NewCounters(deliveryWindow)
	server, err := rtsp.NewServer(rtsp.ServerConfig{
		Address: cfg.Address,
		Path:    cfg.Path,
		Session: rtsp.SessionConfig{
			Pipeline: rtsp.PipelineConfig{
				Width:       cfg.Width,
				Height:      cfg.Height,
				FPS:         cfg.FPS,
				BitrateKbps: cfg.BitrateKbps,
			},
			Restart: rtsp.DefaultRestartConfig(),
		},
	}, producer.RGB, counters, m)
	if err != nil {
		return nil, err
	}

	return &RTSPServer{
		cfg:      cfg,
		producer: producer,
		server:   server,
		counters: counters,
		metrics:  m,
	}, nil
}

// Run implements StreamServer. It fails fast when the GStreamer elements
// the encoder needs are missing.
func (s *RTSPServer) Run(ctx context.Context) error {
	if err := rtsp.CheckGStreamerAvailable(); err != nil {
		return fmt.Errorf("sensorstream: %w", err)
	}

	slog.Info("sensorstream: rtsp server starting",
		"address", s.cfg.Address,
		"path", "/"+s.cfg.Path,
		"resolution", s.cfg.Resolution(),
		"fps", s.cfg.FPS,
		"frame_interval", rtsp.FrameInterval(s.cfg.FPS),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.server.Run(ctx)
	})
	if s.cfg.MetricsAddress != "" {
		g.Go(func() error {
			return serveHTTP(ctx, "metrics", s.cfg.MetricsAddress, newRouter(s.metrics))
		})
	}
	return g.Wait()
}

// Stats implements StreamServer.
func (s *RTSPServer) Stats() StreamStats {
	c := s.counters
	cs := s.producer.Store().Stats()

	return StreamStats{
		Transport:       TransportRTSP,
		Resolution:      s.cfg.Resolution(),
		FPSTarget:       float64(s.cfg.FPS),
		FPSReal:         c.Deliveries.Stats().FPSMean,
		FrameCount:      c.FramesPushed.Load(),
		FramesSkipped:   c.FramesSkipped.Load(),
		BytesSent:       c.BytesSent.Load(),
		ActiveConsumers: s.server.ActiveSessions(),
		TotalConsumers:  s.server.TotalSessions(),
		PushFailures:    c.PushFailures.Load(),
		PacketsSent:     c.PacketsSent.Load(),
		PipelineErrors: map[string]uint64{
			rtsp.ErrCategoryNegotiation.String(): c.ErrorsNegotiation.Load(),
			rtsp.ErrCategoryCodec.String():       c.ErrorsCodec.Load(),
			rtsp.ErrCategoryResource.String():    c.ErrorsResource.Load(),
			rtsp.ErrCategoryStream.String():      c.ErrorsStream.Load(),
			rtsp.ErrCategoryUnknown.String():     c.ErrorsUnknown.Load(),
		},
		Restarts:         c.Restarts.Load(),
		SensorsCached:    cs.Entries,
		LastSensorUpdate: cs.UpdatedAt,
	}
}

// DeliveryStats returns pacing statistics over the recent frame pushes.
func (s *RTSPServer) DeliveryStats() *FPSStats {
	return fromPacing(s.counters.Deliveries.Stats())
}
