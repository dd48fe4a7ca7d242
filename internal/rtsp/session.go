package rtsp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/tuomaz/ha-sensor-streamer/internal/metrics"
)

// SessionConfig configures one streaming session.
type SessionConfig struct {
	Pipeline PipelineConfig
	Restart  RestartConfig
}

// Session owns one client's FrameSource and encoding pipeline.
//
// The FrameSource lives as long as the session, so its presentation clock
// keeps counting across pipeline rebuilds.
type Session struct {
	id       string
	cfg      SessionConfig
	source   *FrameSource
	write    PacketWriter
	counters *Counters
	metrics  *metrics.Metrics

	state    RestartState
	elements *PipelineElements // Owned by the run goroutine after Start
	pipeline RunFunc           // runOnce outside tests
	onGiveUp func(error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
}

// NewSession creates an idle session. Nothing touches GStreamer until Start.
func NewSession(id string, produce ProduceFunc, cfg SessionConfig, write PacketWriter, counters *Counters, m *metrics.Metrics) (*Session, error) {
	if write == nil {
		return nil, errors.New("rtsp: packet writer is required")
	}
	if counters == nil {
		return nil, errors.New("rtsp: counters are required")
	}

	p := cfg.Pipeline
	source, err := NewFrameSource(produce, p.FPS, p.Width*p.Height*3)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:       id,
		cfg:      cfg,
		source:   source,
		write:    write,
		counters: counters,
		metrics:  m,
	}
	s.pipeline = s.runOnce
	return s, nil
}

// OnGiveUp sets fn to be called once the pipeline stops after exhausting its
// rebuilds. Must be called before Start.
func (s *Session) OnGiveUp(fn func(error)) {
	s.mu.Lock()
	s.onGiveUp = fn
	s.mu.Unlock()
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// Source exposes the session's frame source.
func (s *Session) Source() *FrameSource {
	return s.source
}

// Restarts returns how many times the pipeline was rebuilt.
func (s *Session) Restarts() uint32 {
	return s.state.Restarts()
}

// Start builds the first pipeline synchronously, so construction failures
// reach the caller, then runs it in the background with rebuild-on-error.
// Starting a running session is a no-op, so PLAY after PAUSE resumes it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		select {
		case <-s.done:
			return fmt.Errorf("rtsp: session %s pipeline has stopped", s.id)
		default:
			slog.Debug("rtsp: session already running", "session_id", s.id)
			return nil
		}
	}

	elements, err := s.build()
	if err != nil {
		return fmt.Errorf("rtsp: session %s: %w", s.id, err)
	}
	s.elements = elements

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = time.Now()

	go s.run(runCtx)

	slog.Info("rtsp: session started",
		"session_id", s.id,
		"resolution", s.resolution(),
		"fps", s.cfg.Pipeline.FPS,
	)
	return nil
}

// Stop cancels the session and waits for the pipeline to be torn down.
// Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()

	select {
	case <-s.done:
	case <-time.After(3 * time.Second):
		slog.Warn("rtsp: session stop timeout exceeded", "session_id", s.id)
	}

	slog.Info("rtsp: session stopped",
		"session_id", s.id,
		"uptime", time.Since(s.started),
		"frames", int64(s.source.Position()/s.source.Interval()),
		"render_failures", s.source.Failures(),
		"restarts", s.state.Restarts(),
	)
	s.cancel = nil
}

func (s *Session) run(ctx context.Context) {
	err := s.supervise(ctx)
	close(s.done)

	if err == nil {
		return
	}
	s.mu.Lock()
	onGiveUp := s.onGiveUp
	s.mu.Unlock()
	if onGiveUp != nil {
		onGiveUp(err)
	}
}

// supervise runs the pipeline with rebuilds and returns the error that made
// it give up, or nil when ctx ended it.
func (s *Session) supervise(ctx context.Context) error {
	err := RunWithRestart(ctx, s.pipeline, s.cfg.Restart, &s.state, func(attempt int, err error) {
		s.counters.Restarts.Add(1)
		s.metrics.PipelineRestarted()
		slog.Info("rtsp: rebuilding pipeline", "session_id", s.id, "attempt", attempt, "cause", err)
	})
	if s.elements != nil {
		// Cancelled before the first run
		_ = DestroyPipeline(s.elements)
		s.elements = nil
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	slog.Error("rtsp: session pipeline stopped after rebuild failures",
		"session_id", s.id,
		"error", err,
		"uptime", time.Since(s.started),
		"restarts", s.state.Restarts(),
	)
	return err
}

// runOnce plays one pipeline instance until it fails or ctx ends.
func (s *Session) runOnce(ctx context.Context) error {
	if s.elements == nil {
		elements, err := s.build()
		if err != nil {
			return err
		}
		s.elements = elements
	}
	elements := s.elements
	defer func() {
		if err := DestroyPipeline(elements); err != nil {
			slog.Error("rtsp: failed to destroy pipeline", "session_id", s.id, "error", err)
		}
		s.elements = nil
	}()

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	return MonitorPipelineBus(ctx, elements.Pipeline, s.counters, s.metrics, &s.state, MonitorInfo{
		SessionID:  s.id,
		Resolution: s.resolution(),
		StartedAt:  s.started,
		Source:     s.source,
	})
}

// build creates a pipeline and wires the callbacks to this session.
func (s *Session) build() (*PipelineElements, error) {
	elements, err := CreatePipeline(s.cfg.Pipeline)
	if err != nil {
		return nil, err
	}

	cbCtx := &CallbackContext{
		SessionID: s.id,
		Source:    s.source,
		Write:     s.write,
		Counters:  s.counters,
		Metrics:   s.metrics,
	}

	elements.AppSrc.SetCallbacks(&app.SourceCallbacks{
		NeedDataFunc: func(src *app.Source, _ uint) {
			OnNeedData(src, cbCtx)
		},
	})
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return OnNewSample(sink, cbCtx)
		},
	})

	return elements, nil
}

func (s *Session) resolution() string {
	return fmt.Sprintf("%dx%d", s.cfg.Pipeline.Width, s.cfg.Pipeline.Height)
}
