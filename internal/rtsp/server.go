package rtsp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/google/uuid"
	"github.com/pion/rtp"

	"github.com/tuomaz/ha-sensor-streamer/internal/metrics"
)

// ServerConfig configures the RTSP listener.
type ServerConfig struct {
	Address        string // e.g. ":8554"
	Path           string // mount point without slashes, e.g. "stream"
	UDPRTPAddress  string // empty disables UDP transport
	UDPRTCPAddress string
	Session        SessionConfig
}

// mount is one client's stream: the RTSP-side stream object, the media it
// carries and, once SETUP arrived, the session that feeds it.
type mount struct {
	stream  *gortsplib.ServerStream
	media   *description.Media
	session *Session
}

// Server serves the rendered frames at rtsp://<address>/<path>.
//
// Each client gets its own ServerStream and Session, so presentation clocks
// and encoder state are never shared. A stream created on DESCRIBE is parked
// per connection until SETUP binds it to an RTSP session.
type Server struct {
	cfg      ServerConfig
	produce  ProduceFunc
	counters *Counters
	metrics  *metrics.Metrics

	srv *gortsplib.Server
	ctx context.Context

	mu       sync.Mutex
	pending  map[*gortsplib.ServerConn]*mount
	sessions map[*gortsplib.ServerSession]*mount

	active atomic.Int64
	total  atomic.Uint64
}

// NewServer validates cfg and creates a server. produce must be safe for
// concurrent use; it is called from every session's streaming thread.
func NewServer(cfg ServerConfig, produce ProduceFunc, counters *Counters, m *metrics.Metrics) (*Server, error) {
	if cfg.Address == "" {
		return nil, errors.New("rtsp: listen address is required")
	}
	cfg.Path = strings.Trim(cfg.Path, "/")
	if cfg.Path == "" {
		return nil, errors.New("rtsp: mount path is required")
	}
	if produce == nil {
		return nil, errors.New("rtsp: frame producer is required")
	}
	if counters == nil {
		counters = NewCounters(64)
	}

	s := &Server{
		cfg:      cfg,
		produce:  produce,
		counters: counters,
		metrics:  m,
		pending:  make(map[*gortsplib.ServerConn]*mount),
		sessions: make(map[*gortsplib.ServerSession]*mount),
	}
	s.srv = &gortsplib.Server{
		Handler:        s,
		RTSPAddress:    cfg.Address,
		UDPRTPAddress:  cfg.UDPRTPAddress,
		UDPRTCPAddress: cfg.UDPRTCPAddress,
	}
	return s, nil
}

// Run listens until ctx is cancelled, then closes every session.
func (s *Server) Run(ctx context.Context) error {
	s.ctx = ctx
	if err := s.srv.Start(); err != nil {
		return fmt.Errorf("rtsp: failed to start server: %w", err)
	}

	slog.Info("rtsp: server listening",
		"address", s.cfg.Address,
		"path", "/"+s.cfg.Path,
		"udp", s.cfg.UDPRTPAddress != "",
	)

	go func() {
		<-ctx.Done()
		s.srv.Close()
	}()

	err := s.srv.Wait()
	s.closeAll()
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("rtsp: server stopped: %w", err)
}

// ActiveSessions returns the number of sessions currently bound.
func (s *Server) ActiveSessions() int64 {
	return s.active.Load()
}

// TotalSessions returns the number of sessions ever bound.
func (s *Server) TotalSessions() uint64 {
	return s.total.Load()
}

// Counters returns the shared RTSP counters.
func (s *Server) Counters() *Counters {
	return s.counters
}

// matchPath accepts "/stream", "stream" and SETUP control suffixes such as
// "stream/trackID=0".
func (s *Server) matchPath(path string) bool {
	p := strings.Trim(path, "/")
	return p == s.cfg.Path || strings.HasPrefix(p, s.cfg.Path+"/")
}

// newMount creates a stream announcing a single H.264 video media.
func (s *Server) newMount() *mount {
	media := &description.Media{
		Type: description.MediaTypeVideo,
		Formats: []format.Format{&format.H264{
			PayloadTyp:        PayloadType,
			PacketizationMode: 1,
		}},
	}
	desc := &description.Session{Medias: []*description.Media{media}}

	return &mount{
		stream: gortsplib.NewServerStream(s.srv, desc),
		media:  media,
	}
}

// OnConnOpen implements gortsplib.ServerHandlerOnConnOpen.
func (s *Server) OnConnOpen(ctx *gortsplib.ServerHandlerOnConnOpenCtx) {
	slog.Debug("rtsp: connection opened", "remote", ctx.Conn.NetConn().RemoteAddr())
}

// OnConnClose implements gortsplib.ServerHandlerOnConnClose.
func (s *Server) OnConnClose(ctx *gortsplib.ServerHandlerOnConnCloseCtx) {
	s.mu.Lock()
	m, ok := s.pending[ctx.Conn]
	delete(s.pending, ctx.Conn)
	s.mu.Unlock()

	if ok {
		m.stream.Close()
	}
	slog.Debug("rtsp: connection closed", "remote", ctx.Conn.NetConn().RemoteAddr(), "error", ctx.Error)
}

// OnSessionOpen implements gortsplib.ServerHandlerOnSessionOpen.
func (s *Server) OnSessionOpen(ctx *gortsplib.ServerHandlerOnSessionOpenCtx) {
	slog.Debug("rtsp: session opened", "remote", ctx.Conn.NetConn().RemoteAddr())
}

// OnSessionClose implements gortsplib.ServerHandlerOnSessionClose.
func (s *Server) OnSessionClose(ctx *gortsplib.ServerHandlerOnSessionCloseCtx) {
	s.mu.Lock()
	m, ok := s.sessions[ctx.Session]
	delete(s.sessions, ctx.Session)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.release(m)
	slog.Info("rtsp: client session closed", "session_id", m.session.ID(), "error", ctx.Error)
}

// OnDescribe implements gortsplib.ServerHandlerOnDescribe.
func (s *Server) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx) (*base.Response, *gortsplib.ServerStream, error) {
	if !s.matchPath(ctx.Path) {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, fmt.Errorf("rtsp: unknown path %q", ctx.Path)
	}

	m := s.newMount()

	s.mu.Lock()
	previous := s.pending[ctx.Conn]
	s.pending[ctx.Conn] = m
	s.mu.Unlock()

	if previous != nil {
		previous.stream.Close()
	}
	return &base.Response{StatusCode: base.StatusOK}, m.stream, nil
}

// OnSetup implements gortsplib.ServerHandlerOnSetup.
func (s *Server) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	if !s.matchPath(ctx.Path) {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, fmt.Errorf("rtsp: unknown path %q", ctx.Path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.sessions[ctx.Session]; ok {
		return &base.Response{StatusCode: base.StatusOK}, m.stream, nil
	}

	m, ok := s.pending[ctx.Conn]
	if ok {
		delete(s.pending, ctx.Conn)
	} else {
		m = s.newMount()
	}

	media := m.media
	stream := m.stream
	write := func(pkt *rtp.Packet) error {
		return stream.WritePacketRTP(media, pkt)
	}

	session, err := NewSession(uuid.NewString(), s.produce, s.cfg.Session, write, s.counters, s.metrics)
	if err != nil {
		stream.Close()
		return &base.Response{StatusCode: base.StatusInternalServerError}, nil, err
	}
	// Closing the client session makes the player reconnect
	rtspSession := ctx.Session
	session.OnGiveUp(func(err error) {
		slog.Warn("rtsp: closing client session without a pipeline", "session_id", session.ID(), "error", err)
		rtspSession.Close()
	})
	m.session = session
	s.sessions[ctx.Session] = m

	s.active.Add(1)
	s.total.Add(1)
	s.metrics.ConsumerConnected(metrics.TransportRTSP)

	slog.Info("rtsp: client session created",
		"session_id", session.ID(),
		"remote", ctx.Conn.NetConn().RemoteAddr(),
		"active", s.active.Load(),
	)
	return &base.Response{StatusCode: base.StatusOK}, stream, nil
}

// OnPlay implements gortsplib.ServerHandlerOnPlay.
func (s *Server) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	s.mu.Lock()
	m, ok := s.sessions[ctx.Session]
	s.mu.Unlock()

	if !ok {
		return &base.Response{StatusCode: base.StatusSessionNotFound}, errors.New("rtsp: PLAY without SETUP")
	}

	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	if err := m.session.Start(parent); err != nil {
		slog.Error("rtsp: failed to start session pipeline", "session_id", m.session.ID(), "error", err)
		return &base.Response{StatusCode: base.StatusInternalServerError}, err
	}
	return &base.Response{StatusCode: base.StatusOK}, nil
}

// release stops the session and closes its stream.
func (s *Server) release(m *mount) {
	m.session.Stop()
	m.stream.Close()
	s.active.Add(-1)
	s.metrics.ConsumerDisconnected(metrics.TransportRTSP)
}

// closeAll releases everything still registered after the listener stopped.
func (s *Server) closeAll() {
	s.mu.Lock()
	sessions := s.sessions
	pending := s.pending
	s.sessions = make(map[*gortsplib.ServerSession]*mount)
	s.pending = make(map[*gortsplib.ServerConn]*mount)
	s.mu.Unlock()

	for _, m := range sessions {
		s.release(m)
	}
	for _, m := range pending {
		m.stream.Close()
	}
}
