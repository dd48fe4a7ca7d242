package rtsp

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ProduceFunc renders one raw packed-RGB frame (width×height×3 bytes).
type ProduceFunc func() ([]byte, error)

// Frame is one raw frame stamped for the encoding pipeline.
type Frame struct {
	Seq      uint64
	Data     []byte
	PTS      time.Duration
	Duration time.Duration
}

// FrameSource hands out frames on demand with a private presentation clock.
//
// One FrameSource exists per RTSP session. The clock starts at zero and
// advances by exactly one frame interval on every call to Next, including
// calls whose render fails, so a skipped frame leaves a gap instead of
// shifting every later timestamp.
type FrameSource struct {
	produce  ProduceFunc
	interval time.Duration
	frameLen int

	mu   sync.Mutex
	pts  time.Duration
	seq  uint64
	fail atomic.Uint64
}

// NewFrameSource creates a source for fps frames per second. frameLen is the
// expected buffer size; 0 disables the size check.
func NewFrameSource(produce ProduceFunc, fps, frameLen int) (*FrameSource, error) {
	if produce == nil {
		return nil, errors.New("rtsp: frame producer is required")
	}
	if fps <= 0 {
		return nil, fmt.Errorf("rtsp: invalid fps %d", fps)
	}

	return &FrameSource{
		produce:  produce,
		interval: FrameInterval(fps),
		frameLen: frameLen,
	}, nil
}

// FrameInterval returns 1e9/fps nanoseconds.
func FrameInterval(fps int) time.Duration {
	return time.Duration(int64(time.Second) / int64(fps))
}

// Interval returns the per-frame duration.
func (s *FrameSource) Interval() time.Duration {
	return s.interval
}

// Next renders the next frame. The returned Frame always carries the
// timestamp slot consumed by this call, also when err is non-nil.
func (s *FrameSource) Next() (Frame, error) {
	s.mu.Lock()
	pts := s.pts
	s.pts += s.interval
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	frame := Frame{Seq: seq, PTS: pts, Duration: s.interval}

	data, err := s.produce()
	if err != nil {
		s.fail.Add(1)
		return frame, fmt.Errorf("rtsp: render failed: %w", err)
	}
	if s.frameLen > 0 && len(data) != s.frameLen {
		s.fail.Add(1)
		return frame, fmt.Errorf("rtsp: frame is %d bytes, want %d", len(data), s.frameLen)
	}

	frame.Data = data
	return frame, nil
}

// Position returns the timestamp the next frame will carry.
func (s *FrameSource) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pts
}

// Failures returns how many calls to Next failed to render.
func (s *FrameSource) Failures() uint64 {
	return s.fail.Load()
}
