package rtsp

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/tuomaz/ha-sensor-streamer/internal/metrics"
	"github.com/tuomaz/ha-sensor-streamer/internal/pacing"
)

// Counters aggregates RTSP telemetry across sessions. Safe for concurrent use.
type Counters struct {
	FramesPushed  atomic.Uint64
	FramesSkipped atomic.Uint64
	PushFailures  atomic.Uint64
	PacketsSent   atomic.Uint64
	BytesSent     atomic.Uint64
	Restarts      atomic.Uint64

	ErrorsNegotiation atomic.Uint64
	ErrorsCodec       atomic.Uint64
	ErrorsResource    atomic.Uint64
	ErrorsStream      atomic.Uint64
	ErrorsUnknown     atomic.Uint64

	Deliveries *pacing.Window
}

// NewCounters creates counters with a delivery window of the given size.
func NewCounters(window int) *Counters {
	return &Counters{Deliveries: pacing.NewWindow(window)}
}

func (c *Counters) countError(category ErrorCategory) {
	switch category {
	case ErrCategoryNegotiation:
		c.ErrorsNegotiation.Add(1)
	case ErrCategoryCodec:
		c.ErrorsCodec.Add(1)
	case ErrCategoryResource:
		c.ErrorsResource.Add(1)
	case ErrCategoryStream:
		c.ErrorsStream.Add(1)
	default:
		c.ErrorsUnknown.Add(1)
	}
}

// PacketWriter forwards one RTP packet to the session's RTSP stream.
type PacketWriter func(pkt *rtp.Packet) error

// CallbackContext holds state needed by GStreamer callbacks
type CallbackContext struct {
	SessionID string
	Source    *FrameSource
	Write     PacketWriter
	Counters  *Counters
	Metrics   *metrics.Metrics
}

// OnNeedData is called by appsrc whenever its queue wants another buffer
//
// This callback:
//  1. Asks the session's FrameSource for the next frame (render + timestamp)
//  2. Wraps the RGB bytes in a GStreamer buffer
//  3. Stamps PTS and duration
//  4. Pushes it downstream
//
// Render and push failures are logged and swallowed. The FrameSource clock
// has already advanced, so the next frame keeps its correct timestamp.
func OnNeedData(src *app.Source, ctx *CallbackContext) {
	start := time.Now()

	frame, err := ctx.Source.Next()
	if err != nil {
		ctx.Counters.FramesSkipped.Add(1)
		ctx.Metrics.FrameSkipped(metrics.TransportRTSP)
		slog.Warn("rtsp: frame render failed, skipping buffer",
			"session_id", ctx.SessionID,
			"pts", frame.PTS,
			"error", err,
		)
		return
	}

	buffer := gst.NewBufferFromBytes(frame.Data)
	buffer.SetPresentationTimestamp(frame.PTS)
	buffer.SetDuration(frame.Duration)

	if ret := src.PushBuffer(buffer); ret != gst.FlowOK {
		ctx.Counters.PushFailures.Add(1)
		ctx.Metrics.PushFailed()
		slog.Warn("rtsp: push to pipeline failed",
			"session_id", ctx.SessionID,
			"seq", frame.Seq,
			"pts", frame.PTS,
			"flow", ret,
		)
		return
	}

	ctx.Counters.FramesPushed.Add(1)
	ctx.Counters.Deliveries.Mark(time.Now())
	ctx.Metrics.FrameRendered(metrics.TransportRTSP, time.Since(start), 0)

	slog.Debug("rtsp: frame pushed",
		"session_id", ctx.SessionID,
		"seq", frame.Seq,
		"pts", frame.PTS,
	)
}

// OnNewSample is called by appsink for every RTP packet the payloader emits
//
// This callback:
//  1. Pulls the sample and maps its buffer
//  2. Copies the bytes (GStreamer reuses the buffer, rtp.Packet aliases its input)
//  3. Parses the RTP packet
//  4. Writes it to the session's RTSP stream
//
// Malformed packets and write errors are logged and skipped; the pipeline
// keeps running.
func OnNewSample(sink *app.Sink, ctx *CallbackContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("rtsp: failed to pull sample from appsink, skipping packet", "session_id", ctx.SessionID)
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("rtsp: failed to get buffer from sample, skipping packet", "session_id", ctx.SessionID)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("rtsp: empty buffer received", "session_id", ctx.SessionID)
		return gst.FlowOK
	}

	raw := make([]byte, len(data))
	copy(raw, data)
	buffer.Unmap()

	if err := forwardPacket(raw, ctx); err != nil {
		slog.Debug("rtsp: packet dropped", "session_id", ctx.SessionID, "error", err)
	}
	return gst.FlowOK
}

// forwardPacket parses one RTP packet and hands it to the writer.
func forwardPacket(raw []byte, ctx *CallbackContext) error {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return err
	}
	if err := ctx.Write(&pkt); err != nil {
		return err
	}

	ctx.Counters.PacketsSent.Add(1)
	ctx.Counters.BytesSent.Add(uint64(len(raw)))
	ctx.Metrics.BytesSent(metrics.TransportRTSP, len(raw))
	return nil
}
