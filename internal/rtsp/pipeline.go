package rtsp

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

const (
	// PayloadType is the dynamic RTP payload type announced for H.264.
	PayloadType = 96

	// rtpMTU keeps packets below the usual UDP payload limit.
	rtpMTU = 1200

	// x264 enum/flag values (gst-inspect-1.0 x264enc)
	x264SpeedPresetUltrafast = 1
	x264TuneZeroLatency      = 0x00000004
)

// PipelineConfig contains configuration for the encoding pipeline
type PipelineConfig struct {
	Width       int
	Height      int
	FPS         int
	BitrateKbps int // x264enc bitrate, 0 keeps the encoder default
}

// PipelineElements holds references to the elements a session needs after construction
type PipelineElements struct {
	Pipeline *gst.Pipeline
	AppSrc   *app.Source
	AppSink  *app.Sink
	Encoder  *gst.Element
}

// CreatePipeline creates the per-session encoding pipeline
//
// Pipeline structure:
//
//	appsrc (RGB, need-data) → videoconvert → x264enc → rtph264pay → appsink (RTP)
//
// The pipeline is configured but NOT started (state remains NULL). The caller
// installs the appsrc/appsink callbacks and then sets it to PLAYING.
func CreatePipeline(cfg PipelineConfig) (*PipelineElements, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, fmt.Errorf("invalid pipeline config %dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)
	}

	// Safe to call multiple times
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	appsrc, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsrc: %w", err)
	}
	appsrc.SetCaps(gst.NewCapsFromString(buildRawCaps(cfg.Width, cfg.Height, cfg.FPS)))
	appsrc.SetProperty("format", gst.FormatTime) // PTS in nanoseconds
	appsrc.SetProperty("is-live", true)
	appsrc.SetProperty("do-timestamp", false) // Timestamps come from the FrameSource
	appsrc.SetProperty("block", false)
	appsrc.SetProperty("max-bytes", uint64(cfg.Width*cfg.Height*3*2)) // Two frames of backlog

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	encoder, err := gst.NewElement("x264enc")
	if err != nil {
		return nil, fmt.Errorf("failed to create x264enc: %w", err)
	}
	encoder.SetProperty("speed-preset", x264SpeedPresetUltrafast)
	encoder.SetProperty("tune", x264TuneZeroLatency)
	encoder.SetProperty("key-int-max", uint(cfg.FPS)) // One keyframe per second
	if cfg.BitrateKbps > 0 {
		encoder.SetProperty("bitrate", uint(cfg.BitrateKbps))
	}

	payloader, err := gst.NewElement("rtph264pay")
	if err != nil {
		return nil, fmt.Errorf("failed to create rtph264pay: %w", err)
	}
	payloader.SetProperty("config-interval", -1) // SPS/PPS with every IDR
	payloader.SetProperty("pt", uint(PayloadType))
	payloader.SetProperty("mtu", uint(rtpMTU))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetCaps(gst.NewCapsFromString("application/x-rtp"))
	appsink.SetProperty("sync", false) // Packets leave as soon as they are payloaded

	pipeline.AddMany(
		appsrc.Element,
		converter,
		encoder,
		payloader,
		appsink.Element,
	)

	if err := gst.ElementLinkMany(
		appsrc.Element,
		converter,
		encoder,
		payloader,
		appsink.Element,
	); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	slog.Debug("rtsp: encoding pipeline created",
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
		"bitrate_kbps", cfg.BitrateKbps,
	)

	return &PipelineElements{
		Pipeline: pipeline,
		AppSrc:   appsrc,
		AppSink:  appsink,
		Encoder:  encoder,
	}, nil
}

// DestroyPipeline sets the pipeline to NULL and releases its resources.
// Safe to call with nil.
func DestroyPipeline(elements *PipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// CheckGStreamerAvailable verifies the elements the encoding pipeline needs
// can be created. Used for fail-fast validation at startup.
func CheckGStreamerAvailable() error {
	gst.Init(nil)

	for _, factory := range []string{"appsrc", "videoconvert", "x264enc", "rtph264pay", "appsink"} {
		elem, err := gst.NewElement(factory)
		if err != nil {
			return fmt.Errorf("GStreamer element %q not available: %w", factory, err)
		}
		elem.SetState(gst.StateNull)
	}
	return nil
}

// buildRawCaps builds the appsrc caps for packed 8-bit RGB.
//
// Format: "video/x-raw,format=RGB,width=W,height=H,framerate=N/1"
func buildRawCaps(width, height, fps int) string {
	return fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		width, height, fps,
	)
}
