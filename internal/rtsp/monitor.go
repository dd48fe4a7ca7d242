package rtsp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/tuomaz/ha-sensor-streamer/internal/metrics"
)

// MonitorInfo carries the identifiers logged with bus messages.
type MonitorInfo struct {
	SessionID  string
	Resolution string
	StartedAt  time.Time
	Source     *FrameSource
}

// MonitorPipelineBus monitors the GStreamer pipeline bus for messages
//
// This function:
//  1. Polls pipeline bus for messages (EOS, Error, StateChanged)
//  2. Classifies errors for telemetry
//  3. Updates error counters atomically
//  4. Resets restart state on PLAYING transition
//
// Returns an error if the pipeline ends or fails (triggers a rebuild).
// Returns nil if context is cancelled (graceful shutdown).
func MonitorPipelineBus(
	ctx context.Context,
	pipeline *gst.Pipeline,
	counters *Counters,
	m *metrics.Metrics,
	state *RestartState,
	info MonitorInfo,
) error {
	if pipeline == nil {
		return fmt.Errorf("pipeline not initialized")
	}

	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("rtsp: context cancelled, stopping pipeline monitor", "session_id", info.SessionID)
			return nil

		default:
			// Short timeout keeps shutdown responsive
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}

			switch msg.Type() {
			case gst.MessageEOS:
				slog.Info("rtsp: end of stream received",
					"session_id", info.SessionID,
					"uptime", time.Since(info.StartedAt),
					"position", info.Source.Position(),
				)
				return fmt.Errorf("end of stream")

			case gst.MessageError:
				gerr := msg.ParseError()
				category := ClassifyGStreamerError(gerr)
				counters.countError(category)
				m.PipelineError(category.String())

				slog.Error("rtsp: pipeline error",
					"error", gerr.Error(),
					"debug", gerr.DebugString(),
					"category", category.String(),
					"session_id", info.SessionID,
					"resolution", info.Resolution,
					"uptime", time.Since(info.StartedAt),
					"position", info.Source.Position(),
					"restarts", state.Restarts(),
				)
				return fmt.Errorf("pipeline error [%s]: %s", category.String(), gerr.Error())

			case gst.MessageStateChanged:
				if msg.Source() == pipeline.GetName() {
					old, new := msg.ParseStateChanged()
					slog.Debug("rtsp: pipeline state changed",
						"session_id", info.SessionID,
						"from", old,
						"to", new,
					)
					if new == gst.StatePlaying {
						state.Reset()
					}
				}
			}
		}
	}
}
