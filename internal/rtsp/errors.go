package rtsp

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies encoding pipeline errors for telemetry.
type ErrorCategory int

const (
	// ErrCategoryNegotiation indicates caps/format negotiation failures
	ErrCategoryNegotiation ErrorCategory = iota
	// ErrCategoryCodec indicates encoder or payloader failures
	ErrCategoryCodec
	// ErrCategoryResource indicates missing plugins, memory or device exhaustion
	ErrCategoryResource
	// ErrCategoryStream indicates data flow failures (not-linked, flushing, EOS)
	ErrCategoryStream
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns the label used in logs and metrics.
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNegotiation:
		return "negotiation"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryResource:
		return "resource"
	case ErrCategoryStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Keyword lists, checked in order of specificity.
var (
	negotiationKeywords = []string{
		"not negotiated",
		"not-negotiated",
		"negotiation",
		"caps",
		"format",
	}

	resourceKeywords = []string{
		"missing plugin",
		"no element",
		"out of memory",
		"could not allocate",
		"resource",
		"busy",
	}

	codecKeywords = []string{
		"x264",
		"h264",
		"encode",
		"encoder",
		"payload",
		"rtp",
		"codec",
	}

	streamKeywords = []string{
		"internal data stream error",
		"not-linked",
		"not linked",
		"flushing",
		"end of stream",
		"streaming stopped",
	}
)

// ClassifyGStreamerError categorizes a bus error message
//
// go-gst's GError does not expose the error domain, so classification relies
// on the message and debug strings.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return Classify(gerr.Error(), gerr.DebugString())
}

// Classify categorizes an error from its message and debug text.
//
// Priority: negotiation, resource, codec, stream. A negotiation failure
// usually also mentions the encoder, so the more specific category wins.
func Classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, negotiationKeywords):
		return ErrCategoryNegotiation
	case containsAny(combined, resourceKeywords):
		return ErrCategoryResource
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, streamKeywords):
		return ErrCategoryStream
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
