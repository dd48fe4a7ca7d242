// Package render lays out resolved text lines on a fixed-size black canvas.
//
// A Renderer is built once at startup and shared by every consumer. Each call
// to Render starts from a fresh canvas, resolves every line against the given
// snapshot and the current time, and returns a Canvas from which the caller
// picks one output: a JPEG still or a packed RGB buffer.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"

	"github.com/tuomaz/ha-sensor-streamer/internal/cache"
	"github.com/tuomaz/ha-sensor-streamer/internal/template"
)

const (
	// DefaultJPEGQuality is used when no quality is configured.
	DefaultJPEGQuality = 80

	// lineGapRatio is the inter-line gap as a fraction of the font size.
	lineGapRatio = 0.25
)

var (
	background = color.RGBA{0, 0, 0, 255}
	foreground = color.RGBA{255, 255, 255, 255}
)

// Config holds the immutable layout parameters.
type Config struct {
	Width    int
	Height   int
	FontSize float64
	Lines    []string
}

// Resolver resolves one line template. *template.Resolver satisfies it.
type Resolver interface {
	Resolve(line string, snap cache.Snapshot) string
}

// Renderer draws the configured lines. Safe for concurrent use.
type Renderer struct {
	width      int
	height     int
	lines      []string
	lineHeight int
	gap        int

	face     TextFace
	resolver Resolver
}

// New validates cfg and builds a renderer.
func New(cfg Config, face TextFace, resolver Resolver) (*Renderer, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("render: invalid canvas %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FontSize <= 0 {
		return nil, fmt.Errorf("render: invalid font size %.2f", cfg.FontSize)
	}
	if face == nil {
		return nil, fmt.Errorf("render: font face is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("render: template resolver is required")
	}

	lines := make([]string, len(cfg.Lines))
	copy(lines, cfg.Lines)

	return &Renderer{
		width:      cfg.Width,
		height:     cfg.Height,
		lines:      lines,
		lineHeight: int(cfg.FontSize),
		gap:        int(cfg.FontSize * lineGapRatio),
		face:       face,
		resolver:   resolver,
	}, nil
}

// Size returns the canvas dimensions.
func (r *Renderer) Size() (width, height int) {
	return r.width, r.height
}

// PlacedLine is one resolved line and the top-left corner it is drawn at.
type PlacedLine struct {
	Text  string
	X     int
	Y     int
	Width int
}

// Layout resolves every line and computes its position: horizontally centered
// by measured advance, and the whole block (line height × n + gap × (n−1))
// vertically centered on the canvas.
func (r *Renderer) Layout(snap cache.Snapshot) []PlacedLine {
	n := len(r.lines)
	if n == 0 {
		return nil
	}

	total := n*r.lineHeight + (n-1)*r.gap
	startY := (r.height - total) / 2

	placed := make([]PlacedLine, n)
	for i, tmpl := range r.lines {
		text := r.resolver.Resolve(tmpl, snap)
		w := r.face.Measure(text)
		placed[i] = PlacedLine{
			Text:  text,
			X:     (r.width - w) / 2,
			Y:     startY + i*(r.lineHeight+r.gap),
			Width: w,
		}
	}
	return placed
}

// Render draws one frame. Text outside the canvas is clipped by the draw
// primitive; lines never wrap.
func (r *Renderer) Render(snap cache.Snapshot) *Canvas {
	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	for _, l := range r.Layout(snap) {
		r.face.Draw(img, l.X, l.Y, l.Text, foreground)
	}

	return &Canvas{img: img}
}

// Canvas is one rendered frame. It is never cached: a new frame needs a new Render.
type Canvas struct {
	img *image.RGBA
}

// Image exposes the frame as an image.Image.
func (c *Canvas) Image() image.Image {
	return c.img
}

// WriteJPEG encodes the frame to w. Quality is clamped to 1..100.
func (c *Canvas) WriteJPEG(w io.Writer, quality int) error {
	if quality < 1 {
		quality = 1
	} else if quality > 100 {
		quality = 100
	}
	if err := jpeg.Encode(w, c.img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("render: jpeg encode failed: %w", err)
	}
	return nil
}

// JPEG returns the frame as a JPEG byte slice.
func (c *Canvas) JPEG(quality int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(c.img.Rect.Dx() * c.img.Rect.Dy() / 8)
	if err := c.WriteJPEG(&buf, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RGB returns the frame as packed 8-bit RGB, row-major, width×height×3 bytes.
func (c *Canvas) RGB() []byte {
	w, h := c.img.Rect.Dx(), c.img.Rect.Dy()
	out := make([]byte, w*h*3)

	for y := 0; y < h; y++ {
		src := c.img.Pix[y*c.img.Stride : y*c.img.Stride+w*4]
		dst := out[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			dst[x*3+0] = src[x*4+0]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return out
}

// ensure *template.Resolver keeps satisfying Resolver
var _ Resolver = (*template.Resolver)(nil)
