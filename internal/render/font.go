package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// TextFace is the text capability the renderer depends on.
type TextFace interface {
	// Measure returns the horizontal advance of text in pixels, rounded up.
	Measure(text string) int
	// Draw paints text with its top edge at y and left edge at x.
	Draw(dst draw.Image, x, y int, text string, c color.Color)
}

// Font is a TrueType/OpenType font at a fixed pixel size.
//
// opentype faces keep per-face scratch buffers and are not safe for concurrent
// use, so Font hands out faces from a pool. The parsed font itself is shared.
type Font struct {
	size   float64
	ascent int
	faces  sync.Pool
}

// LoadFont reads a TTF/OTF file. An empty path selects the embedded Go Regular font.
func LoadFont(path string, size float64) (*Font, error) {
	if path == "" {
		return ParseFont(goregular.TTF, size)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("render: failed to read font %s: %w", path, err)
	}
	return ParseFont(data, size)
}

// ParseFont parses font data and prepares faces at size pixels (72 DPI, so
// points equal pixels).
func ParseFont(data []byte, size float64) (*Font, error) {
	if size <= 0 {
		return nil, fmt.Errorf("render: invalid font size %.2f", size)
	}

	parsed, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("render: failed to parse font: %w", err)
	}

	opts := &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}

	// Build one face eagerly so a broken font fails at startup, not mid-stream
	first, err := opentype.NewFace(parsed, opts)
	if err != nil {
		return nil, fmt.Errorf("render: failed to create font face: %w", err)
	}

	f := &Font{
		size:   size,
		ascent: first.Metrics().Ascent.Ceil(),
	}
	f.faces.New = func() any {
		face, err := opentype.NewFace(parsed, opts)
		if err != nil {
			// Same font and options already succeeded once
			panic(fmt.Sprintf("render: font face creation failed after validation: %v", err))
		}
		return face
	}
	f.faces.Put(first)

	return f, nil
}

// Size returns the configured pixel size.
func (f *Font) Size() float64 {
	return f.size
}

// Measure implements TextFace.
func (f *Font) Measure(text string) int {
	face := f.faces.Get().(font.Face)
	defer f.faces.Put(face)

	return font.MeasureString(face, text).Ceil()
}

// Draw implements TextFace.
func (f *Font) Draw(dst draw.Image, x, y int, text string, c color.Color) {
	face := f.faces.Get().(font.Face)
	defer f.faces.Put(face)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y+f.ascent),
	}
	d.DrawString(text)
}
