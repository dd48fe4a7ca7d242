package render

import (
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/tuomaz/ha-sensor-streamer/internal/cache"
	"github.com/tuomaz/ha-sensor-streamer/internal/template"
)

// monoFace is a fixed-advance face: every rune is 10px wide and glyphs are
// drawn as solid boxes of the font size.
type monoFace struct {
	size int
}

func (m monoFace) Measure(text string) int {
	return utf8.RuneCountInString(text) * 10
}

func (m monoFace) Draw(dst draw.Image, x, y int, text string, c color.Color) {
	r := image.Rect(x, y, x+m.Measure(text), y+m.size)
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func newResolver() *template.Resolver {
	at := time.Date(2024, time.March, 9, 14, 5, 7, 0, time.Local)
	r, err := template.NewResolver("sv_SE", nil, template.WithClock(func() time.Time { return at }))
	if err != nil {
		panic(err)
	}
	return r
}

func TestNew_Validation(t *testing.T) {
	face := monoFace{size: 40}
	res := newResolver()

	tests := []struct {
		name    string
		cfg     Config
		face    TextFace
		res     Resolver
		wantErr bool
	}{
		{"valid", Config{Width: 640, Height: 360, FontSize: 40}, face, res, false},
		{"zero width", Config{Width: 0, Height: 360, FontSize: 40}, face, res, true},
		{"negative height", Config{Width: 640, Height: -1, FontSize: 40}, face, res, true},
		{"zero font size", Config{Width: 640, Height: 360, FontSize: 0}, face, res, true},
		{"nil face", Config{Width: 640, Height: 360, FontSize: 40}, nil, res, true},
		{"nil resolver", Config{Width: 640, Height: 360, FontSize: 40}, face, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.face, tt.res)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRenderer_Layout(t *testing.T) {
	r, err := New(Config{
		Width:    640,
		Height:   360,
		FontSize: 40,
		Lines:    []string{"{time:%H:%M}", "Temp {sensor.temp}", "{sensor.missing}"},
	}, monoFace{size: 40}, newResolver())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	got := r.Layout(cache.Snapshot{"sensor.temp": "22.5"})

	// line height 40, gap 10, 3 lines → 140px block, top at (360-140)/2 = 110
	want := []PlacedLine{
		{Text: "14:05", X: (640 - 50) / 2, Y: 110, Width: 50},
		{Text: "Temp 22,5", X: (640 - 90) / 2, Y: 160, Width: 90},
		{Text: "?", X: (640 - 10) / 2, Y: 210, Width: 10},
	}

	if len(got) != len(want) {
		t.Fatalf("Layout() returned %d lines, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRenderer_Layout_SingleLineCentered(t *testing.T) {
	r, err := New(Config{Width: 100, Height: 100, FontSize: 20, Lines: []string{"ab"}},
		monoFace{size: 20}, newResolver())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	got := r.Layout(nil)
	if len(got) != 1 || got[0].X != 40 || got[0].Y != 40 {
		t.Errorf("Layout() = %+v, want X=40 Y=40", got)
	}
}

func TestRenderer_Render_RGB(t *testing.T) {
	r, err := New(Config{Width: 64, Height: 32, FontSize: 10, Lines: []string{"x"}},
		monoFace{size: 10}, newResolver())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	raw := r.Render(nil).RGB()
	if len(raw) != 64*32*3 {
		t.Fatalf("RGB() length = %d, want %d", len(raw), 64*32*3)
	}

	// "x" is 10px wide at x=27, block top at (32-10)/2 = 11
	at := func(x, y int) [3]byte {
		i := (y*64 + x) * 3
		return [3]byte{raw[i], raw[i+1], raw[i+2]}
	}
	if got := at(0, 0); got != [3]byte{0, 0, 0} {
		t.Errorf("background pixel = %v, want black", got)
	}
	if got := at(30, 15); got != [3]byte{255, 255, 255} {
		t.Errorf("glyph pixel = %v, want white", got)
	}
}

func TestRenderer_Render_EmptyLinesIsBlack(t *testing.T) {
	r, err := New(Config{Width: 16, Height: 16, FontSize: 8}, monoFace{size: 8}, newResolver())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	for i, b := range r.Render(nil).RGB() {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0 on an empty canvas", i, b)
		}
	}
}

// TestRenderer_JPEGMarker renders with the embedded font and checks the SOI marker
func TestRenderer_JPEGMarker(t *testing.T) {
	f, err := LoadFont("", 48)
	if err != nil {
		t.Fatalf("LoadFont() failed: %v", err)
	}

	r, err := New(Config{
		Width:    640,
		Height:   360,
		FontSize: 48,
		Lines:    []string{"Date: {time:%Y-%m-%d}", "Temp: {sensor.temp}°C"},
	}, f, newResolver())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	frame, err := r.Render(cache.Snapshot{"sensor.temp": "22.5"}).JPEG(DefaultJPEGQuality)
	if err != nil {
		t.Fatalf("JPEG() failed: %v", err)
	}
	if len(frame) < 2 || frame[0] != 0xFF || frame[1] != 0xD8 {
		t.Fatalf("frame does not start with SOI marker: % x", frame[:2])
	}
}

func TestFont_Measure(t *testing.T) {
	f, err := LoadFont("", 48)
	if err != nil {
		t.Fatalf("LoadFont() failed: %v", err)
	}

	if got := f.Measure(""); got != 0 {
		t.Errorf("Measure(\"\") = %d, want 0", got)
	}

	short, long := f.Measure("1"), f.Measure("1111")
	if short <= 0 || long <= short {
		t.Errorf("Measure() not monotonic: %d vs %d", short, long)
	}
}

func TestFont_DrawPaintsWhite(t *testing.T) {
	f, err := LoadFont("", 32)
	if err != nil {
		t.Fatalf("LoadFont() failed: %v", err)
	}

	r, err := New(Config{Width: 200, Height: 60, FontSize: 32, Lines: []string{"88"}}, f, newResolver())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	raw := r.Render(nil).RGB()
	lit := 0
	for i := 0; i < len(raw); i += 3 {
		if raw[i] > 128 {
			lit++
		}
	}
	if lit == 0 {
		t.Error("no glyph pixels drawn")
	}
}

func TestLoadFont_Errors(t *testing.T) {
	if _, err := LoadFont("/nonexistent/font.ttf", 48); err == nil {
		t.Error("LoadFont() with missing file returned nil error")
	}
	if _, err := ParseFont([]byte("not a font"), 48); err == nil {
		t.Error("ParseFont() with garbage returned nil error")
	}
	if _, err := LoadFont("", 0); err == nil {
		t.Error("LoadFont() with zero size returned nil error")
	}
}
