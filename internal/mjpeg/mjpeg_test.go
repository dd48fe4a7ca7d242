package mjpeg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var fakeJPEG = []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

func TestWritePart(t *testing.T) {
	var buf bytes.Buffer
	n, err := WritePart(&buf, fakeJPEG)
	if err != nil {
		t.Fatalf("WritePart() failed: %v", err)
	}

	want := "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 7\r\n\r\n" + string(fakeJPEG) + "\r\n"
	if buf.String() != want {
		t.Errorf("WritePart() wrote %q, want %q", buf.String(), want)
	}
	if n != len(want) {
		t.Errorf("WritePart() = %d bytes, want %d", n, len(want))
	}
}

func TestNew_Validation(t *testing.T) {
	frame := func() ([]byte, error) { return fakeJPEG, nil }

	if _, err := New(nil, 5, nil); err == nil {
		t.Error("New() without producer returned nil error")
	}
	if _, err := New(frame, 0, nil); err == nil {
		t.Error("New() with fps 0 returned nil error")
	}

	d, err := New(frame, 5, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if d.Interval() != 200*time.Millisecond {
		t.Errorf("Interval() = %v, want 200ms", d.Interval())
	}
}

// partCounter cancels the stream once it has seen enough parts.
type partCounter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	parts  int
	limit  int
	cancel context.CancelFunc
}

func (p *partCounter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Write(b)
	if bytes.HasPrefix(b, []byte("--"+Boundary)) {
		p.parts++
		if p.parts >= p.limit {
			p.cancel()
		}
	}
	return len(b), nil
}

func TestDriver_Stream_SkipsFailedTicks(t *testing.T) {
	var calls atomic.Int64
	frame := func() ([]byte, error) {
		if calls.Add(1)%2 == 0 {
			return nil, errors.New("encode failed")
		}
		return fakeJPEG, nil
	}

	d, err := New(frame, 100, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w := &partCounter{limit: 3, cancel: cancel}

	if err := d.Stream(ctx, w, nil); err != nil {
		t.Fatalf("Stream() returned %v after cancel, want nil", err)
	}

	stats := d.Stats()
	if stats.FramesSent != 3 {
		t.Errorf("FramesSent = %d, want 3", stats.FramesSent)
	}
	if stats.FramesSkipped < 2 {
		t.Errorf("FramesSkipped = %d, want >= 2", stats.FramesSkipped)
	}
	if stats.ActiveConsumers != 0 {
		t.Errorf("ActiveConsumers = %d after return, want 0", stats.ActiveConsumers)
	}
	t.Logf("✅ %d frames sent, %d ticks skipped", stats.FramesSent, stats.FramesSkipped)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestDriver_Stream_StopsOnWriteError(t *testing.T) {
	d, err := New(func() ([]byte, error) { return fakeJPEG, nil }, 100, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = d.Stream(context.Background(), failingWriter{}, nil)
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Stream() error = %v, want io.ErrClosedPipe", err)
	}
}

func TestDriver_ServeHTTP(t *testing.T) {
	d, err := New(func() ([]byte, error) { return fakeJPEG, nil }, 50, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	srv := httptest.NewServer(d)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] != Boundary {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}

	mr := multipart.NewReader(resp.Body, Boundary)
	for i := 0; i < 3; i++ {
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("part %d: %v", i, err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("part %d Content-Type = %q", i, ct)
		}
		body, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("part %d read: %v", i, err)
		}
		if !bytes.Equal(body, fakeJPEG) {
			t.Errorf("part %d body = % x", i, body)
		}
	}
}

// TestDriver_IndependentConsumers checks each consumer drives its own renders
func TestDriver_IndependentConsumers(t *testing.T) {
	var renders atomic.Int64
	d, err := New(func() ([]byte, error) {
		renders.Add(1)
		return fakeJPEG, nil
	}, 100, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = d.Stream(ctx, &partCounter{limit: 2, cancel: cancel}, nil)
		}()
	}
	wg.Wait()

	if got := renders.Load(); got < 6 {
		t.Errorf("renders = %d, want at least 2 per consumer", got)
	}
	if got := d.Stats().TotalConsumers; got != 3 {
		t.Errorf("TotalConsumers = %d, want 3", got)
	}
}
