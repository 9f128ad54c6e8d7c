package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/yoockh/anamnesi/internal/logger"
)

type countingDevice struct {
	mu     sync.Mutex
	err    error
	opens  int
	closes int
	inner  *PipeDevice
}

func (d *countingDevice) Open(ctx context.Context) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	rc, err := d.inner.Open(ctx)
	if err != nil {
		return nil, err
	}
	d.opens++
	return &closeCounter{ReadCloser: rc, d: d}, nil
}

type closeCounter struct {
	io.ReadCloser
	d *countingDevice
}

func (c *closeCounter) Close() error {
	c.d.mu.Lock()
	c.d.closes++
	c.d.mu.Unlock()
	return c.ReadCloser.Close()
}

func collect(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var out []Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("chunk channel was not closed")
		}
	}
}

func TestSessionStartDeviceErrors(t *testing.T) {
	for _, want := range []error{ErrPermissionDenied, ErrDeviceUnavailable} {
		dev := &countingDevice{err: want, inner: NewPipeDevice()}
		s := NewSession(dev, Config{Interval: time.Hour}, logger.Discard())

		if _, err := s.Start(context.Background()); !errors.Is(err, want) {
			t.Fatalf("Start error = %v, want %v", err, want)
		}
		// not recording: stop is a no-op
		s.Stop()
		if dev.opens != 0 || dev.closes != 0 {
			t.Fatalf("opens=%d closes=%d, want 0/0", dev.opens, dev.closes)
		}
	}
}

func TestSessionStopFlushesTailAndReleases(t *testing.T) {
	pipe := NewPipeDevice()
	pipe.Attach()
	dev := &countingDevice{inner: pipe}
	s := NewSession(dev, Config{Interval: time.Hour, SampleRate: 16000}, logger.Discard())

	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := pipe.Write(make([]byte, 3200)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	s.Stop()
	chunks := collect(t, ch)

	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Index != 1 || c.MIMEType != "audio/wav" {
		t.Errorf("chunk = {Index:%d MIME:%s}, want {1 audio/wav}", c.Index, c.MIMEType)
	}
	if len(c.Data) != WAVHeaderSize+3200 {
		t.Errorf("chunk size = %d, want %d", len(c.Data), WAVHeaderSize+3200)
	}
	if c.Duration != 100*time.Millisecond {
		t.Errorf("duration = %v, want 100ms", c.Duration)
	}
	if dev.closes != 1 {
		t.Errorf("device closed %d times, want 1", dev.closes)
	}
	if pipe.Busy() {
		t.Error("device still held after Stop")
	}
}

func TestSessionEmitsChunksInCaptureOrder(t *testing.T) {
	pipe := NewPipeDevice()
	pipe.Attach()
	s := NewSession(pipe, Config{Interval: 15 * time.Millisecond}, logger.Discard())

	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		frame := bytes.Repeat([]byte{0x10, 0x00}, 160)
		for i := 0; i < 30; i++ {
			_, _ = pipe.Write(frame)
			time.Sleep(3 * time.Millisecond)
		}
	}()

	var chunks []Chunk
	go func() {
		<-done
		s.Stop()
	}()
	chunks = collect(t, ch)

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != int64(i+1) {
			t.Fatalf("chunk %d has index %d", i, c.Index)
		}
		if !bytes.HasPrefix(c.Data, []byte("RIFF")) {
			t.Fatalf("chunk %d is not a WAV payload", i)
		}
	}
}

func TestSessionRestartAfterStop(t *testing.T) {
	pipe := NewPipeDevice()
	pipe.Attach()
	s := NewSession(pipe, Config{Interval: time.Hour}, logger.Discard())

	for cycle := 0; cycle < 3; cycle++ {
		ch, err := s.Start(context.Background())
		if err != nil {
			t.Fatalf("cycle %d: Start: %v", cycle, err)
		}
		if _, err := s.Start(context.Background()); !errors.Is(err, ErrDeviceBusy) {
			t.Fatalf("cycle %d: second Start error = %v, want ErrDeviceBusy", cycle, err)
		}
		_, _ = pipe.Write(make([]byte, 640))
		s.Stop()
		s.Stop()

		chunks := collect(t, ch)
		if len(chunks) != 1 || chunks[0].Index != 1 {
			t.Fatalf("cycle %d: chunks = %+v, want a single chunk with index 1", cycle, chunks)
		}
	}
}

func TestSessionEndsWhenFeederDetaches(t *testing.T) {
	pipe := NewPipeDevice()
	pipe.Attach()
	s := NewSession(pipe, Config{Interval: time.Hour}, logger.Discard())

	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, _ = pipe.Write(make([]byte, 320))
	pipe.Detach()

	chunks := collect(t, ch)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	s.Stop()

	if _, err := s.Start(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Start after detach error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestSessionStopsOnContextCancel(t *testing.T) {
	pipe := NewPipeDevice()
	pipe.Attach()
	s := NewSession(pipe, Config{Interval: time.Hour}, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	collect(t, ch)
	s.Stop()

	if pipe.Busy() {
		t.Error("device still held after context cancellation")
	}
}

func TestSessionKeepsSamplesAlignedAcrossOddFrames(t *testing.T) {
	pipe := NewPipeDevice()
	pipe.Attach()
	s := NewSession(pipe, Config{Interval: 20 * time.Millisecond}, logger.Discard())

	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// six samples of 0x0102, split so a tick lands mid-sample
	stream := bytes.Repeat([]byte{0x02, 0x01}, 6)
	if _, err := pipe.Write(stream[:3]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	time.Sleep(70 * time.Millisecond)
	if _, err := pipe.Write(stream[3:]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	s.Stop()

	var samples []uint16
	for _, c := range collect(t, ch) {
		pcm := c.Data[WAVHeaderSize:]
		for i := 0; i+1 < len(pcm); i += 2 {
			samples = append(samples, binary.LittleEndian.Uint16(pcm[i:]))
		}
	}
	if len(samples) != 6 {
		t.Fatalf("got %d samples, want 6", len(samples))
	}
	for i, v := range samples {
		if v != 0x0102 {
			t.Fatalf("sample %d = %#04x, want 0x0102", i, v)
		}
	}
}
