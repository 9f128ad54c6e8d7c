package capture

import (
	"context"
	"errors"
	"io"
	"sync"
)

// PipeDevice is a Device whose audio is written by a remote client, such as
// a browser streaming microphone frames over a WebSocket.
type PipeDevice struct {
	mu       sync.Mutex
	attached bool
	denied   bool
	w        *io.PipeWriter
}

func NewPipeDevice() *PipeDevice { return &PipeDevice{} }

// Attach marks a feeder as connected and clears a previous denial.
func (d *PipeDevice) Attach() {
	d.mu.Lock()
	d.attached = true
	d.denied = false
	d.mu.Unlock()
}

// Detach disconnects the feeder; an open stream sees EOF.
func (d *PipeDevice) Detach() {
	d.mu.Lock()
	d.attached = false
	w := d.w
	d.mu.Unlock()

	if w != nil {
		_ = w.CloseWithError(io.EOF)
	}
}

// Deny records that the client refused microphone access.
func (d *PipeDevice) Deny() {
	d.mu.Lock()
	d.denied = true
	d.mu.Unlock()
}

func (d *PipeDevice) Open(_ context.Context) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.denied:
		return nil, ErrPermissionDenied
	case !d.attached:
		return nil, ErrDeviceUnavailable
	case d.w != nil:
		return nil, ErrDeviceBusy
	}

	r, w := io.Pipe()
	d.w = w
	return &pipeStream{r: r, release: func() { d.release(w) }}, nil
}

// Write feeds PCM frames into the open stream. Frames written while no
// stream is open are dropped.
func (d *PipeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	w := d.w
	d.mu.Unlock()

	if w == nil {
		return len(p), nil
	}
	n, err := w.Write(p)
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
		return len(p), nil
	}
	return n, err
}

// Busy reports whether a stream currently holds the device.
func (d *PipeDevice) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.w != nil
}

func (d *PipeDevice) release(w *io.PipeWriter) {
	d.mu.Lock()
	if d.w == w {
		d.w = nil
	}
	d.mu.Unlock()
	_ = w.Close()
}

type pipeStream struct {
	r       *io.PipeReader
	release func()
	once    sync.Once
}

func (s *pipeStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *pipeStream) Close() error {
	err := s.r.Close()
	s.once.Do(s.release)
	return err
}
