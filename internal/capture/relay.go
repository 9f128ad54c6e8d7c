package capture

import (
	"context"
	"sync"
	"time"
)

// Relay is a Source for clients that encode their own chunks (for example a
// browser MediaRecorder emitting webm every few seconds). Capture indices
// are assigned by the relay in arrival order.
type Relay struct {
	mu       sync.Mutex
	attached bool
	denied   bool
	run      *relayRun
	index    int64
}

// relayRun is one recording. Its channel is closed only after every Push
// that saw the recording has returned.
type relayRun struct {
	out     chan Chunk
	done    chan struct{}
	pushing sync.WaitGroup
}

func NewRelay() *Relay { return &Relay{} }

func (r *Relay) Attach() {
	r.mu.Lock()
	r.attached = true
	r.denied = false
	r.mu.Unlock()
}

func (r *Relay) Detach() {
	r.mu.Lock()
	r.attached = false
	r.mu.Unlock()
	r.Stop()
}

func (r *Relay) Deny() {
	r.mu.Lock()
	r.denied = true
	r.mu.Unlock()
}

func (r *Relay) Start(_ context.Context) (<-chan Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.denied:
		return nil, ErrPermissionDenied
	case !r.attached:
		return nil, ErrDeviceUnavailable
	case r.run != nil:
		return nil, ErrDeviceBusy
	}
	r.run = &relayRun{out: make(chan Chunk, 16), done: make(chan struct{})}
	r.index = 0
	return r.run.out, nil
}

// Push forwards one encoded chunk. Empty payloads are ignored, matching a
// recorder that only reports non-empty data. A Push blocked on a slow
// consumer gives up with ErrNotRecording when the recording stops.
func (r *Relay) Push(data []byte, mimeType string, duration time.Duration) error {
	if len(data) == 0 {
		return nil
	}

	r.mu.Lock()
	run := r.run
	if run == nil {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.index++
	chunk := Chunk{
		Index:     r.index,
		Data:      data,
		MIMEType:  mimeType,
		StartedAt: time.Now().Add(-duration),
		Duration:  duration,
	}
	run.pushing.Add(1)
	r.mu.Unlock()
	defer run.pushing.Done()

	select {
	case run.out <- chunk:
		return nil
	case <-run.done:
		return ErrNotRecording
	}
}

func (r *Relay) Stop() {
	r.mu.Lock()
	run := r.run
	r.run = nil
	r.mu.Unlock()

	if run == nil {
		return
	}
	close(run.done)
	run.pushing.Wait()
	close(run.out)
}

// Level is always zero: encoded chunks carry no raw samples to measure.
func (r *Relay) Level() float64 { return 0 }
