// Package capture turns a live PCM stream into fixed-duration audio chunks.
//
// A Session owns one Device for the duration of a recording: it opens the
// device on Start, cuts whatever the device produced into one WAV chunk per
// Interval, and releases the device exactly once when the recording ends,
// whether that is an explicit Stop, a read error or context cancellation.
package capture

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrPermissionDenied  = errors.New("capture: microphone permission denied")
	ErrDeviceUnavailable = errors.New("capture: no input device available")
	ErrDeviceBusy        = errors.New("capture: input device already in use")
	ErrNotRecording      = errors.New("capture: not recording")
)

const (
	DefaultInterval   = 3000 * time.Millisecond
	DefaultSampleRate = 16000
	DefaultFrameBytes = 3200 // 100ms of 16kHz PCM16 mono
)

// Chunk is one capture window handed to transcription. Index starts at 1
// for every recording and grows by one per chunk, in capture order.
type Chunk struct {
	Index     int64
	Data      []byte
	MIMEType  string
	StartedAt time.Time
	Duration  time.Duration
}

// Device is an audio input that can be held by one stream at a time.
// The returned stream yields little-endian PCM16 mono frames.
type Device interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Source is what a recording controller consumes: a channel of chunks that
// is closed once the source has stopped and released its device.
type Source interface {
	Start(ctx context.Context) (<-chan Chunk, error)
	Stop()
	Level() float64
}
