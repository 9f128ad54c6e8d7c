package capture

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Interval   time.Duration
	SampleRate int
	FrameBytes int
	// ReleaseWait bounds how long Stop waits for the device to hand back
	// buffered frames after it was closed.
	ReleaseWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameBytes <= 0 {
		c.FrameBytes = DefaultFrameBytes
	}
	if c.ReleaseWait <= 0 {
		c.ReleaseWait = 250 * time.Millisecond
	}
	return c
}

// Session slices a Device stream into WAV chunks at a fixed cadence.
type Session struct {
	dev Device
	cfg Config
	log *logrus.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	level atomic.Uint64
}

func NewSession(dev Device, cfg Config, log *logrus.Logger) *Session {
	if log == nil {
		log = logrus.New()
	}
	return &Session{dev: dev, cfg: cfg.withDefaults(), log: log}
}

// Start opens the device and begins emitting chunks. Device errors are
// returned unchanged and leave the session stopped.
func (s *Session) Start(ctx context.Context) (<-chan Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, ErrDeviceBusy
	}
	if s.done != nil {
		// previous recording may still be releasing the device
		<-s.done
	}

	stream, err := s.dev.Open(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 4)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx, stream, out, s.stop, s.done)
	return out, nil
}

// Stop ends the recording, flushes the tail of audio as a final chunk and
// waits until the device is released. Calling Stop when not started is a
// no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	s.setLevel(0)
}

func (s *Session) Level() float64 { return math.Float64frombits(s.level.Load()) }

func (s *Session) setLevel(v float64) { s.level.Store(math.Float64bits(v)) }

func (s *Session) run(ctx context.Context, stream io.ReadCloser, out chan<- Chunk, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := stream.Close(); err != nil {
				s.log.WithError(err).Warn("capture: device release failed")
			}
		})
	}
	defer release()

	var (
		bufMu sync.Mutex
		pcm   []byte
	)
	readErr := make(chan error, 1)
	go func() {
		frame := make([]byte, s.cfg.FrameBytes)
		for {
			n, err := stream.Read(frame)
			if n > 0 {
				bufMu.Lock()
				pcm = append(pcm, frame[:n]...)
				bufMu.Unlock()
				s.setLevel(RMSLevel(frame[:n]))
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var index int64
	windowStart := time.Now()

	emit := func() {
		// cut on a sample boundary; an odd trailing byte opens the next window
		bufMu.Lock()
		even := len(pcm) &^ 1
		data := pcm[:even]
		var rest []byte
		if even < len(pcm) {
			rest = append(rest, pcm[even:]...)
		}
		pcm = rest
		bufMu.Unlock()

		started := windowStart
		windowStart = time.Now()

		samples := PCMToSamples(data)
		if len(samples) == 0 {
			return
		}
		wav, err := EncodeWAV(samples, s.cfg.SampleRate)
		if err != nil {
			s.log.WithError(err).Warn("capture: wav encode failed")
			return
		}
		index++
		out <- Chunk{
			Index:     index,
			Data:      wav,
			MIMEType:  "audio/wav",
			StartedAt: started,
			Duration:  time.Duration(len(samples)) * time.Second / time.Duration(s.cfg.SampleRate),
		}
	}

	// drain waits for the reader to observe the closed stream so frames
	// already delivered are part of the final chunk.
	drain := func() {
		select {
		case <-readErr:
		case <-time.After(s.cfg.ReleaseWait):
		}
	}

	for {
		select {
		case <-ticker.C:
			emit()
		case <-stop:
			release()
			drain()
			emit()
			return
		case <-ctx.Done():
			release()
			drain()
			emit()
			return
		case err := <-readErr:
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				s.log.WithError(err).Warn("capture: device read failed")
			}
			release()
			emit()
			return
		}
	}
}
