// Package session runs one interview's recording cycles.
//
// A Controller is a single-writer actor: one goroutine owns the interview
// state and every change to it, whether a command from a client or the
// completion of an asynchronous service call, arrives as an event on one
// channel. Completions never touch state directly, so overlapping calls
// cannot corrupt it; ordering rules (capture order for the transcript,
// newest version for analysis results) are applied inside the loop.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/anamnesi/internal/analysis"
	"github.com/yoockh/anamnesi/internal/capture"
	"github.com/yoockh/anamnesi/internal/metrics"
	"github.com/yoockh/anamnesi/internal/models"
	"github.com/yoockh/anamnesi/internal/utils"
)

var ErrClosed = errors.New("session: controller closed")

// Transcriber is the transcribeAudio(audioDataUri) collaborator.
type Transcriber interface {
	TranscribeAudio(ctx context.Context, audioDataURI string) (string, error)
}

// Analyzer is satisfied by *analysis.Coordinator.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) analysis.Result
	Finalize(ctx context.Context, pairs []models.QAPair) (string, error)
}

// Publisher receives every snapshot change.
type Publisher interface {
	PublishSnapshot(ctx context.Context, snap models.Snapshot) error
}

// ChunkLedger records the processing status of each captured chunk.
type ChunkLedger interface {
	RecordChunk(ctx context.Context, rec *models.ChunkRecord) error
	MarkChunk(ctx context.Context, interviewID string, cycle, chunkIndex int64, status, text, errMsg string, processingMS int64) error
}

// Archiver receives the outcome of every completed cycle.
type Archiver interface {
	Archive(ctx context.Context, rec *models.InterviewRecord) error
}

type SourceKind string

const (
	// SourcePCM slices raw PCM frames into chunks server side.
	SourcePCM SourceKind = "pcm"
	// SourceEncoded forwards chunks the client already encoded.
	SourceEncoded SourceKind = "encoded"
)

type Deps struct {
	Sources     map[SourceKind]capture.Source
	Transcriber Transcriber
	Analyzer    Analyzer

	// optional
	Publisher Publisher
	Ledger    ChunkLedger
	Archiver  Archiver
	Metrics   *metrics.Metrics
	Logger    *logrus.Logger
}

type Options struct {
	Mode             models.AnalysisMode
	ScreeningSection string
	// SettleTimeout bounds how long stop waits for in-flight
	// transcriptions before the final analysis runs without them.
	SettleTimeout time.Duration
	// CallTimeout bounds every single service call.
	CallTimeout time.Duration
	// LevelInterval is how often the audio level is refreshed while
	// recording; negative disables it.
	LevelInterval time.Duration
}

func (o Options) withDefaults() Options {
	if !o.Mode.Valid() {
		o.Mode = models.ModeBatch
	}
	if o.ScreeningSection == "" {
		o.ScreeningSection = analysis.DefaultScreeningSection
	}
	if o.SettleTimeout <= 0 {
		o.SettleTimeout = 10 * time.Second
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 60 * time.Second
	}
	if o.LevelInterval == 0 {
		o.LevelInterval = 250 * time.Millisecond
	}
	return o
}

type StartOptions struct {
	Mode             models.AnalysisMode `json:"mode"`
	ScreeningSection string              `json:"screening_section"`
	Source           SourceKind          `json:"source"`
}

type Controller struct {
	id    string
	owner string
	deps  Deps
	opts  Options
	log   *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	events    chan event
	updates   chan models.Snapshot
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	snapMu sync.RWMutex
	snap   models.Snapshot

	// owned by the loop goroutine
	st cycleState
}

func NewController(id, owner string, deps Deps, opts Options) *Controller {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:      id,
		owner:   owner,
		deps:    deps,
		opts:    opts.withDefaults(),
		log:     deps.Logger.WithField("interview_id", id),
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan event, 64),
		updates: make(chan models.Snapshot, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	c.st = newCycleState(c.opts)
	c.refresh()

	go c.loop()
	if deps.Publisher != nil {
		go c.publishLoop()
	}
	return c
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) Owner() string { return c.owner }

// Snapshot returns the state as of the last processed event.
func (c *Controller) Snapshot() models.Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Start resets the interview and begins a new recording. It fails with
// CONFLICT unless the controller is idle, and with DEVICE_ACCESS when the
// audio source cannot be opened, leaving the controller idle.
func (c *Controller) Start(ctx context.Context, opts StartOptions) (models.Snapshot, error) {
	reply := make(chan result, 1)
	return c.call(ctx, startCmd{opts: opts, reply: reply}, reply)
}

// Stop ends the recording and blocks until the cycle is back to idle with
// the final document (if any) produced. Stopping an idle controller
// returns the current snapshot.
func (c *Controller) Stop(ctx context.Context) (models.Snapshot, error) {
	reply := make(chan result, 1)
	return c.call(ctx, stopCmd{reply: reply}, reply)
}

// Close stops the loop. A recording in progress is abandoned and its
// source released.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
	<-c.stopped
}

type result struct {
	snap models.Snapshot
	err  error
}

func (c *Controller) call(ctx context.Context, ev event, reply <-chan result) (models.Snapshot, error) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
		return models.Snapshot{}, ctx.Err()
	case <-c.done:
		return models.Snapshot{}, ErrClosed
	}

	select {
	case r := <-reply:
		return r.snap, r.err
	case <-ctx.Done():
		return models.Snapshot{}, ctx.Err()
	case <-c.stopped:
		return models.Snapshot{}, ErrClosed
	}
}

// post delivers an event from a worker goroutine; dropped after Close.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) loop() {
	defer close(c.stopped)

	var levelTick <-chan time.Time
	if c.opts.LevelInterval > 0 {
		t := time.NewTicker(c.opts.LevelInterval)
		defer t.Stop()
		levelTick = t.C
	}

	for {
		select {
		case <-c.done:
			c.shutdown()
			return
		case ev := <-c.events:
			ev.handle(c)
			c.flushReplies(c.refresh())
		case <-levelTick:
			if c.st.state == models.StateRecording && c.st.source != nil {
				if lvl := c.st.source.Level(); lvl != c.Snapshot().AudioLevel {
					c.refresh()
				}
			}
		}
	}
}

func (c *Controller) shutdown() {
	st := &c.st
	st.stopSettleTimer()
	if st.source != nil && st.sourceOpen {
		st.source.Stop()
	}
	for _, w := range st.waiters {
		w <- result{err: ErrClosed}
	}
	st.waiters = nil
	if st.state != models.StateIdle {
		c.deps.Metrics.ActiveRecordings.Dec()
	}
}

func (c *Controller) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.opts.CallTimeout)
}

func deviceError(op string, err error) error {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return utils.E(utils.CodeDeviceAccess, op, "microphone permission denied", err)
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return utils.E(utils.CodeDeviceAccess, op, "no audio input device available", err)
	case errors.Is(err, capture.ErrDeviceBusy):
		return utils.E(utils.CodeConflict, op, "audio input device already in use", err)
	default:
		return utils.E(utils.CodeDeviceAccess, op, "failed to open audio input", err)
	}
}
