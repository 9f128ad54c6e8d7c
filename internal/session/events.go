package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/yoockh/anamnesi/internal/analysis"
	"github.com/yoockh/anamnesi/internal/capture"
	"github.com/yoockh/anamnesi/internal/models"
	"github.com/yoockh/anamnesi/internal/transcript"
	"github.com/yoockh/anamnesi/internal/utils"
)

// cycleState is everything the loop goroutine owns. Nothing outside the
// loop reads or writes it.
type cycleState struct {
	state   models.State
	cycle   int64
	mode    models.AnalysisMode
	section string

	source     capture.Source
	sourceOpen bool
	// collecting is false once the final analysis has been launched; later
	// transcriptions are discarded.
	collecting bool
	pending    int

	acc *transcript.Accumulator

	pairs       []models.QAPair
	suggestions []string
	document    string

	// launched is never reset so versions stay unique across cycles.
	launched      int64
	applied       int64
	analyzing     int
	// extracting holds versions whose extraction half is still running.
	extracting    map[int64]bool
	launchedText  string
	newestSettled bool

	finalStarted bool
	awaitVersion int64
	formatting   bool

	startedAt time.Time
	stopAt    time.Time
	endedAt   time.Time

	waiters []chan<- result
	replies []pendingReply
	settle  *time.Timer
}

type pendingReply struct {
	ch  chan<- result
	err error
}

func newCycleState(opts Options) cycleState {
	return cycleState{
		state:      models.StateIdle,
		mode:       opts.Mode,
		section:    opts.ScreeningSection,
		acc:        transcript.New(),
		extracting: map[int64]bool{},
	}
}

// reset clears the previous recording's data and opens a new cycle.
func (st *cycleState) reset(mode models.AnalysisMode, section string) {
	st.cycle++
	st.mode = mode
	st.section = section

	st.source = nil
	st.sourceOpen = false
	st.collecting = false
	st.pending = 0
	st.acc.Reset()

	st.pairs = nil
	st.suggestions = nil
	st.document = ""

	st.applied = 0
	st.analyzing = 0
	clear(st.extracting)
	st.launchedText = ""
	st.newestSettled = false

	st.finalStarted = false
	st.awaitVersion = 0
	st.formatting = false

	st.startedAt = time.Time{}
	st.stopAt = time.Time{}
	st.endedAt = time.Time{}
	st.stopSettleTimer()
}

func (st *cycleState) stopSettleTimer() {
	if st.settle != nil {
		st.settle.Stop()
		st.settle = nil
	}
}

type event interface {
	handle(c *Controller)
}

type (
	startCmd struct {
		opts  StartOptions
		reply chan<- result
	}
	stopCmd struct {
		reply chan<- result
	}
	chunkCaptured struct {
		cycle int64
		chunk capture.Chunk
	}
	sourceClosed struct {
		cycle int64
	}
	transcribed struct {
		cycle   int64
		index   int64
		text    string
		err     error
		elapsed time.Duration
	}
	extracted struct {
		cycle   int64
		version int64
	}
	analyzed struct {
		cycle int64
		res   analysis.Result
	}
	finalized struct {
		cycle int64
		doc   string
		err   error
	}
	settleExpired struct {
		cycle int64
	}
)

func (c *Controller) reply(ch chan<- result, err error) {
	c.st.replies = append(c.st.replies, pendingReply{ch: ch, err: err})
}

func (e startCmd) handle(c *Controller) {
	const op = "Controller.Start"
	st := &c.st

	if st.state != models.StateIdle {
		c.reply(e.reply, utils.E(utils.CodeConflict, op, "interview is already "+string(st.state), nil))
		return
	}

	mode := e.opts.Mode
	if mode == "" {
		mode = c.opts.Mode
	}
	if !mode.Valid() {
		c.reply(e.reply, utils.E(utils.CodeInvalidArgument, op, "unknown analysis mode", nil))
		return
	}
	section := strings.TrimSpace(e.opts.ScreeningSection)
	if section == "" {
		section = c.opts.ScreeningSection
	}
	kind := e.opts.Source
	if kind == "" {
		kind = SourcePCM
	}
	src := c.deps.Sources[kind]
	if src == nil {
		c.reply(e.reply, utils.E(utils.CodeInvalidArgument, op, "unknown audio source", nil))
		return
	}

	st.reset(mode, section)
	log := c.log.WithFields(logrus.Fields{"cycle": st.cycle, "mode": mode, "source": kind})

	// The source outlives the request that started it.
	chunks, err := src.Start(c.ctx)
	if err != nil {
		c.deps.Metrics.RecordingsFailed.WithLabelValues(failReason(err)).Inc()
		log.WithError(err).Warn("recording start failed")
		c.reply(e.reply, deviceError(op, err))
		return
	}

	st.state = models.StateRecording
	st.source = src
	st.sourceOpen = true
	st.collecting = true
	st.startedAt = time.Now().UTC()

	c.deps.Metrics.RecordingsStarted.Inc()
	c.deps.Metrics.ActiveRecordings.Inc()
	log.Info("recording started")

	go c.forward(st.cycle, chunks)
	c.reply(e.reply, nil)
}

func (e stopCmd) handle(c *Controller) {
	st := &c.st
	switch st.state {
	case models.StateIdle:
		c.reply(e.reply, nil)
	case models.StateFinalizing:
		st.waiters = append(st.waiters, e.reply)
	case models.StateRecording:
		st.waiters = append(st.waiters, e.reply)
		c.beginStop()
		c.maybeBeginFinal()
	}
}

func (e chunkCaptured) handle(c *Controller) {
	st := &c.st
	if e.cycle != st.cycle || !st.collecting {
		c.deps.Metrics.ChunksDiscarded.Inc()
		return
	}
	st.pending++
	c.deps.Metrics.ChunksCaptured.Inc()
	c.deps.Metrics.ChunkBytes.Observe(float64(len(e.chunk.Data)))

	go c.transcribe(e.cycle, e.chunk)
}

func (e sourceClosed) handle(c *Controller) {
	st := &c.st
	if e.cycle != st.cycle {
		return
	}
	st.sourceOpen = false
	if st.state == models.StateRecording {
		c.log.WithField("cycle", st.cycle).Warn("audio source ended while recording; finalizing")
		c.beginStop()
	}
	c.maybeBeginFinal()
}

func (e transcribed) handle(c *Controller) {
	st := &c.st
	log := c.log.WithFields(logrus.Fields{"cycle": e.cycle, "chunk_index": e.index})

	if e.cycle != st.cycle {
		c.markChunk(e.cycle, e.index, models.ChunkDiscarded, "", "", e.elapsed)
		return
	}
	st.pending--
	if !st.collecting {
		c.deps.Metrics.ChunksDiscarded.Inc()
		log.Debug("transcription arrived after final analysis; discarded")
		c.markChunk(e.cycle, e.index, models.ChunkDiscarded, e.text, "", e.elapsed)
		return
	}

	before := st.acc.Text()
	if e.err != nil {
		err := utils.E(utils.CodeServiceCall, "Controller.transcribe", "transcription failed", e.err)
		log.WithError(err).Warn("chunk dropped from transcript")
		st.acc.Skip(e.index)
		c.markChunk(e.cycle, e.index, models.ChunkFailed, "", e.err.Error(), e.elapsed)
	} else {
		st.acc.Append(e.index, e.text)
		c.markChunk(e.cycle, e.index, models.ChunkDone, e.text, "", e.elapsed)
	}
	changed := st.acc.Text() != before

	switch st.state {
	case models.StateRecording:
		if st.mode == models.ModeLive && changed {
			c.launchAnalysis()
		}
	case models.StateFinalizing:
		c.maybeBeginFinal()
	}
}

func (e extracted) handle(c *Controller) {
	if e.cycle == c.st.cycle {
		delete(c.st.extracting, e.version)
	}
}

func (e analyzed) handle(c *Controller) {
	st := &c.st
	if e.cycle != st.cycle {
		return
	}
	st.analyzing--
	delete(st.extracting, e.res.Version)

	res := e.res
	if res.Version == st.launched {
		st.newestSettled = true
	}
	log := c.log.WithFields(logrus.Fields{"cycle": e.cycle, "version": res.Version})

	switch {
	case res.Skipped:
	case res.Version <= st.applied:
		c.deps.Metrics.AnalysesStale.Inc()
		log.WithField("applied_version", st.applied).Debug("stale analysis result discarded")
	default:
		updated := false
		if res.QAErr == nil {
			st.pairs = res.QAPairs
			updated = true
		} else {
			log.WithError(res.QAErr).Warn("question/answer extraction failed; keeping previous pairs")
		}
		if res.SuggestErr == nil {
			st.suggestions = res.Suggestions
			updated = true
		} else {
			log.WithError(res.SuggestErr).Warn("suggestion failed; keeping previous suggestions")
		}
		if updated {
			st.applied = res.Version
			c.deps.Metrics.AnalysesApplied.Inc()
		}
	}

	if st.finalStarted && st.awaitVersion != 0 && res.Version >= st.awaitVersion {
		st.awaitVersion = 0
		c.runFinalize()
	}
}

func (e finalized) handle(c *Controller) {
	st := &c.st
	if e.cycle != st.cycle {
		return
	}
	st.formatting = false
	if e.err != nil {
		c.log.WithField("cycle", e.cycle).WithError(e.err).Warn("document formatting failed")
	} else {
		st.document = e.doc
	}
	c.complete()
}

func (e settleExpired) handle(c *Controller) {
	st := &c.st
	if e.cycle != st.cycle || st.state != models.StateFinalizing || st.finalStarted {
		return
	}
	c.log.WithFields(logrus.Fields{
		"cycle":        st.cycle,
		"pending":      st.pending,
		"source_open":  st.sourceOpen,
		"settle_after": c.opts.SettleTimeout.String(),
	}).Warn("stop settle timeout; finalizing without pending transcriptions")
	c.beginFinal()
}

// forward relays one cycle's chunks into the loop until the source closes.
func (c *Controller) forward(cycle int64, chunks <-chan capture.Chunk) {
	for ch := range chunks {
		c.post(chunkCaptured{cycle: cycle, chunk: ch})
	}
	c.post(sourceClosed{cycle: cycle})
}

func (c *Controller) transcribe(cycle int64, ch capture.Chunk) {
	ctx, cancel := c.callCtx()
	defer cancel()

	if c.deps.Ledger != nil {
		rec := &models.ChunkRecord{
			InterviewID: c.id,
			Cycle:       cycle,
			ChunkIndex:  ch.Index,
			MIMEType:    ch.MIMEType,
			SizeBytes:   len(ch.Data),
			DurationMS:  ch.Duration.Milliseconds(),
			STTStatus:   models.ChunkProcessing,
			CapturedAt:  ch.StartedAt,
		}
		if err := c.deps.Ledger.RecordChunk(ctx, rec); err != nil {
			c.log.WithError(err).Debug("chunk ledger insert failed")
		}
	}

	start := time.Now()
	text, err := c.deps.Transcriber.TranscribeAudio(ctx, capture.DataURI(ch.MIMEType, ch.Data))
	elapsed := time.Since(start)
	c.deps.Metrics.ObserveCall("transcribe", elapsed.Seconds(), err)

	c.post(transcribed{cycle: cycle, index: ch.Index, text: text, err: err, elapsed: elapsed})
}

func (c *Controller) markChunk(cycle, index int64, status, text, errMsg string, elapsed time.Duration) {
	if c.deps.Ledger == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.deps.Ledger.MarkChunk(ctx, c.id, cycle, index, status, text, errMsg, elapsed.Milliseconds()); err != nil {
			c.log.WithError(err).Debug("chunk ledger update failed")
		}
	}()
}

// launchAnalysis issues a new version over the current transcript. The
// answered questions come from the pairs applied so far. A final analysis
// with nothing applied yet, as in batch mode, suggests from the questions
// it extracts.
func (c *Controller) launchAnalysis() {
	st := &c.st
	st.launched++
	req := analysis.Request{
		Version:             st.launched,
		Transcript:          st.acc.Text(),
		AnsweredQuestions:   analysis.AnsweredQuestions(st.pairs),
		ScreeningSection:    st.section,
		SuggestAfterExtract: !st.collecting && len(st.pairs) == 0,
	}
	cycle := st.cycle
	version := req.Version
	req.OnExtracted = func() { c.post(extracted{cycle: cycle, version: version}) }
	st.launchedText = req.Transcript
	st.newestSettled = false
	st.analyzing++
	st.extracting[version] = true

	go func() {
		ctx, cancel := c.callCtx()
		defer cancel()
		res := c.deps.Analyzer.Analyze(ctx, req)
		if !res.Skipped {
			c.deps.Metrics.ObserveCall("extract", res.Duration.Seconds(), res.QAErr)
			c.deps.Metrics.ObserveCall("suggest", res.Duration.Seconds(), res.SuggestErr)
		}
		c.post(analyzed{cycle: cycle, res: res})
	}()
}

func (c *Controller) beginStop() {
	st := &c.st
	st.state = models.StateFinalizing
	st.stopAt = time.Now()

	// Stop waits for the capture goroutine, which may be blocked handing
	// the loop its last chunk.
	if src := st.source; src != nil {
		go src.Stop()
	}

	cycle := st.cycle
	st.settle = time.AfterFunc(c.opts.SettleTimeout, func() {
		c.post(settleExpired{cycle: cycle})
	})
}

func (c *Controller) maybeBeginFinal() {
	st := &c.st
	if st.state != models.StateFinalizing || st.finalStarted || st.sourceOpen || st.pending > 0 {
		return
	}
	c.beginFinal()
}

// beginFinal closes the transcript and makes sure the applied analysis
// covers all of it before the document is formatted.
func (c *Controller) beginFinal() {
	st := &c.st
	st.finalStarted = true
	st.collecting = false
	st.stopSettleTimer()

	text := st.acc.Text()
	switch {
	case strings.TrimSpace(text) == "":
		c.runFinalize()
	case text == st.launchedText:
		if st.newestSettled {
			c.runFinalize()
		} else {
			st.awaitVersion = st.launched
		}
	default:
		c.launchAnalysis()
		st.awaitVersion = st.launched
	}
}

func (c *Controller) runFinalize() {
	st := &c.st
	if len(st.pairs) == 0 {
		c.complete()
		return
	}
	pairs := append([]models.QAPair(nil), st.pairs...)
	st.formatting = true

	cycle := st.cycle
	go func() {
		ctx, cancel := c.callCtx()
		defer cancel()
		start := time.Now()
		doc, err := c.deps.Analyzer.Finalize(ctx, pairs)
		c.deps.Metrics.ObserveCall("format", time.Since(start).Seconds(), err)
		c.post(finalized{cycle: cycle, doc: doc, err: err})
	}()
}

func (c *Controller) complete() {
	st := &c.st
	st.state = models.StateIdle
	st.endedAt = time.Now().UTC()
	st.source = nil

	c.deps.Metrics.RecordingsCompleted.Inc()
	c.deps.Metrics.ActiveRecordings.Dec()
	if !st.stopAt.IsZero() {
		c.deps.Metrics.FinalizeDuration.Observe(time.Since(st.stopAt).Seconds())
	}

	for _, w := range st.waiters {
		c.reply(w, nil)
	}
	st.waiters = nil

	c.log.WithFields(logrus.Fields{
		"cycle":       st.cycle,
		"chunks":      len(st.acc.Chunks()),
		"qa_pairs":    len(st.pairs),
		"suggestions": len(st.suggestions),
		"document":    st.document != "",
	}).Info("recording completed")

	if c.deps.Archiver != nil {
		rec := c.record()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.CallTimeout)
			defer cancel()
			if err := c.deps.Archiver.Archive(ctx, rec); err != nil {
				c.log.WithError(err).Warn("archive failed")
			}
		}()
	}
}

func (c *Controller) record() *models.InterviewRecord {
	st := &c.st
	pairs := st.pairs
	if pairs == nil {
		pairs = []models.QAPair{}
	}
	qa, _ := json.Marshal(pairs)
	return &models.InterviewRecord{
		InterviewID:      c.id,
		OwnerID:          c.owner,
		Cycle:            st.cycle,
		Mode:             string(st.mode),
		ScreeningSection: st.section,
		Transcript:       st.acc.Text(),
		QAPairs:          datatypes.JSON(qa),
		Suggestions:      pq.StringArray(append([]string{}, st.suggestions...)),
		DocumentText:     st.document,
		StartedAt:        st.startedAt,
		EndedAt:          st.endedAt,
	}
}

func failReason(err error) string {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, capture.ErrDeviceBusy):
		return "device_busy"
	default:
		return "other"
	}
}
