package session

import (
	"context"
	"time"

	"github.com/yoockh/anamnesi/internal/analysis"
	"github.com/yoockh/anamnesi/internal/models"
)

const publishTimeout = 5 * time.Second

// refresh rebuilds the published view from loop state.
func (c *Controller) refresh() models.Snapshot {
	st := &c.st

	pairs := append([]models.QAPair{}, st.pairs...)
	snap := models.Snapshot{
		InterviewID:      c.id,
		OwnerID:          c.owner,
		State:            st.state,
		Cycle:            st.cycle,
		Mode:             st.mode,
		ScreeningSection: st.section,
		Transcript:       st.acc.Text(),
		TranscriptChunks: st.acc.Chunks(),
		QAPairs:          pairs,
		QAGroups:         analysis.GroupByCategory(pairs),
		Suggestions:      append([]string{}, st.suggestions...),
		DocumentText:     st.document,
		Loading: models.LoadingFlags{
			Transcribe: st.collecting && st.pending > 0,
			QA:         len(st.extracting) > 0,
			Suggest:    st.analyzing > 0,
			Document:   st.formatting,
		},
		AnalysisVersion: st.applied,
		UpdatedAt:       time.Now().UTC(),
	}
	if st.state == models.StateRecording && st.source != nil {
		snap.AudioLevel = st.source.Level()
	}
	if !st.startedAt.IsZero() {
		t := st.startedAt
		snap.StartedAt = &t
	}
	if !st.endedAt.IsZero() {
		t := st.endedAt
		snap.EndedAt = &t
	}

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()

	c.notify(snap)
	return snap
}

func (c *Controller) flushReplies(snap models.Snapshot) {
	for _, r := range c.st.replies {
		if r.err != nil {
			r.ch <- result{err: r.err}
			continue
		}
		r.ch <- result{snap: snap}
	}
	c.st.replies = nil
}

// notify hands snap to the publisher, replacing any snapshot it has not
// picked up yet. It never blocks the loop.
func (c *Controller) notify(snap models.Snapshot) {
	select {
	case c.updates <- snap:
		return
	default:
	}
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- snap:
	default:
	}
}

func (c *Controller) publishLoop() {
	for {
		select {
		case <-c.done:
			return
		case snap := <-c.updates:
			ctx, cancel := context.WithTimeout(c.ctx, publishTimeout)
			if err := c.deps.Publisher.PublishSnapshot(ctx, snap); err != nil {
				c.log.WithError(err).Debug("snapshot publish failed")
			}
			cancel()
		}
	}
}
