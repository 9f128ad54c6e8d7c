// Package analysis derives question/answer pairs, follow-up suggestions and
// the final clinical document from a transcript snapshot.
package analysis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yoockh/anamnesi/internal/models"
	"github.com/yoockh/anamnesi/internal/utils"
)

const (
	DefaultScreeningSection = "Generale"
	UncategorizedLabel      = "Non Categorizzato"
)

type Extractor interface {
	IdentifyQuestionsAndAnswers(ctx context.Context, transcription string) ([]models.QAPair, error)
}

type SuggestionInput struct {
	Transcript        string   `json:"transcript"`
	AnsweredQuestions []string `json:"answeredQuestions"`
	ScreeningSection  string   `json:"screeningSection"`
}

type Suggester interface {
	SuggestAdditionalQuestions(ctx context.Context, in SuggestionInput) ([]string, error)
}

type Formatter interface {
	FormatMedicalDocument(ctx context.Context, interviewData string) (string, error)
}

// Request is one transcript snapshot to analyze. Version orders requests
// issued by the same controller; the coordinator only echoes it back.
//
// SuggestAfterExtract runs suggestion once extraction is done and gives it
// the extracted questions instead of AnsweredQuestions. A failed or empty
// extraction falls back to AnsweredQuestions.
//
// OnExtracted, when set, is called as soon as the extraction half returns,
// before Analyze does.
type Request struct {
	Version             int64
	Transcript          string
	AnsweredQuestions   []string
	ScreeningSection    string
	SuggestAfterExtract bool
	OnExtracted         func()
}

// Result carries both halves of an analysis. Each half fails on its own:
// QAPairs is meaningful only when QAErr is nil, Suggestions only when
// SuggestErr is nil.
type Result struct {
	Version    int64
	Transcript string
	Skipped    bool

	QAPairs []models.QAPair
	QAErr   error

	Suggestions []string
	SuggestErr  error

	Duration time.Duration
}

func (r Result) Err() error { return errors.Join(r.QAErr, r.SuggestErr) }

type Coordinator struct {
	extractor Extractor
	suggester Suggester
	formatter Formatter
	log       *logrus.Logger
}

func NewCoordinator(e Extractor, s Suggester, f Formatter, log *logrus.Logger) *Coordinator {
	if log == nil {
		log = logrus.New()
	}
	return &Coordinator{extractor: e, suggester: s, formatter: f, log: log}
}

// Analyze runs extraction and suggestion concurrently over the same
// snapshot, or one after the other when the request asks for it. An empty transcript is skipped without calling either service.
func (c *Coordinator) Analyze(ctx context.Context, req Request) Result {
	const op = "Coordinator.Analyze"

	res := Result{Version: req.Version, Transcript: req.Transcript}
	if strings.TrimSpace(req.Transcript) == "" {
		res.Skipped = true
		return res
	}

	section := req.ScreeningSection
	if section == "" {
		section = DefaultScreeningSection
	}
	start := time.Now()

	extract := func() {
		if req.OnExtracted != nil {
			defer req.OnExtracted()
		}
		pairs, err := c.extractor.IdentifyQuestionsAndAnswers(ctx, req.Transcript)
		if err != nil {
			res.QAErr = utils.E(utils.CodeServiceCall, op, "question/answer extraction failed", err)
			return
		}
		res.QAPairs = normalizePairs(pairs)
	}
	suggest := func(answered []string) {
		suggestions, err := c.suggester.SuggestAdditionalQuestions(ctx, SuggestionInput{
			Transcript:        req.Transcript,
			AnsweredQuestions: append([]string(nil), answered...),
			ScreeningSection:  section,
		})
		if err != nil {
			res.SuggestErr = utils.E(utils.CodeServiceCall, op, "question suggestion failed", err)
			return
		}
		res.Suggestions = normalizeSuggestions(suggestions)
	}

	if req.SuggestAfterExtract {
		extract()
		answered := req.AnsweredQuestions
		if res.QAErr == nil && len(res.QAPairs) > 0 {
			answered = AnsweredQuestions(res.QAPairs)
		}
		suggest(answered)
	} else {
		var g errgroup.Group
		g.Go(func() error { extract(); return nil })
		g.Go(func() error { suggest(req.AnsweredQuestions); return nil })
		_ = g.Wait()
	}

	res.Duration = time.Since(start)
	c.log.WithFields(logrus.Fields{
		"version":     req.Version,
		"qa_pairs":    len(res.QAPairs),
		"suggestions": len(res.Suggestions),
		"latency_ms":  res.Duration.Milliseconds(),
	}).Debug("analysis complete")
	return res
}

// Finalize formats the interview into the final document. With no pairs it
// returns an empty document and does not call the formatter.
func (c *Coordinator) Finalize(ctx context.Context, pairs []models.QAPair) (string, error) {
	const op = "Coordinator.Finalize"

	if len(pairs) == 0 {
		return "", nil
	}
	doc, err := c.formatter.FormatMedicalDocument(ctx, SerializeInterview(pairs))
	if err != nil {
		return "", utils.E(utils.CodeServiceCall, op, "document formatting failed", err)
	}
	return doc, nil
}

// SerializeInterview renders pairs as "D: question\nR: answer" blocks
// separated by a blank line.
func SerializeInterview(pairs []models.QAPair) string {
	blocks := make([]string, len(pairs))
	for i, p := range pairs {
		blocks[i] = "D: " + p.Question + "\nR: " + p.Answer
	}
	return strings.Join(blocks, "\n\n")
}

// AnsweredQuestions lists the questions of pairs, in order.
func AnsweredQuestions(pairs []models.QAPair) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Question)
	}
	return out
}

// GroupByCategory groups pairs by category in first-seen order. Pairs
// without a category land under UncategorizedLabel.
func GroupByCategory(pairs []models.QAPair) []models.QAGroup {
	groups := []models.QAGroup{}
	idx := map[string]int{}
	for _, p := range pairs {
		cat := strings.TrimSpace(p.Category)
		if cat == "" {
			cat = UncategorizedLabel
		}
		i, ok := idx[cat]
		if !ok {
			i = len(groups)
			idx[cat] = i
			groups = append(groups, models.QAGroup{Category: cat})
		}
		groups[i].Pairs = append(groups[i].Pairs, p)
	}
	return groups
}

func normalizePairs(in []models.QAPair) []models.QAPair {
	out := make([]models.QAPair, 0, len(in))
	for _, p := range in {
		p.Question = strings.TrimSpace(p.Question)
		p.Answer = strings.TrimSpace(p.Answer)
		p.Category = strings.TrimSpace(p.Category)
		if p.Question == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func normalizeSuggestions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
