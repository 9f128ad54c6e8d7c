// Package flows implements the model-backed services of the interview
// pipeline as prompt templates over an llm.Provider.
package flows

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/yoockh/anamnesi/internal/analysis"
	"github.com/yoockh/anamnesi/internal/models"
	"github.com/yoockh/anamnesi/internal/providers/llm"
)

var ErrMalformedOutput = errors.New("flows: malformed model output")

// Extraction implements analysis.Extractor.
type Extraction struct {
	LLM llm.Provider
}

func (e *Extraction) IdentifyQuestionsAndAnswers(ctx context.Context, transcription string) ([]models.QAPair, error) {
	prompt, err := render(extractionPrompt, struct{ Transcription string }{transcription})
	if err != nil {
		return nil, err
	}
	raw, err := e.LLM.Generate(ctx, prompt, llm.GenerateOptions{JSON: true, Temperature: 0.2})
	if err != nil {
		return nil, err
	}

	var pairs []models.QAPair
	if err := decodeJSON(raw, &pairs); err == nil {
		return pairs, nil
	}
	// some models wrap the array in an object
	var wrapped struct {
		Pairs   []models.QAPair `json:"pairs"`
		QAPairs []models.QAPair `json:"qaPairs"`
	}
	if err := decodeJSON(raw, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Pairs != nil {
		return wrapped.Pairs, nil
	}
	if wrapped.QAPairs != nil {
		return wrapped.QAPairs, nil
	}
	return nil, ErrMalformedOutput
}

// Suggestion implements analysis.Suggester.
type Suggestion struct {
	LLM llm.Provider
}

func (s *Suggestion) SuggestAdditionalQuestions(ctx context.Context, in analysis.SuggestionInput) ([]string, error) {
	prompt, err := render(suggestionPrompt, in)
	if err != nil {
		return nil, err
	}
	raw, err := s.LLM.Generate(ctx, prompt, llm.GenerateOptions{JSON: true, Temperature: 0.4})
	if err != nil {
		return nil, err
	}

	var out struct {
		SuggestedQuestions []string `json:"suggestedQuestions"`
	}
	if err := decodeJSON(raw, &out); err != nil {
		return nil, err
	}
	if out.SuggestedQuestions == nil {
		return nil, ErrMalformedOutput
	}
	return out.SuggestedQuestions, nil
}

// Formatting implements analysis.Formatter.
type Formatting struct {
	LLM llm.Provider
}

func (f *Formatting) FormatMedicalDocument(ctx context.Context, interviewData string) (string, error) {
	prompt, err := render(formattingPrompt, struct{ InterviewData string }{interviewData})
	if err != nil {
		return "", err
	}
	raw, err := f.LLM.Generate(ctx, prompt, llm.GenerateOptions{JSON: true, Temperature: 0.3})
	if err != nil {
		return "", err
	}

	var out struct {
		FormattedDocument string `json:"formattedDocument"`
	}
	if err := decodeJSON(raw, &out); err != nil {
		// a plain-text document is still a document
		if doc := strings.TrimSpace(stripFence(raw)); doc != "" && !strings.HasPrefix(doc, "{") {
			return doc, nil
		}
		return "", err
	}
	if strings.TrimSpace(out.FormattedDocument) == "" {
		return "", ErrMalformedOutput
	}
	return out.FormattedDocument, nil
}

// decodeJSON parses model output, tolerating a surrounding markdown fence.
func decodeJSON(raw string, dst any) error {
	body := strings.TrimSpace(stripFence(raw))
	if body == "" {
		return ErrMalformedOutput
	}
	if err := json.Unmarshal([]byte(body), dst); err != nil {
		return errors.Join(ErrMalformedOutput, err)
	}
	return nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:] // drop language tag line
	} else {
		s = ""
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
