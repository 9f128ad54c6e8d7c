package flows

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yoockh/anamnesi/internal/analysis"
	"github.com/yoockh/anamnesi/internal/logger"
	"github.com/yoockh/anamnesi/internal/providers/llm"
)

type scriptedLLM struct {
	out    string
	err    error
	calls  int
	prompt string
	opts   llm.GenerateOptions
}

func (s *scriptedLLM) Generate(_ context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	s.calls++
	s.prompt, s.opts = prompt, opts
	return s.out, s.err
}

func (s *scriptedLLM) Close() error { return nil }

func TestExtractionParsesArrayAndFencedOutput(t *testing.T) {
	cases := map[string]string{
		"array":   `[{"question":"Ha allergie?","answer":"No","category":"Allergie"}]`,
		"fenced":  "```json\n[{\"question\":\"Ha allergie?\",\"answer\":\"No\",\"category\":\"Allergie\"}]\n```",
		"wrapped": `{"pairs":[{"question":"Ha allergie?","answer":"No","category":"Allergie"}]}`,
	}
	for name, out := range cases {
		t.Run(name, func(t *testing.T) {
			m := &scriptedLLM{out: out}
			pairs, err := (&Extraction{LLM: m}).IdentifyQuestionsAndAnswers(context.Background(), "ha allergie? no")
			if err != nil {
				t.Fatalf("IdentifyQuestionsAndAnswers: %v", err)
			}
			if len(pairs) != 1 || pairs[0].Category != "Allergie" {
				t.Fatalf("pairs = %+v", pairs)
			}
			if !m.opts.JSON || !strings.Contains(m.prompt, "ha allergie? no") {
				t.Errorf("prompt/options not as expected: json=%v", m.opts.JSON)
			}
		})
	}
}

func TestExtractionRejectsMalformedOutput(t *testing.T) {
	for _, out := range []string{"", "nessuna domanda", `{"other":1}`} {
		m := &scriptedLLM{out: out}
		if _, err := (&Extraction{LLM: m}).IdentifyQuestionsAndAnswers(context.Background(), "x"); !errors.Is(err, ErrMalformedOutput) {
			t.Errorf("output %q: error = %v, want ErrMalformedOutput", out, err)
		}
	}
}

func TestSuggestionPromptCarriesContext(t *testing.T) {
	m := &scriptedLLM{out: `{"suggestedQuestions":["Fuma?","Beve alcolici?"]}`}
	got, err := (&Suggestion{LLM: m}).SuggestAdditionalQuestions(context.Background(), analysis.SuggestionInput{
		Transcript:        "dolore al petto",
		AnsweredQuestions: []string{"Da quando?", "Dove?"},
		ScreeningSection:  "Generale",
	})
	if err != nil {
		t.Fatalf("SuggestAdditionalQuestions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("suggestions = %v", got)
	}
	for _, want := range []string{"dolore al petto", "- Da quando?\n", "- Dove?\n", "Generale"} {
		if !strings.Contains(m.prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, m.prompt)
		}
	}

	m.out = `{"questions":[]}`
	if _, err := (&Suggestion{LLM: m}).SuggestAdditionalQuestions(context.Background(), analysis.SuggestionInput{}); !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("error = %v, want ErrMalformedOutput", err)
	}
}

func TestFormattingAcceptsJSONOrPlainText(t *testing.T) {
	m := &scriptedLLM{out: `{"formattedDocument":"Anamnesi\n- nessuna allergia"}`}
	doc, err := (&Formatting{LLM: m}).FormatMedicalDocument(context.Background(), "D: A?\nR: B")
	if err != nil || doc != "Anamnesi\n- nessuna allergia" {
		t.Fatalf("doc = %q, err = %v", doc, err)
	}
	if !strings.Contains(m.prompt, "D: A?\nR: B") {
		t.Error("interview data missing from prompt")
	}

	m.out = "Anamnesi in testo libero"
	if doc, err := (&Formatting{LLM: m}).FormatMedicalDocument(context.Background(), "x"); err != nil || doc != "Anamnesi in testo libero" {
		t.Fatalf("plain text: doc = %q, err = %v", doc, err)
	}

	m.out = `{"formattedDocument":""}`
	if _, err := (&Formatting{LLM: m}).FormatMedicalDocument(context.Background(), "x"); !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("empty document error = %v", err)
	}
}

func TestProviderErrorsPropagate(t *testing.T) {
	boom := errors.New("vertex unavailable")
	m := &scriptedLLM{err: boom}
	if _, err := (&Formatting{LLM: m}).FormatMedicalDocument(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
}

type mapCache struct {
	data map[string][]byte
	sets int
}

func (m *mapCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (m *mapCache) SetJSON(_ context.Context, key string, val any, _ time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	m.sets++
	m.data[key] = b
	return nil
}

func (m *mapCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func TestCachedMemoizesByInput(t *testing.T) {
	m := &scriptedLLM{out: `[{"question":"A?","answer":"B","category":""}]`}
	mc := &mapCache{data: map[string][]byte{}}
	c := &Cached{Extractor: &Extraction{LLM: m}, Cache: mc, Logger: logger.Discard()}

	for i := 0; i < 3; i++ {
		pairs, err := c.IdentifyQuestionsAndAnswers(context.Background(), "same transcript")
		if err != nil || len(pairs) != 1 {
			t.Fatalf("call %d: pairs=%v err=%v", i, pairs, err)
		}
	}
	if m.calls != 1 {
		t.Fatalf("model called %d times, want 1", m.calls)
	}

	_, _ = c.IdentifyQuestionsAndAnswers(context.Background(), "another transcript")
	if m.calls != 2 {
		t.Fatalf("model called %d times, want 2", m.calls)
	}
}

func TestCachedDoesNotStoreFailures(t *testing.T) {
	m := &scriptedLLM{err: errors.New("timeout")}
	mc := &mapCache{data: map[string][]byte{}}
	c := &Cached{Formatter: &Formatting{LLM: m}, Cache: mc, Logger: logger.Discard()}

	if _, err := c.FormatMedicalDocument(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if mc.sets != 0 {
		t.Fatalf("cache written %d times on failure", mc.sets)
	}
}
