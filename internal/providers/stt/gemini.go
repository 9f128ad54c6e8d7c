package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yoockh/anamnesi/internal/providers/llm"
)

const geminiTranscribePrompt = `Trascrivi fedelmente l'audio allegato, parte di un colloquio medico-paziente.
Restituisci solo il testo parlato, senza commenti, etichette o formattazione.
Se l'audio non contiene parlato restituisci una stringa vuota.
Lingua attesa: %s`

// GeminiTranscriber transcribes audio with a multimodal model instead of a
// dedicated speech API.
type GeminiTranscriber struct {
	LLM llm.Provider
}

func (g *GeminiTranscriber) Close() error { return nil }

func (g *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, float64, error) {
	prompt := fmt.Sprintf(geminiTranscribePrompt, NormalizeLanguage(language))
	text, err := g.LLM.Generate(ctx, prompt, llm.GenerateOptions{
		Temperature: 0.1,
		Media:       []llm.Media{{MIMEType: BaseMIMEType(mimeType), Data: audio}},
	})
	if errors.Is(err, llm.ErrEmptyResponse) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	// no confidence from generative transcription
	return strings.TrimSpace(text), 0, nil
}
