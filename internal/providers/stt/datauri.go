package stt

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
)

var ErrInvalidDataURI = errors.New("stt: invalid audio data uri")

// DataURITranscriber exposes a Provider through the transcribeAudio
// contract: a base64 data URI in, the transcription text out.
type DataURITranscriber struct {
	Provider Provider
	Language string
}

func (t *DataURITranscriber) TranscribeAudio(ctx context.Context, audioDataURI string) (string, error) {
	mimeType, audio, err := ParseDataURI(audioDataURI)
	if err != nil {
		return "", err
	}
	text, _, err := t.Provider.Transcribe(ctx, audio, mimeType, NormalizeLanguage(t.Language))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// ParseDataURI splits "data:<mime>[;params];base64,<payload>".
func ParseDataURI(uri string) (mimeType string, data []byte, err error) {
	if !strings.HasPrefix(uri, "data:") {
		return "", nil, ErrInvalidDataURI
	}
	i := strings.Index(uri, ",")
	if i < 0 {
		return "", nil, ErrInvalidDataURI
	}
	meta, payload := uri[len("data:"):i], uri[i+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return "", nil, ErrInvalidDataURI
	}
	meta = strings.TrimSuffix(meta, ";base64")

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, errors.Join(ErrInvalidDataURI, err)
	}
	if len(data) == 0 {
		return "", nil, ErrInvalidDataURI
	}
	return BaseMIMEType(meta), data, nil
}

// BaseMIMEType drops parameters: "audio/webm;codecs=opus" -> "audio/webm".
func BaseMIMEType(v string) string {
	if i := strings.Index(v, ";"); i >= 0 {
		v = v[:i]
	}
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "application/octet-stream"
	}
	return v
}

func NormalizeLanguage(v string) string {
	v = strings.TrimSpace(v)
	switch v {
	case "", "it", "it-IT":
		return "it-IT"
	case "en", "en-US":
		return "en-US"
	default:
		return v
	}
}
