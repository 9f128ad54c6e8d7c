package stt

import (
	"context"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
)

type GoogleSpeech struct {
	c *speech.Client

	// SampleRateHz applies to headerless PCM (audio/l16).
	SampleRateHz int32
}

func NewGoogleSpeech(ctx context.Context, opts ...option.ClientOption) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GoogleSpeech{c: c, SampleRateHz: 16000}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

// language example: "it-IT", "en-US"
func (g *GoogleSpeech) Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, float64, error) {
	cfg := g.recognitionConfig(mimeType)
	cfg.LanguageCode = NormalizeLanguage(language)
	cfg.EnableAutomaticPunctuation = true

	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: cfg,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", 0, err
	}

	// results are consecutive portions of the audio; keep the best
	// alternative of each
	var (
		text    string
		confSum float64
		n       int
	)
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		best := r.Alternatives[0]
		for _, alt := range r.Alternatives[1:] {
			if alt.Confidence > best.Confidence {
				best = alt
			}
		}
		if best.Transcript == "" {
			continue
		}
		if text != "" {
			text += " "
		}
		text += best.Transcript
		confSum += float64(best.Confidence)
		n++
	}
	if n == 0 {
		return "", 0, nil
	}
	return text, confSum / float64(n), nil
}

func (g *GoogleSpeech) recognitionConfig(mimeType string) *speechpb.RecognitionConfig {
	switch BaseMIMEType(mimeType) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		// encoding and rate are read from the WAV header
		return &speechpb.RecognitionConfig{Encoding: speechpb.RecognitionConfig_ENCODING_UNSPECIFIED}
	case "audio/flac", "audio/x-flac":
		return &speechpb.RecognitionConfig{Encoding: speechpb.RecognitionConfig_FLAC}
	case "audio/webm":
		return &speechpb.RecognitionConfig{Encoding: speechpb.RecognitionConfig_WEBM_OPUS, SampleRateHertz: 48000}
	case "audio/ogg":
		return &speechpb.RecognitionConfig{Encoding: speechpb.RecognitionConfig_OGG_OPUS, SampleRateHertz: 48000}
	default:
		return &speechpb.RecognitionConfig{Encoding: speechpb.RecognitionConfig_LINEAR16, SampleRateHertz: g.SampleRateHz}
	}
}
