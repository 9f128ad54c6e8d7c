package llm

import (
	"context"
	"errors"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
)

var ErrEmptyResponse = errors.New("llm: empty response")

type VertexGemini struct {
	client    *vertexgenai.Client
	modelName string
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string, opts ...option.ClientOption) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location, opts...)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	return &VertexGemini{client: c, modelName: modelName}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

func (v *VertexGemini) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	// models are cheap handles; build one per call so options never leak
	m := v.client.GenerativeModel(v.modelName)
	if opts.JSON {
		m.ResponseMIMEType = "application/json"
	}
	if opts.Temperature > 0 {
		m.SetTemperature(opts.Temperature)
	}

	parts := make([]vertexgenai.Part, 0, len(opts.Media)+1)
	for _, md := range opts.Media {
		parts = append(parts, vertexgenai.Blob{MIMEType: md.MIMEType, Data: md.Data})
	}
	parts = append(parts, vertexgenai.Text(prompt))

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(vertexgenai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		// first candidate with content wins
		if sb.Len() > 0 {
			break
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
