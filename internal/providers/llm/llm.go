package llm

import "context"

// Media is an inline attachment sent alongside a prompt.
type Media struct {
	MIMEType string
	Data     []byte
}

type GenerateOptions struct {
	// JSON asks the model to answer with a JSON document only.
	JSON        bool
	Temperature float32
	Media       []Media
}

type Provider interface {
	// Generate returns the complete text of the model's answer.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	Close() error
}
