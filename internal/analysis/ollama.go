package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog/log"
)

// ollamaTimeout bounds a single local vision call. CPU-only hosts can be
// very slow on large images.
const ollamaTimeout = 300 * time.Second

// OllamaAnalyzer runs the same sourcing contract against a local Ollama
// vision model. Useful for offline work; Gemini remains the default.
type OllamaAnalyzer struct {
	client *api.Client
	model  string
}

// NewOllamaAnalyzer creates an analyzer talking to the Ollama server at
// baseURL (e.g. http://localhost:11434) using the given vision model.
func NewOllamaAnalyzer(baseURL, model string) (*OllamaAnalyzer, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return &OllamaAnalyzer{
		client: api.NewClient(base, http.DefaultClient),
		model:  model,
	}, nil
}

// Analyze implements the Analyzer interface using a local Ollama model.
func (o *OllamaAnalyzer) Analyze(ctx context.Context, imageData []byte) ([]ProductAnalysis, error) {
	if len(imageData) == 0 {
		return nil, fmt.Errorf("no image data provided")
	}

	imageData = stripDataURI(imageData)

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ollamaTimeout)
		defer cancel()
	}

	stream := false
	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: sourcingPrompt,
				Images:  []api.ImageData{api.ImageData(imageData)},
			},
		},
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
	}

	var responseText string
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseText = resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}

	records, err := parseRecords(responseText)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("model", o.model).
		Int("products", len(records)).
		Msg("vision llm call")

	return records, nil
}
