package completion

import (
	"context"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/you/sqlbridge/internal/failure"
	"github.com/you/sqlbridge/internal/metrics"
)

type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	name    string
	timeout time.Duration
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, failure.New(failure.Config, "create gemini client", err)
	}
	name := cfg.Model
	if name == "" {
		name = "gemini-2.0-flash"
	}
	model := client.GenerativeModel(name)
	model.SetTemperature(0.2)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	return &Gemini{client: client, model: model, name: name, timeout: timeout}, nil
}

func (g *Gemini) Model() string { return g.name }

func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	ctxTO, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.model.GenerateContent(ctxTO, genai.Text(prompt))
	metrics.ObserveCompletion("gemini", err)
	if err != nil {
		return "", failure.New(failure.Completion, "gemini generate content", err)
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				b.WriteString(string(txt))
			}
		}
		// first candidate with content only
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return "", failure.Newf(failure.Completion, "gemini generate content", "empty response")
	}
	return strings.TrimSpace(b.String()), nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}
