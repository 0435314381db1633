package completion

import (
	"context"
	"errors"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/you/sqlbridge/internal/failure"
	"github.com/you/sqlbridge/internal/metrics"
)

const (
	maxModelTokens    = 2000
	defaultLLMTimeout = 30 * time.Second
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type OpenAI struct {
	llm     openai.Client // value type
	model   string
	timeout time.Duration
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	// Quota and transport failures must reach the caller on the first attempt.
	opts = append(opts, option.WithMaxRetries(0))

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	return &OpenAI{llm: openai.NewClient(opts...), model: model, timeout: timeout}
}

func (o *OpenAI) Model() string { return o.model }

func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	ctxTO, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.llm.Chat.Completions.New(ctxTO, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(maxModelTokens),
		Temperature: openai.Float(0.2),
	})
	metrics.ObserveCompletion("openai", err)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &failure.Error{Kind: failure.Completion, Op: "openai chat completion", StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", failure.New(failure.Completion, "openai chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", failure.Newf(failure.Completion, "openai chat completion", "empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
