package answer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when OpenAIOptions.Model is empty.
const DefaultModel = openai.ChatModelGPT4oMini

// OpenAIOptions configures the chat completion call.
type OpenAIOptions struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	HTTPClient   *http.Client
}

type chatCompletions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAICompleter implements Completer with the Chat Completions API.
type OpenAICompleter struct {
	chat   chatCompletions
	model  string
	system string
	temp   float64
	max    int
}

// NewOpenAICompleter builds a completer. Retries are left to the HTTP client.
func NewOpenAICompleter(opts OpenAIOptions) (*OpenAICompleter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("answer: openai api key is required")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	client := openai.NewClient(reqOpts...)
	return newOpenAICompleter(&client.Chat.Completions, opts), nil
}

func newOpenAICompleter(chat chatCompletions, opts OpenAIOptions) *OpenAICompleter {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	return &OpenAICompleter{
		chat:   chat,
		model:  model,
		system: strings.TrimSpace(opts.SystemPrompt),
		temp:   opts.Temperature,
		max:    opts.MaxTokens,
	}
}

// Complete sends prompt as a user message, preceded by the system prompt if set.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if c.system != "" {
		messages = append(messages, openai.SystemMessage(c.system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if c.temp > 0 {
		params.Temperature = openai.Float(c.temp)
	}
	if c.max > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.max))
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("answer: openai chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
