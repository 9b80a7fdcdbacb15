package producer

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAI streams chat completions.
type OpenAI struct {
	client openai.Client
	model  string
	system string
}

// OpenAIOption configures OpenAI.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	model   string
	system  string
	reqOpts []option.RequestOption
}

// WithOpenAIModel sets the chat model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(c *openAIConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithOpenAISystemPrompt prepends a system message to every request.
func WithOpenAISystemPrompt(s string) OpenAIOption {
	return func(c *openAIConfig) { c.system = s }
}

// WithOpenAIBaseURL points the client at a compatible endpoint.
func WithOpenAIBaseURL(u string) OpenAIOption {
	return func(c *openAIConfig) {
		if u != "" {
			c.reqOpts = append(c.reqOpts, option.WithBaseURL(u))
		}
	}
}

// WithOpenAIRequestOptions passes raw client options through.
func WithOpenAIRequestOptions(opts ...option.RequestOption) OpenAIOption {
	return func(c *openAIConfig) { c.reqOpts = append(c.reqOpts, opts...) }
}

// NewOpenAI returns an OpenAI model.
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}

	cfg := openAIConfig{model: defaultOpenAIModel}
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, cfg.reqOpts...)
	return &OpenAI{
		client: openai.NewClient(reqOpts...),
		model:  cfg.model,
		system: cfg.system,
	}, nil
}

func (o *OpenAI) Name() string { return ProviderOpenAI }

func (o *OpenAI) messages(history []Turn, prompt string) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if o.system != "" {
		msgs = append(msgs, openai.SystemMessage(o.system))
	}
	for _, t := range history {
		switch t.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		default:
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	return append(msgs, openai.UserMessage(prompt))
}

func (o *OpenAI) Generate(ctx context.Context, history []Turn, prompt string, onChunk ChunkFunc) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: o.messages(history, prompt),
	}

	if onChunk == nil {
		resp, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("openai completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", ErrNoResponse
		}
		return resp.Choices[0].Message.Content, nil
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		tok := chunk.Choices[0].Delta.Content
		if tok == "" {
			continue
		}
		sb.WriteString(tok)
		onChunk(tok)
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("openai stream: %w", err)
	}
	return sb.String(), nil
}
