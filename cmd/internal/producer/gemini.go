package producer

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini streams content from the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	system string
}

// GeminiOption configures Gemini.
type GeminiOption func(*geminiConfig)

type geminiConfig struct {
	model   string
	system  string
	baseURL string
}

// WithGeminiModel sets the model.
func WithGeminiModel(model string) GeminiOption {
	return func(c *geminiConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithGeminiSystemPrompt sets the system instruction.
func WithGeminiSystemPrompt(s string) GeminiOption {
	return func(c *geminiConfig) { c.system = s }
}

// WithGeminiBaseURL overrides the API endpoint.
func WithGeminiBaseURL(u string) GeminiOption {
	return func(c *geminiConfig) { c.baseURL = u }
}

// NewGemini creates a Gemini API client.
func NewGemini(ctx context.Context, apiKey string, opts ...GeminiOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}

	cfg := geminiConfig{model: defaultGeminiModel}
	for _, opt := range opts {
		opt(&cfg)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Gemini{client: client, model: cfg.model, system: cfg.system}, nil
}

func (g *Gemini) Name() string { return ProviderGemini }

func geminiContents(history []Turn, prompt string) []*genai.Content {
	out := make([]*genai.Content, 0, len(history)+1)
	for _, t := range history {
		role := genai.Role(genai.RoleUser)
		if t.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(t.Content, role))
	}
	return append(out, genai.NewContentFromText(prompt, genai.RoleUser))
}

func (g *Gemini) Generate(ctx context.Context, history []Turn, prompt string, onChunk ChunkFunc) (string, error) {
	contents := geminiContents(history, prompt)

	var cfg *genai.GenerateContentConfig
	if g.system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(g.system, genai.RoleUser),
		}
	}

	if onChunk == nil {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err != nil {
			return "", fmt.Errorf("gemini generate: %w", err)
		}
		return resp.Text(), nil
	}

	var sb strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
		if err != nil {
			return "", fmt.Errorf("gemini stream: %w", err)
		}
		tok := resp.Text()
		if tok == "" {
			continue
		}
		sb.WriteString(tok)
		onChunk(tok)
	}
	return sb.String(), nil
}
