package producer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ChunkFunc receives streamed tokens in order.
type ChunkFunc func(token string)

// Model generates an answer to prompt given the prior turns. When onChunk is non-nil the model
// streams tokens through it before returning the full text.
type Model interface {
	Name() string
	Generate(ctx context.Context, history []Turn, prompt string, onChunk ChunkFunc) (string, error)
}

// Runner is what transports call.
type Runner interface {
	Run(ctx context.Context, conversation, prompt string, onChunk ChunkFunc) (string, error)
	Clear(conversation string) bool
}

// Producer binds a model to conversation memory.
type Producer struct {
	log    *slog.Logger
	model  Model
	memory *Memory
}

// New returns a Producer. A nil memory gets the default bound.
func New(log *slog.Logger, model Model, memory *Memory) *Producer {
	if log == nil {
		log = slog.Default()
	}
	if memory == nil {
		memory = NewMemory(0)
	}
	return &Producer{log: log, model: model, memory: memory}
}

// Model returns the underlying model.
func (p *Producer) Model() Model { return p.model }

// Run answers prompt within conversation and remembers the exchange.
// Streaming happens iff onChunk is non-nil.
func (p *Producer) Run(ctx context.Context, conversation, prompt string, onChunk ChunkFunc) (string, error) {
	conversation = strings.TrimSpace(conversation)
	if conversation == "" {
		return "", ErrNoConversation
	}
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	start := time.Now()
	history := p.memory.History(conversation)

	text, err := p.model.Generate(ctx, history, prompt, onChunk)
	if err != nil {
		p.log.Warn("producer.run.fail",
			"conversation", conversation,
			"model", p.model.Name(),
			"error", err,
		)
		return "", fmt.Errorf("generate: %w", err)
	}
	if text == "" {
		return "", ErrNoResponse
	}

	p.memory.Append(conversation,
		Turn{Role: RoleUser, Content: prompt},
		Turn{Role: RoleAssistant, Content: text},
	)

	p.log.Info("producer.run",
		"conversation", conversation,
		"model", p.model.Name(),
		"streaming", onChunk != nil,
		"history_turns", len(history),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

// Clear forgets the conversation memory.
func (p *Producer) Clear(conversation string) bool {
	ok := p.memory.Clear(conversation)
	p.log.Info("producer.memory.clear", "conversation", conversation, "existed", ok)
	return ok
}
