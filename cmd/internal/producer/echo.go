package producer

import (
	"context"
	"fmt"
	"strings"
)

// Echo is a deterministic local model. It answers "echo: <prompt>" and streams it word by word.
type Echo struct{}

func (Echo) Name() string { return ProviderEcho }

func (Echo) Generate(ctx context.Context, history []Turn, prompt string, onChunk ChunkFunc) (string, error) {
	text := "echo: " + strings.TrimSpace(prompt)
	if n := len(history) / 2; n > 0 {
		text = fmt.Sprintf("%s (turn %d)", text, n+1)
	}

	if onChunk != nil {
		words := strings.SplitAfter(text, " ")
		for _, w := range words {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			onChunk(w)
		}
	}
	return text, nil
}
