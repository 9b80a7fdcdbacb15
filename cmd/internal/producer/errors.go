package producer

import "errors"

var (
	// ErrInvalidAPIKey indicates a missing provider API key.
	ErrInvalidAPIKey = errors.New("producer: invalid or missing API key")
	// ErrUnknownProvider indicates an unsupported provider name.
	ErrUnknownProvider = errors.New("producer: unknown provider")
	// ErrEmptyPrompt is returned when a run has nothing to answer.
	ErrEmptyPrompt = errors.New("producer: empty prompt")
	// ErrNoConversation is returned when a run is not bound to a conversation.
	ErrNoConversation = errors.New("producer: missing conversation")
	// ErrNoResponse indicates the model returned no content.
	ErrNoResponse = errors.New("producer: no response from model")
)
