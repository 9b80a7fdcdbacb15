// Package v1 defines the wire contract shared by the server and its clients: socket frames and
// the JSON bodies of the HTTP endpoints.
//
// Socket frames are flat JSON objects discriminated by "type".
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Socket frame types (wire-stable).
const (
	// TypeInit binds the socket to a channel (client -> server). Must be the first frame.
	TypeInit = "init"
	// TypeInitOK acknowledges init (server -> client).
	TypeInitOK = "init_ok"

	// TypeRun asks the producer to answer a prompt (client -> server).
	TypeRun = "run"
	// TypeCreateChain runs a multi-step chain (client -> server).
	TypeCreateChain = "create_chain"
	// TypeToolResult carries the result of a client-side tool call (client -> server).
	TypeToolResult = "tool_result"
	// TypeClearMemory drops the conversation memory (client -> server).
	TypeClearMemory = "clear_memory"

	// TypeStreamChunk is one streamed token (server -> client).
	TypeStreamChunk = "stream_chunk"
	// TypeResponse is a final producer answer (server -> client).
	TypeResponse = "response"
	// TypeMemoryCleared acknowledges clear_memory (server -> client).
	TypeMemoryCleared = "memory_cleared"

	// TypeError reports a failed request (server -> client).
	TypeError = "error"
)

var clientTypes = map[string]struct{}{
	TypeInit:        {},
	TypeRun:         {},
	TypeCreateChain: {},
	TypeToolResult:  {},
	TypeClearMemory: {},
}

// Frame is a socket message in either direction. Only the fields relevant to Type are set.
type Frame struct {
	Type string `json:"type"`

	// init / init_ok
	Channel        string `json:"channel,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`

	// run
	Prompt    string `json:"prompt,omitempty"`
	Streaming bool   `json:"streaming,omitempty"`

	// create_chain
	Steps []Step `json:"steps,omitempty"`

	// tool_result
	CallID string          `json:"callId,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	// stream_chunk / response / error
	Chunk   string          `json:"chunk,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ChannelID returns the channel named by an init frame. conversationId is accepted as an alias.
func (f Frame) ChannelID() string {
	if c := strings.TrimSpace(f.Channel); c != "" {
		return c
	}
	return strings.TrimSpace(f.ConversationID)
}

// Validate checks a client -> server frame.
func (f Frame) Validate() error {
	if f.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := clientTypes[f.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", f.Type)
	}

	switch f.Type {
	case TypeInit:
		if f.ChannelID() == "" {
			return errors.New("missing channel")
		}
	case TypeRun:
		if strings.TrimSpace(f.Prompt) == "" {
			return errors.New("missing prompt")
		}
	case TypeCreateChain:
		return ValidateSteps(f.Steps)
	case TypeToolResult:
		if f.CallID == "" {
			return errors.New("missing callId")
		}
	}
	return nil
}

// Chain step types.
const (
	StepSearch    = "search"
	StepSummarize = "summarize"
	StepGenerate  = "generate"
	StepResearch  = "research"
	StepTransform = "transform"
)

// Step is one stage of a create_chain request.
type Step struct {
	Type string `json:"type"`

	Query   string   `json:"query,omitempty"`   // search
	Sources []string `json:"sources,omitempty"` // search
	Prompt  string   `json:"prompt,omitempty"`  // summarize, generate
	Topic   string   `json:"topic,omitempty"`   // research

	Platform string `json:"platform,omitempty"` // transform
	Style    string `json:"style,omitempty"`    // transform
}

// MaxSteps bounds a single chain.
const MaxSteps = 16

// ValidateSteps rejects empty, oversized or unknown chains.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return errors.New("missing steps")
	}
	if len(steps) > MaxSteps {
		return fmt.Errorf("too many steps: %d > %d", len(steps), MaxSteps)
	}
	for i, s := range steps {
		switch s.Type {
		case StepSearch, StepSummarize, StepGenerate, StepResearch, StepTransform:
		default:
			return fmt.Errorf("step %d: unsupported type %q", i, s.Type)
		}
	}
	return nil
}

// InitOK builds the init acknowledgement.
func InitOK(channel, sessionID string) Frame {
	return Frame{Type: TypeInitOK, Channel: channel, SessionID: sessionID}
}

// Chunk builds a stream_chunk frame.
func Chunk(token string) Frame {
	return Frame{Type: TypeStreamChunk, Chunk: token}
}

// Response builds a response frame around an already-encoded result.
func Response(content json.RawMessage) Frame {
	return Frame{Type: TypeResponse, Content: content}
}

// Error builds an error frame.
func Error(msg string) Frame {
	return Frame{Type: TypeError, Error: msg}
}
