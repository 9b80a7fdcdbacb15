package v1

import (
	"encoding/json"
	"time"
)

// Message mirrors a stored broker message on the wire.
type Message struct {
	ID        int64           `json:"id"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// PollRequest is the POST /poll body. GET /poll carries the same fields as query parameters.
type PollRequest struct {
	Channel        string `json:"channel"`
	ConversationID string `json:"conversationId,omitempty"`
	LastID         int64  `json:"lastId"`
	TimeoutMS      int64  `json:"timeout,omitempty"`
}

// PollResponse is returned by /poll; Messages is never null.
type PollResponse struct {
	Messages []Message `json:"messages"`
}

// PublishRequest is the POST /publish body. Text is shorthand for a {"text": ...} payload
// and is ignored when Payload is set.
type PublishRequest struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
	Text    *string         `json:"text,omitempty"`
}

// Body returns the payload to publish.
func (r PublishRequest) Body() json.RawMessage {
	if len(r.Payload) > 0 || r.Text == nil {
		return r.Payload
	}
	b, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: *r.Text})
	if err != nil {
		return nil
	}
	return b
}

// PublishResponse acknowledges a publish.
type PublishResponse struct {
	OK      bool    `json:"ok"`
	Message Message `json:"message"`
}

// SendRequest is the POST /send body: a producer request whose output is published to Channel.
type SendRequest struct {
	Channel        string `json:"channel"`
	ConversationID string `json:"conversationId,omitempty"`
	Type           string `json:"type"`
	Prompt         string `json:"prompt,omitempty"`
	Streaming      bool   `json:"streaming,omitempty"`
	Steps          []Step `json:"steps,omitempty"`
}

// SendResponse reports the producer result.
type SendResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

// Health is the GET /health body.
type Health struct {
	Status       string  `json:"status"`
	ChannelCount int     `json:"channelCount"`
	Uptime       float64 `json:"uptime"`
}

// ErrorBody is the error shape of every JSON endpoint.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine code and a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
