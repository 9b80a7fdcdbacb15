// Package httpjson holds the JSON request/response helpers shared by the HTTP handlers.
package httpjson

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/broker"
	v1 "github.com/Karen86Tonoyan/automatzyacja/shared/contracts/realtime/v1"
)

// DefaultMaxBody bounds request bodies when a handler has no own limit.
const DefaultMaxBody int64 = 1 << 20

// Error codes.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInvalidChannel = "invalid_channel"
	CodeInvalidPayload = "invalid_payload"
	CodeMethod         = "method_not_allowed"
	CodeUpstream       = "upstream_error"
	CodeInternal       = "internal_error"
)

// Write encodes v with status.
func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the {error:{code,message}} body.
func WriteError(w http.ResponseWriter, status int, code, msg string) {
	Write(w, status, v1.ErrorBody{Error: v1.ErrorDetail{Code: code, Message: msg}})
}

// Decode reads exactly one JSON value into dst, rejecting unknown fields.
func Decode(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBody
	}
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}

// Message converts a stored message to its wire form.
func Message(m broker.Message) v1.Message {
	return v1.Message{
		ID:        m.ID,
		Channel:   m.Channel,
		Payload:   m.Payload,
		CreatedAt: m.CreatedAt,
	}
}

// Messages converts msgs; the result is never nil so it encodes as [].
func Messages(msgs []broker.Message) []v1.Message {
	out := make([]v1.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message(m))
	}
	return out
}
