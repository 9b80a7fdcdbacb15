package broker

import "errors"

var (
	// ErrInvalidChannel is returned for empty or oversized channel ids.
	ErrInvalidChannel = errors.New("broker: invalid channel")
	// ErrInvalidPayload is returned when a payload is missing or not valid JSON.
	ErrInvalidPayload = errors.New("broker: invalid payload")
	// ErrBacklogPending rejects a long-poll registration while deliverable messages exist.
	// The backlog is returned alongside it so the caller can reply immediately.
	ErrBacklogPending = errors.New("broker: backlog pending")
	// ErrNilSink is returned when a registration has no delivery sink.
	ErrNilSink = errors.New("broker: nil sink")
	// ErrInvalidTimeout is returned for non-positive long-poll timeouts.
	ErrInvalidTimeout = errors.New("broker: invalid timeout")
)
