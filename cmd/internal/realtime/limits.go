package realtime

import "time"

// Per-connection limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max prompt length (runes).
	maxPromptChars = 8000

	// Queued producer jobs per session; more is answered with an error frame.
	maxPendingJobs = 8
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
