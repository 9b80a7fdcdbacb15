package producer

import "sync"

// Role of a memory turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one remembered utterance.
type Turn struct {
	Role    Role
	Content string
}

const defaultMemoryTurns = 20

// Memory keeps the most recent turns of every conversation.
type Memory struct {
	maxTurns int

	mu    sync.Mutex
	convs map[string][]Turn
}

// NewMemory returns a memory keeping at most maxTurns turns per conversation.
func NewMemory(maxTurns int) *Memory {
	if maxTurns <= 0 {
		maxTurns = defaultMemoryTurns
	}
	return &Memory{
		maxTurns: maxTurns,
		convs:    make(map[string][]Turn),
	}
}

// Append records turns for conv, dropping the oldest beyond the bound.
func (m *Memory) Append(conv string, turns ...Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := append(m.convs[conv], turns...)
	if over := len(h) - m.maxTurns; over > 0 {
		h = append([]Turn(nil), h[over:]...)
	}
	m.convs[conv] = h
}

// History returns a copy of conv's turns, oldest first.
func (m *Memory) History(conv string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Turn(nil), m.convs[conv]...)
}

// Clear forgets conv. It reports whether anything was stored.
func (m *Memory) Clear(conv string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.convs[conv]
	delete(m.convs, conv)
	return ok
}

// Conversations returns how many conversations have memory.
func (m *Memory) Conversations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs)
}
