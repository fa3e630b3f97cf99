// Package convo holds per-call conversation state.
package convo

import "sync"

// Role identifies who produced a conversation entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is a bounded sliding window over a call's conversation.
//
// Entry 0 is always the system prompt and is never evicted. The total
// entry count is capped at 1 + 2*maxTurnPairs; when the cap is
// exceeded the oldest non-system entries are dropped first.
type History struct {
	mu           sync.Mutex
	system       Message
	entries      []Message
	maxTurnPairs int
}

// DefaultMaxTurnPairs is the window size used when none is configured.
const DefaultMaxTurnPairs = 10

// New creates a history seeded with the system prompt.
func New(systemPrompt string, maxTurnPairs int) *History {
	if maxTurnPairs <= 0 {
		maxTurnPairs = DefaultMaxTurnPairs
	}
	return &History{
		system:       Message{Role: RoleSystem, Content: systemPrompt},
		maxTurnPairs: maxTurnPairs,
	}
}

// AppendUser adds a caller turn.
func (h *History) AppendUser(text string) { h.append(Message{Role: RoleUser, Content: text}) }

// AppendAssistant adds a spoken assistant reply.
func (h *History) AppendAssistant(text string) {
	h.append(Message{Role: RoleAssistant, Content: text})
}

// AppendTool adds a tool result that was spoken to the caller.
func (h *History) AppendTool(text string) { h.append(Message{Role: RoleTool, Content: text}) }

func (h *History) append(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, m)
	if over := len(h.entries) - 2*h.maxTurnPairs; over > 0 {
		h.entries = append([]Message(nil), h.entries[over:]...)
	}
}

// RollbackLastUser removes the most recent entry if it is a user
// message. A failed generation must not leave the caller's question in
// the window, or every later turn re-answers it.
func (h *History) RollbackLastUser() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.entries); n > 0 && h.entries[n-1].Role == RoleUser {
		h.entries = h.entries[:n-1]
	}
}

// Messages returns a snapshot: the system prompt followed by the
// windowed entries. The slice is safe for the caller to retain.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, 0, len(h.entries)+1)
	out = append(out, h.system)
	out = append(out, h.entries...)
	return out
}

// Len returns the total entry count including the system prompt.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries) + 1
}

// Clear drops every non-system entry. Called on teardown so a reused
// buffer can never leak one call's conversation into another.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
