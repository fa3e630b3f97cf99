// Package llm defines the chat-model contract the turn orchestrator
// drives. Providers translate it to their wire formats.
package llm

import (
	"context"
	"encoding/json"
)

// Message is one chat entry in provider-neutral form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool describes a callable function offered to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Request is one chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int
}

// Response is a complete, non-streamed model reply. Exactly one of
// Text or ToolCall is meaningful; a tool call takes precedence.
type Response struct {
	Text     string
	ToolCall *ToolCall
}

// Delta is one streamed increment. Text deltas arrive in generation
// order. A ToolCall delta is terminal: it is emitted once, fully
// assembled, when the model finishes requesting a function.
type Delta struct {
	Text     string
	ToolCall *ToolCall
}

// Stream iterates streamed deltas. Next returns io.EOF when the
// stream completes.
type Stream interface {
	Next() (Delta, error)
	Close() error
}

// Provider is a chat-completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) (Stream, error)
}
