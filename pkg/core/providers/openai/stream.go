package openai

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/voxline-ai/voxline/pkg/core/llm"
)

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int `json:"index"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// toolCallAccumulator assembles a streamed tool call from fragments.
// The name arrives on the first fragment; arguments accumulate as raw
// JSON text across the rest.
type toolCallAccumulator struct {
	name string
	args strings.Builder
}

// eventStream parses server-sent events off the response body and
// yields llm.Delta values. Tool calls are held back until the stream
// finishes so the orchestrator sees them fully assembled.
type eventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	pending *toolCallAccumulator
	done    bool
}

func newEventStream(body io.ReadCloser) *eventStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &eventStream{body: body, scanner: sc}
}

// Next returns the next delta, or io.EOF when the stream completes.
func (s *eventStream) Next() (llm.Delta, error) {
	if s.done {
		return llm.Delta{}, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return s.finish()
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		for _, tc := range choice.Delta.ToolCalls {
			// Only the first tool call is honored; the turn
			// orchestrator executes one function per turn.
			if tc.Index != 0 {
				continue
			}
			if s.pending == nil {
				s.pending = &toolCallAccumulator{}
			}
			if tc.Function.Name != "" {
				s.pending.name = tc.Function.Name
			}
			s.pending.args.WriteString(tc.Function.Arguments)
		}

		if choice.Delta.Content != "" {
			return llm.Delta{Text: choice.Delta.Content}, nil
		}
		if choice.FinishReason != "" {
			return s.finish()
		}
	}

	if err := s.scanner.Err(); err != nil {
		s.done = true
		return llm.Delta{}, err
	}
	return s.finish()
}

// finish flushes the assembled tool call, if any, then terminates.
func (s *eventStream) finish() (llm.Delta, error) {
	s.done = true
	if s.pending != nil && s.pending.name != "" {
		args := s.pending.args.String()
		if args == "" {
			args = "{}"
		}
		call := &llm.ToolCall{Name: s.pending.name, Arguments: json.RawMessage(args)}
		s.pending = nil
		return llm.Delta{ToolCall: call}, nil
	}
	return llm.Delta{}, io.EOF
}

// Close releases the underlying response body.
func (s *eventStream) Close() error {
	s.done = true
	return s.body.Close()
}
