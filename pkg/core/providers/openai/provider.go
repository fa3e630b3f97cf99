// Package openai implements the llm.Provider contract over the
// OpenAI Chat Completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxline-ai/voxline/pkg/core/llm"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultMaxTokens bounds replies when the caller does not.
	DefaultMaxTokens = 512
)

// Rate-limit retry policy. 429 is the only retried status: every other
// failure is terminal for the turn, so worst-case latency stays bounded.
const (
	maxRateLimitRetries  = 2
	rateLimitBackoffBase = 400 * time.Millisecond
	rateLimitBackoffCap  = 1600 * time.Millisecond
)

// Provider implements llm.Provider against OpenAI.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option customizes the provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(base string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(base, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates an OpenAI provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name string `json:"name"`
					// Arguments is JSON text encoded as a string.
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *Provider) buildRequest(req *llm.Request, stream bool) *chatRequest {
	out := &chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	for _, m := range req.Messages {
		role := m.Role
		// Tool results already spoken to the caller travel as
		// assistant turns; this provider never round-trips tool
		// protocol messages.
		if role == "tool" {
			role = "assistant"
		}
		out.Messages = append(out.Messages, chatMessage{Role: role, Content: m.Content})
	}
	for _, t := range req.Tools {
		ct := chatTool{Type: "function"}
		ct.Function.Name = t.Name
		ct.Function.Description = t.Description
		ct.Function.Parameters = t.Parameters
		out.Tools = append(out.Tools, ct)
	}
	return out
}

// Complete sends a non-streaming chat request.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	body, err := p.doRequest(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}

	choice := parsed.Choices[0]
	if len(choice.Message.ToolCalls) > 0 {
		fn := choice.Message.ToolCalls[0].Function
		args := fn.Arguments
		if args == "" {
			args = "{}"
		}
		return &llm.Response{ToolCall: &llm.ToolCall{Name: fn.Name, Arguments: json.RawMessage(args)}}, nil
	}
	return &llm.Response{Text: choice.Message.Content}, nil
}

// Stream sends a streaming chat request and returns the delta stream.
func (p *Provider) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	body, err := p.doRequest(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	return newEventStream(body), nil
}

// doRequest posts the chat request, retrying only on 429 with a capped
// backoff, and returns the response body on success.
func (p *Provider) doRequest(ctx context.Context, req *chatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			p.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		if req.Stream {
			httpReq.Header.Set("Accept", "text/event-stream")
		}

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRateLimitRetries {
			resp.Body.Close()
			backoff := rateLimitBackoffBase << attempt
			if backoff > rateLimitBackoffCap {
				backoff = rateLimitBackoffCap
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}

		if resp.StatusCode >= 400 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return nil, fmt.Errorf("openai error %d: %s", resp.StatusCode, string(detail))
		}
		return resp.Body, nil
	}
}
