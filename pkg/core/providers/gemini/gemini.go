// Package gemini implements the llm.Provider contract over the Gemini
// API using the official SDK.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"google.golang.org/genai"

	"github.com/voxline-ai/voxline/pkg/core/llm"
)

// DefaultMaxTokens bounds replies when the caller does not.
const DefaultMaxTokens = 512

// Provider implements llm.Provider against Gemini.
type Provider struct {
	client *genai.Client
}

// New creates a Gemini provider authenticated with the given API key.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// toContents converts chat messages to Gemini contents. The system
// prompt travels separately as a system instruction, so it is skipped
// here.
func toContents(messages []llm.Message) []*genai.Content {
	var contents []*genai.Content
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == "assistant" || m.Role == "tool" {
			role = genai.RoleModel
		}
		if m.Role == "system" {
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return contents
}

// toConfig builds the generation config: system instruction, sampling
// parameters, and function declarations.
func toConfig(req *llm.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	for _, m := range req.Messages {
		if m.Role == "system" {
			cfg.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
			}
			break
		}
	}

	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	cfg.MaxOutputTokens = int32(maxTokens)

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// fromResponse extracts a reply from one model response. A function
// call takes precedence over text.
func fromResponse(resp *genai.GenerateContentResponse) (*llm.Response, error) {
	if calls := resp.FunctionCalls(); len(calls) > 0 {
		args, err := json.Marshal(calls[0].Args)
		if err != nil {
			return nil, fmt.Errorf("marshal function args: %w", err)
		}
		return &llm.Response{ToolCall: &llm.ToolCall{Name: calls[0].Name, Arguments: args}}, nil
	}
	return &llm.Response{Text: resp.Text()}, nil
}

// Complete sends a non-streaming request.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, toContents(req.Messages), toConfig(req))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	return fromResponse(resp)
}

// Stream sends a streaming request and returns the delta stream.
func (p *Provider) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	seq := p.client.Models.GenerateContentStream(ctx, req.Model, toContents(req.Messages), toConfig(req))
	return newStream(seq), nil
}

// stream adapts the SDK's push iterator to the pull-based llm.Stream.
type stream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
	done bool
}

func newStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) *stream {
	next, stop := iter.Pull2(seq)
	return &stream{next: next, stop: stop}
}

// Next returns the next delta, or io.EOF when the stream completes.
// Gemini delivers function calls whole in a single chunk, so a tool
// call delta needs no assembly.
func (s *stream) Next() (llm.Delta, error) {
	if s.done {
		return llm.Delta{}, io.EOF
	}
	for {
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			return llm.Delta{}, io.EOF
		}
		if err != nil {
			s.done = true
			return llm.Delta{}, fmt.Errorf("gemini stream: %w", err)
		}

		if calls := resp.FunctionCalls(); len(calls) > 0 {
			args, err := json.Marshal(calls[0].Args)
			if err != nil {
				s.done = true
				return llm.Delta{}, fmt.Errorf("marshal function args: %w", err)
			}
			s.done = true
			return llm.Delta{ToolCall: &llm.ToolCall{Name: calls[0].Name, Arguments: args}}, nil
		}
		if text := resp.Text(); text != "" {
			return llm.Delta{Text: text}, nil
		}
	}
}

// Close releases the underlying iterator.
func (s *stream) Close() error {
	s.done = true
	s.stop()
	return nil
}
