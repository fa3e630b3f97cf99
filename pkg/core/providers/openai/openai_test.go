package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/voxline-ai/voxline/pkg/core/llm"
)

func TestCompleteText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", req.Messages)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Hello there."},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	p := New("test-key", WithBaseURL(srv.URL))
	resp, err := p.Complete(context.Background(), &llm.Request{
		Model: "gpt-4o-mini",
		Messages: []llm.Message{
			{Role: "system", Content: "You are a receptionist."},
			{Role: "user", Content: "Hi"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Hello there." {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.ToolCall != nil {
		t.Errorf("unexpected tool call %+v", resp.ToolCall)
	}
}

func TestCompleteToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "check_availability" {
			t.Errorf("tools = %+v", req.Tools)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"tool_calls":[{"function":{"name":"check_availability","arguments":"{\"date\":\"2026-09-01\"}"}}]},"finish_reason":"tool_calls"}]}`)
	}))
	defer srv.Close()

	p := New("k", WithBaseURL(srv.URL))
	resp, err := p.Complete(context.Background(), &llm.Request{
		Model:    "gpt-4o-mini",
		Messages: []llm.Message{{Role: "user", Content: "any slots monday?"}},
		Tools: []llm.Tool{{
			Name:       "check_availability",
			Parameters: map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.ToolCall == nil || resp.ToolCall.Name != "check_availability" {
		t.Fatalf("tool call = %+v", resp.ToolCall)
	}
	var args map[string]string
	if err := json.Unmarshal(resp.ToolCall.Arguments, &args); err != nil {
		t.Fatalf("unmarshal arguments: %v", err)
	}
	if args["date"] != "2026-09-01" {
		t.Errorf("arguments = %v", args)
	}
}

func TestRetryOnRateLimitOnly(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	p := New("k", WithBaseURL(srv.URL))
	resp, err := p.Complete(context.Background(), &llm.Request{Model: "m", Messages: []llm.Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("text = %q", resp.Text)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d calls, want 2", got)
	}
}

func TestNoRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New("k", WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), &llm.Request{Model: "m", Messages: []llm.Message{{Role: "user", Content: "x"}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d calls, want 1", got)
	}
}

func sseBody(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("data: ")
		b.WriteString(l)
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestStreamTextDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("stream flag not set")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseBody(
			`{"choices":[{"delta":{"content":"We are "}}]}`,
			`{"choices":[{"delta":{"content":"open "}}]}`,
			`{"choices":[{"delta":{"content":"Monday."}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`[DONE]`,
		))
	}))
	defer srv.Close()

	p := New("k", WithBaseURL(srv.URL))
	stream, err := p.Stream(context.Background(), &llm.Request{Model: "m", Messages: []llm.Message{{Role: "user", Content: "hours?"}}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var got strings.Builder
	for {
		d, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if d.ToolCall != nil {
			t.Fatalf("unexpected tool call %+v", d.ToolCall)
		}
		got.WriteString(d.Text)
	}
	if got.String() != "We are open Monday." {
		t.Errorf("assembled = %q", got.String())
	}
}

func TestStreamAssemblesToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseBody(
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"book_appointment","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"time\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"10am\"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
			`[DONE]`,
		))
	}))
	defer srv.Close()

	p := New("k", WithBaseURL(srv.URL))
	stream, err := p.Stream(context.Background(), &llm.Request{Model: "m", Messages: []llm.Message{{Role: "user", Content: "book 10am"}}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var call *llm.ToolCall
	for {
		d, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if d.ToolCall != nil {
			if call != nil {
				t.Fatal("tool call delivered twice")
			}
			call = d.ToolCall
		}
	}
	if call == nil {
		t.Fatal("no tool call delivered")
	}
	if call.Name != "book_appointment" {
		t.Errorf("name = %q", call.Name)
	}
	var args map[string]string
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		t.Fatalf("unmarshal arguments %q: %v", call.Arguments, err)
	}
	if args["time"] != "10am" {
		t.Errorf("arguments = %v", args)
	}
}

func TestStreamMixedTextThenToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseBody(
			`{"choices":[{"delta":{"content":"One moment. "}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"transfer_call","arguments":"{}"}}]}}]}`,
			`[DONE]`,
		))
	}))
	defer srv.Close()

	p := New("k", WithBaseURL(srv.URL))
	stream, err := p.Stream(context.Background(), &llm.Request{Model: "m", Messages: []llm.Message{{Role: "user", Content: "human please"}}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	d, err := stream.Next()
	if err != nil || d.Text != "One moment. " {
		t.Fatalf("first delta = %+v, %v", d, err)
	}
	d, err = stream.Next()
	if err != nil || d.ToolCall == nil || d.ToolCall.Name != "transfer_call" {
		t.Fatalf("second delta = %+v, %v", d, err)
	}
	if _, err := stream.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}
