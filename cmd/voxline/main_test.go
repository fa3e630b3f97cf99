package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/voxline-ai/voxline/pkg/gateway/config"
)

func TestRunMainReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, appDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode = %d, want 1", exitCode)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected stderr output for startup error")
	}
}

func TestBuildHTTPServerUsesConfiguredAddress(t *testing.T) {
	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}
	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr = %q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout = %v", srv.ReadHeaderTimeout)
	}
}

func TestNewLLMProviderUnknown(t *testing.T) {
	if _, err := newLLMProvider(context.Background(), config.Config{LLMProvider: "mistral"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewLLMProviderOpenAI(t *testing.T) {
	p, err := newLLMProvider(context.Background(), config.Config{
		LLMProvider:  config.LLMProviderOpenAI,
		OpenAIAPIKey: "sk-test",
	})
	if err != nil {
		t.Fatalf("newLLMProvider: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("provider = %q", p.Name())
	}
}
