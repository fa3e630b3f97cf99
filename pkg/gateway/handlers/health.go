package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/voxline-ai/voxline/pkg/gateway/config"
	"github.com/voxline-ai/voxline/pkg/gateway/lifecycle"
	"github.com/voxline-ai/voxline/pkg/gateway/session"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Calls     *session.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK          bool     `json:"ok"`
		Draining    bool     `json:"draining"`
		LLMProvider string   `json:"llm_provider"`
		LiveCalls   int      `json:"live_calls"`
		Persistence string   `json:"persistence"`
		Issues      []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)

	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "gateway is draining")
	}
	switch h.Config.LLMProvider {
	case config.LLMProviderOpenAI, config.LLMProviderGemini:
	default:
		issues = append(issues, "invalid llm provider")
	}

	persistence := "memory"
	if h.Config.DatabaseURL != "" {
		persistence = "postgres"
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:          ok,
		Draining:    draining,
		LLMProvider: h.Config.LLMProvider,
		LiveCalls:   h.Calls.Count(),
		Persistence: persistence,
		Issues:      issues,
	})
}
