// Package server wires the gateway's routes and middleware chain.
package server

import (
	"log/slog"
	"net/http"

	"github.com/voxline-ai/voxline/pkg/core/llm"
	"github.com/voxline-ai/voxline/pkg/core/tools"
	"github.com/voxline-ai/voxline/pkg/core/voice/stt"
	"github.com/voxline-ai/voxline/pkg/core/voice/tts"
	"github.com/voxline-ai/voxline/pkg/gateway/config"
	"github.com/voxline-ai/voxline/pkg/gateway/handlers"
	"github.com/voxline-ai/voxline/pkg/gateway/lifecycle"
	"github.com/voxline-ai/voxline/pkg/gateway/mw"
	"github.com/voxline-ai/voxline/pkg/gateway/session"
	"github.com/voxline-ai/voxline/pkg/gateway/streamtoken"
	"github.com/voxline-ai/voxline/pkg/store"
)

// Dependencies are the process-wide collaborators handlers share.
type Dependencies struct {
	Tokens    *streamtoken.Authenticator
	Lifecycle *lifecycle.Lifecycle
	Calls     *session.Tracker

	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Dispatcher *tools.Dispatcher
	Store      store.Store
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	deps   Dependencies
	mux    *http.ServeMux
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.deps.Lifecycle,
		Calls:     s.deps.Calls,
	})

	var twiml http.Handler = handlers.TwimlHandler{
		Config: s.cfg,
		Tokens: s.deps.Tokens,
		Logger: s.logger,
	}
	twiml = mw.CallLimit(s.cfg.MaxConcurrentCalls, s.deps.Calls, s.logger, twiml)
	twiml = mw.WebhookAuth(s.cfg.TwilioAuthToken, s.cfg.PublicBaseURL, s.logger, twiml)
	s.mux.Handle("/twiml", twiml)

	s.mux.Handle("/media", handlers.MediaHandler{
		Config:     s.cfg,
		Tokens:     s.deps.Tokens,
		Logger:     s.logger,
		Lifecycle:  s.deps.Lifecycle,
		Calls:      s.deps.Calls,
		LLM:        s.deps.LLM,
		STT:        s.deps.STT,
		TTS:        s.deps.TTS,
		Dispatcher: s.deps.Dispatcher,
		Store:      s.deps.Store,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
