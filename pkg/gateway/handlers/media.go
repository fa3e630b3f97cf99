package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxline-ai/voxline/pkg/core/llm"
	"github.com/voxline-ai/voxline/pkg/core/tools"
	"github.com/voxline-ai/voxline/pkg/core/voice/stt"
	"github.com/voxline-ai/voxline/pkg/core/voice/tts"
	"github.com/voxline-ai/voxline/pkg/gateway/config"
	"github.com/voxline-ai/voxline/pkg/gateway/lifecycle"
	"github.com/voxline-ai/voxline/pkg/gateway/session"
	"github.com/voxline-ai/voxline/pkg/gateway/streamtoken"
	"github.com/voxline-ai/voxline/pkg/gateway/telephony"
	"github.com/voxline-ai/voxline/pkg/store"
)

const startHandshakeTimeout = 10 * time.Second

// MediaHandler accepts the telephony provider's media-stream socket,
// authenticates it with the stream token from the start event, and
// hands the call to a session.
type MediaHandler struct {
	Config    config.Config
	Tokens    *streamtoken.Authenticator
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Calls     *session.Tracker

	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Dispatcher *tools.Dispatcher
	Store      store.Store
}

func (h MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		http.Error(w, "gateway is draining", http.StatusServiceUnavailable)
		return
	}

	// The telephony provider sends no Origin header.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.MaxWSMessageBytes > 0 {
		conn.SetReadLimit(h.Config.MaxWSMessageBytes)
	}

	start, ok := h.awaitStart(conn)
	if !ok {
		return
	}
	logger := h.logger().With("call_sid", start.CallSID, "stream_sid", start.StreamSID)

	if !h.Tokens.Verify(start.AuthToken()) {
		logger.Warn("media stream rejected", "reason", "invalid stream token")
		h.closeWith(conn, websocket.ClosePolicyViolation, "invalid stream token")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	events := make(chan any, 64)
	writer := session.NewWriter(conn, start.StreamSID, h.Config.WSWriteTimeout)

	sess, err := session.New(session.Dependencies{
		Events:     events,
		Writer:     writer,
		Logger:     h.Logger,
		LLM:        h.LLM,
		STT:        h.STT,
		TTS:        h.TTS,
		Dispatcher: h.Dispatcher,
		Store:      h.Store,
		Start:      start,
		Config: session.Config{
			Model:          h.Config.LLMModel,
			Voice:          h.Config.VoiceID,
			SystemPrompt:   h.Config.SystemPrompt,
			Greeting:       h.Config.Greeting,
			OrganizationID: h.Config.OrganizationID,
			AssistantID:    h.Config.AssistantID,
			TestCall:       h.Config.TestCallMode,
			MaxTurnPairs:   h.Config.MaxTurnPairs,
			StreamLLM:      h.Config.StreamLLM,
			TurnTimeout:    h.Config.TurnTimeout,
			STTModel:       h.Config.STTModel,
			UtteranceEndMS: h.Config.UtteranceEndMS,
		},
	})
	if err != nil {
		logger.Error("session init failed", "error", err)
		h.closeWith(conn, websocket.CloseInternalServerErr, "session init failed")
		return
	}

	unregister := h.Calls.Register(start.CallSID, sess.Cancel)
	defer unregister()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sess.Run(); err != nil {
			logger.Warn("call ended with error", "error", err)
		}
		// Unblock the read loop once the session is finished.
		conn.Close()
	}()

	h.readLoop(conn, logger, events, done)
	close(events)
	<-done
	writer.Close()
}

// awaitStart reads frames until the start event arrives. Connected is
// expected first; anything else before start is ignored.
func (h MediaHandler) awaitStart(conn *websocket.Conn) (telephony.Start, bool) {
	deadline := time.Now().Add(startHandshakeTimeout)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return telephony.Start{}, false
		}
		msg, err := telephony.Decode(data)
		if err != nil {
			h.logger().Warn("dropping malformed frame during handshake", "error", err)
			continue
		}
		switch ev := msg.(type) {
		case telephony.Connected:
		case telephony.Start:
			return ev, true
		default:
			h.logger().Warn("unexpected frame before start")
		}
	}
	h.closeWith(conn, websocket.ClosePolicyViolation, "no start event")
	return telephony.Start{}, false
}

// readLoop decodes inbound frames and feeds them to the session until
// the socket closes or the session exits.
func (h MediaHandler) readLoop(conn *websocket.Conn, logger *slog.Logger, events chan<- any, done <-chan struct{}) {
	var decodeWarned bool
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, websocket.ErrCloseSent) {
				logger.Debug("media socket closed", "error", err)
			}
			return
		}
		msg, err := telephony.Decode(data)
		if err != nil {
			if !decodeWarned {
				logger.Warn("dropping malformed frame", "error", err)
				decodeWarned = true
			}
			continue
		}
		select {
		case events <- msg:
		case <-done:
			return
		}
		if _, stopped := msg.(telephony.Stop); stopped {
			return
		}
	}
}

func (h MediaHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(2*time.Second))
}

func (h MediaHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
