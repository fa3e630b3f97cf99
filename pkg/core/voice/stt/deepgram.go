package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	deepgramWSBaseURL = "wss://api.deepgram.com/v1/listen"

	// Deepgram drops idle connections; a KeepAlive text frame resets
	// the idle timer during long caller pauses.
	deepgramKeepAliveInterval = 8 * time.Second
)

// DeepgramProvider implements Provider against Deepgram's live API.
type DeepgramProvider struct {
	apiKey  string
	baseURL string
}

// NewDeepgram creates a Deepgram STT provider.
func NewDeepgram(apiKey string) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, baseURL: deepgramWSBaseURL}
}

// NewDeepgramWithBaseURL creates a provider pointed at a custom
// endpoint. Used by tests to dial a fake server.
func NewDeepgramWithBaseURL(apiKey, baseURL string) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, baseURL: baseURL}
}

// Name returns the provider identifier.
func (p *DeepgramProvider) Name() string { return "deepgram" }

// NewStream opens one live transcription WebSocket configured for the
// exact encoding the telephony leg delivers.
func (p *DeepgramProvider) NewStream(ctx context.Context, cfg Config) (Stream, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse deepgram url: %w", err)
	}

	q := u.Query()
	model := cfg.Model
	if model == "" {
		model = "nova-2"
	}
	q.Set("model", model)
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	q.Set("encoding", cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	q.Set("channels", strconv.Itoa(channels))
	q.Set("interim_results", "true")
	if cfg.UtteranceEndMS > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEndMS))
		q.Set("vad_events", "true")
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("deepgram connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("deepgram connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("deepgram connect: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &deepgramStream{
		conn:   conn,
		events: make(chan Event, 64),
		ctx:    streamCtx,
		cancel: cancel,
	}
	go s.readLoop()
	go s.keepAliveLoop()
	return s, nil
}

type deepgramStream struct {
	conn    *websocket.Conn
	events  chan Event
	closed  atomic.Bool
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// deepgramMessage covers the result shapes the live API sends.
type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramStream) readLoop() {
	defer close(s.events)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			// Abnormal closure surfaces to the session so it can
			// apologize instead of going silent.
			s.emit(Event{Kind: EventError, Err: fmt.Errorf("deepgram stream: %w", err)})
			return
		}

		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Unparseable provider payloads are ignored, never fatal.
			continue
		}

		switch msg.Type {
		case "Results":
			text := ""
			if len(msg.Channel.Alternatives) > 0 {
				text = msg.Channel.Alternatives[0].Transcript
			}
			if text == "" {
				continue
			}
			kind := EventPartial
			if msg.IsFinal {
				kind = EventFinal
			}
			s.emit(Event{Kind: kind, Text: text})
		case "UtteranceEnd":
			s.emit(Event{Kind: EventUtteranceEnd})
		case "Metadata", "SpeechStarted":
			// Informational.
		}
	}
}

func (s *deepgramStream) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *deepgramStream) keepAliveLoop() {
	ticker := time.NewTicker(deepgramKeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// SendAudio forwards a frame. Returns an error once the stream closed;
// the caller decides whether to drop or tear down.
func (s *deepgramStream) SendAudio(frame []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("stt stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *deepgramStream) Events() <-chan Event { return s.events }

// Close shuts the stream down exactly once.
func (s *deepgramStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}
