package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeDeepgram upgrades the test connection and replays scripted
// messages after receiving the first audio frame.
func fakeDeepgram(t *testing.T, script []string, abnormalClose bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); !strings.HasPrefix(got, "Token ") {
			t.Errorf("missing Token auth header, got %q", got)
		}
		if enc := r.URL.Query().Get("encoding"); enc != "mulaw" {
			t.Errorf("encoding = %q, want mulaw", enc)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Wait for one binary frame before replying.
		for {
			mt, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				break
			}
		}
		for _, msg := range script {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		if abnormalClose {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom"), time.Now().Add(time.Second))
			return
		}
		// Hold the connection until the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func testConfig() Config {
	return Config{Encoding: "mulaw", SampleRate: 8000, Channels: 1, UtteranceEndMS: 1000}
}

func TestDeepgramStreamDemultiplexesEvents(t *testing.T) {
	srv := fakeDeepgram(t, []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello there"}]}}`,
		`{"type":"UtteranceEnd"}`,
		`not json at all`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`,
	}, false)
	defer srv.Close()

	p := NewDeepgramWithBaseURL("key", wsURL(srv))
	stream, err := p.NewStream(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer stream.Close()

	if err := stream.SendAudio(make([]byte, 160)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	want := []Event{
		{Kind: EventPartial, Text: "hello"},
		{Kind: EventFinal, Text: "hello there"},
		{Kind: EventUtteranceEnd},
	}
	for i, w := range want {
		select {
		case ev := <-stream.Events():
			if ev.Kind != w.Kind || ev.Text != w.Text {
				t.Errorf("event[%d] = %+v, want %+v", i, ev, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestDeepgramStreamSurfacesAbnormalClose(t *testing.T) {
	srv := fakeDeepgram(t, []string{
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hi"}]}}`,
	}, true)
	defer srv.Close()

	p := NewDeepgramWithBaseURL("key", wsURL(srv))
	stream, err := p.NewStream(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer stream.Close()

	_ = stream.SendAudio([]byte{0x7f})

	var sawError bool
	deadline := time.After(2 * time.Second)
	for !sawError {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				t.Fatal("events closed without surfacing an error")
			}
			if ev.Kind == EventError {
				sawError = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for error event")
		}
	}
}

func TestDeepgramStreamCloseIdempotent(t *testing.T) {
	srv := fakeDeepgram(t, nil, false)
	defer srv.Close()

	p := NewDeepgramWithBaseURL("key", wsURL(srv))
	stream, err := p.NewStream(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if err := stream.SendAudio([]byte{1}); err == nil {
		t.Error("SendAudio after close should error")
	}
}

func TestDeepgramName(t *testing.T) {
	if NewDeepgram("k").Name() != "deepgram" {
		t.Error("unexpected provider name")
	}
}
