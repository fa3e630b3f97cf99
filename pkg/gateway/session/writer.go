package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxline-ai/voxline/pkg/gateway/telephony"
)

// ErrWriterClosed is returned once the outbound side has shut down.
var ErrWriterClosed = errors.New("session writer is closed")

// Conn is the subset of the WebSocket connection the writer needs.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// Writer serializes outbound protocol messages onto the call socket.
// The event loop and the turn goroutine both write; the mutex keeps
// frames whole.
type Writer struct {
	conn      Conn
	streamSID string
	timeout   time.Duration

	mu     sync.Mutex
	closed atomic.Bool
}

// NewWriter wraps the connection for the given stream.
func NewWriter(conn Conn, streamSID string, timeout time.Duration) *Writer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Writer{conn: conn, streamSID: streamSID, timeout: timeout}
}

// SendAudioFrame sends one outbound media event.
func (w *Writer) SendAudioFrame(frame []byte) error {
	data, err := telephony.EncodeMedia(w.streamSID, frame)
	if err != nil {
		return err
	}
	return w.write(data)
}

// SendMark sends the end-of-reply playback marker.
func (w *Writer) SendMark(name string) error {
	data, err := telephony.EncodeMark(w.streamSID, name)
	if err != nil {
		return err
	}
	return w.write(data)
}

// SendClear flushes audio queued on the provider side. Used for
// barge-in.
func (w *Writer) SendClear() error {
	data, err := telephony.EncodeClear(w.streamSID)
	if err != nil {
		return err
	}
	return w.write(data)
}

// Close stops further writes. It does not close the connection; the
// gateway handler owns that.
func (w *Writer) Close() {
	w.closed.Store(true)
}

func (w *Writer) write(data []byte) error {
	if w.closed.Load() {
		return ErrWriterClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}
