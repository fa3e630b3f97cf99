// Package stt provides streaming speech-to-text for live calls.
package stt

import "context"

// EventKind discriminates transcription events.
type EventKind int

const (
	// EventPartial is an interim transcript; informational only.
	EventPartial EventKind = iota
	// EventFinal is a stable transcript for an utterance segment.
	EventFinal
	// EventUtteranceEnd signals the speaker stopped, independent of
	// transcript finality.
	EventUtteranceEnd
	// EventError is an abnormal upstream failure. The stream is dead
	// after emitting one.
	EventError
)

// Event is one demultiplexed transcription event.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Config describes the audio the provider will receive. The encoding
// and sample rate must match the telephony leg exactly; no resampling
// happens anywhere in the pipeline.
type Config struct {
	Model          string
	Language       string
	Encoding       string
	SampleRate     int
	Channels       int
	UtteranceEndMS int
}

// Stream is one live transcription connection, exclusively owned by a
// single call session.
type Stream interface {
	// SendAudio forwards one raw audio frame verbatim.
	SendAudio(frame []byte) error
	// Events returns the demultiplexed event channel. It is closed
	// when the stream ends.
	Events() <-chan Event
	// Close shuts the stream down. Safe to call more than once.
	Close() error
}

// Provider opens transcription streams.
type Provider interface {
	Name() string
	NewStream(ctx context.Context, cfg Config) (Stream, error)
}
