// Package tts converts reply text to telephony-ready audio.
package tts

import "context"

// SynthesizeOptions configures one synthesis request. The output
// format must match the telephony leg's encoding end to end; audio is
// framed but never transcoded.
type SynthesizeOptions struct {
	Voice        string
	OutputFormat string // e.g. "ulaw_8000"
}

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string
	// Synthesize converts text to raw audio bytes.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) ([]byte, error)
}
