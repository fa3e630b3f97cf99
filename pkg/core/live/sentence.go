// Package live provides building blocks for streaming a reply to the
// caller while the model is still generating it.
package live

import (
	"strings"
	"sync"
)

// SentenceBuffer accumulates LLM text deltas and emits complete
// sentences as soon as their boundary punctuation arrives, so speech
// synthesis can start before generation finishes.
//
// Emission preserves generation order and never duplicates: each call
// returns only text not returned before, split at the last sentence
// boundary seen so far. A word-count fallback chunks long unpunctuated
// output so the caller is never left waiting on a run-on sentence.
type SentenceBuffer struct {
	mu       sync.Mutex
	text     strings.Builder
	maxWords int
}

const sentenceBoundaries = ".!?"

// NewSentenceBuffer creates a buffer with default settings.
func NewSentenceBuffer() *SentenceBuffer {
	return &SentenceBuffer{maxWords: 12}
}

// Add appends a delta and returns any completed sentences, or "" if
// more text should be buffered.
func (b *SentenceBuffer) Add(delta string) string {
	if delta == "" {
		return ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.text.String()
	prevWords := len(strings.Fields(prev))
	startsWithSpace := delta[0] == ' ' || delta[0] == '\n'

	b.text.WriteString(delta)
	content := b.text.String()

	if strings.ContainsAny(delta, sentenceBoundaries) {
		last := strings.LastIndexAny(content, sentenceBoundaries)
		toSend := strings.TrimSpace(content[:last+1])
		remainder := strings.TrimSpace(content[last+1:])
		b.text.Reset()
		if remainder != "" {
			b.text.WriteString(remainder)
		}
		return toSend
	}

	// Fallback: flush at a confirmed word boundary once the buffer has
	// grown past maxWords without punctuation.
	if prevWords >= b.maxWords && startsWithSpace {
		b.text.Reset()
		b.text.WriteString(strings.TrimLeft(delta, " \n"))
		return strings.TrimSpace(prev)
	}

	return ""
}

// Flush returns any remaining buffered text and resets the buffer.
// Call when the stream ends.
func (b *SentenceBuffer) Flush() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := strings.TrimSpace(b.text.String())
	b.text.Reset()
	return out
}

// Reset discards buffered text without returning it. Call on barge-in.
func (b *SentenceBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text.Reset()
}
