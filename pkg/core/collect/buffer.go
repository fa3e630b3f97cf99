package collect

import (
	"strings"
	"sync"
	"time"
)

// InputBuffer accumulates transcript fragments for one expected-field
// turn and flushes them once the caller has settled.
//
// The flow is:
//  1. Each Append resets the debounce timer.
//  2. The first Append arms the max-wait timer.
//  3. Debounce expiry, max-wait expiry, or an end-of-utterance signal
//     (unless the field type ignores it) flushes the buffer.
//
// The flush callback receives the accumulated text and whether it
// validates as complete for the field type. Flush fires at most once;
// the buffer is single-use.
type InputBuffer struct {
	field FieldType
	cfg   BufferConfig

	mu       sync.Mutex
	text     strings.Builder
	started  bool
	flushed  bool
	debounce *time.Timer
	maxWait  *time.Timer

	onFlush func(text string, complete bool)
}

// NewInputBuffer creates a buffer for one expected field. The onFlush
// callback is invoked from a timer goroutine; it must not block.
func NewInputBuffer(field FieldType, onFlush func(text string, complete bool)) *InputBuffer {
	return NewInputBufferWithConfig(field, ConfigFor(field), onFlush)
}

// NewInputBufferWithConfig creates a buffer with explicit timing,
// overriding the per-type defaults.
func NewInputBufferWithConfig(field FieldType, cfg BufferConfig, onFlush func(text string, complete bool)) *InputBuffer {
	return &InputBuffer{
		field:   field,
		cfg:     cfg,
		onFlush: onFlush,
	}
}

// Config returns the timing configuration the buffer is running with.
func (b *InputBuffer) Config() BufferConfig { return b.cfg }

// Append adds a transcript fragment and restarts the debounce window.
func (b *InputBuffer) Append(fragment string) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushed {
		return
	}

	if b.text.Len() > 0 {
		b.text.WriteByte(' ')
	}
	b.text.WriteString(fragment)

	if !b.started {
		b.started = true
		b.maxWait = time.AfterFunc(b.cfg.MaxWait, b.expire)
	}
	if b.debounce != nil {
		b.debounce.Stop()
	}
	b.debounce = time.AfterFunc(b.cfg.Debounce, b.expire)
}

// UtteranceEnd signals that the STT engine saw the speaker stop. Field
// types that ignore it (phone) keep collecting; everything else
// flushes immediately.
func (b *InputBuffer) UtteranceEnd() {
	if b.cfg.IgnoreUtteranceEnd {
		return
	}
	b.expire()
}

// Text returns the text accumulated so far.
func (b *InputBuffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text.String()
}

// Complete reports whether the accumulated text already validates.
func (b *InputBuffer) Complete() bool {
	b.mu.Lock()
	text := b.text.String()
	b.mu.Unlock()
	return Validate(b.field, text)
}

// Cancel stops the timers without flushing. Safe to call repeatedly.
func (b *InputBuffer) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushed = true
	b.stopTimersLocked()
}

func (b *InputBuffer) expire() {
	b.mu.Lock()
	if b.flushed || b.text.Len() == 0 {
		b.mu.Unlock()
		return
	}
	b.flushed = true
	b.stopTimersLocked()
	text := b.text.String()
	cb := b.onFlush
	b.mu.Unlock()

	if cb != nil {
		cb(text, Validate(b.field, text))
	}
}

func (b *InputBuffer) stopTimersLocked() {
	if b.debounce != nil {
		b.debounce.Stop()
	}
	if b.maxWait != nil {
		b.maxWait.Stop()
	}
}
