package session

import (
	"context"
	"sync"
)

// Tracker keeps a handle on every live call so shutdown can cancel
// them and wait for their teardown to finish.
type Tracker struct {
	mu    sync.Mutex
	calls map[string]*trackedCall
	wg    sync.WaitGroup
}

type trackedCall struct {
	cancel func()
	once   sync.Once
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{calls: make(map[string]*trackedCall)}
}

// Register records a live call. The returned unregister function must
// be called when the call ends; it is safe to call more than once.
func (t *Tracker) Register(callSID string, cancel func()) (unregister func()) {
	if t == nil {
		return func() {}
	}
	entry := &trackedCall{cancel: cancel}

	t.mu.Lock()
	old := t.calls[callSID]
	t.calls[callSID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	// A reconnect for the same call replaces the stale entry.
	if old != nil {
		t.unregister(callSID, old)
	}
	return func() { t.unregister(callSID, entry) }
}

func (t *Tracker) unregister(callSID string, entry *trackedCall) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.calls[callSID] == entry {
			delete(t.calls, callSID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Count returns the number of live calls.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// CancelAll requests teardown of every live call.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.calls {
		if entry.cancel != nil {
			cancels = append(cancels, entry.cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered call has unregistered, or the
// context expires. Returns true when everything drained.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
