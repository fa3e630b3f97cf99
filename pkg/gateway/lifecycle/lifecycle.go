package lifecycle

import "sync/atomic"

// Lifecycle holds process lifecycle state shared across handlers.
// Once draining, the gateway refuses new calls while live ones finish.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
