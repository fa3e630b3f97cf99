// Package streamtoken authenticates telephony media-stream connections.
//
// The media WebSocket is unauthenticated at the transport layer. The
// webhook response embeds a short-lived, single-use HMAC token as a
// custom stream parameter; the start event must present it before a
// session is created. A token proves the incoming socket corresponds
// to a call this process itself answered.
package streamtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long an issued token stays verifiable.
const DefaultTTL = 30 * time.Second

// Authenticator issues and verifies stream tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// New creates an authenticator signing with the given secret.
func New(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Authenticator{
		secret:    []byte(secret),
		ttl:       ttl,
		now:       time.Now,
		pending:   make(map[string]time.Time),
		sweepStop: make(chan struct{}),
	}
}

// Issue generates a token of the form "<unix-millis>.<hmac-hex>" and
// records it in the pending set.
func (a *Authenticator) Issue() string {
	ts := strconv.FormatInt(a.now().UnixMilli(), 10)
	token := ts + "." + a.sign(ts)

	a.mu.Lock()
	a.pending[token] = a.now()
	a.mu.Unlock()
	return token
}

// Verify checks a token and consumes it. The token is removed from the
// pending set before any validity check, so a second attempt fails even
// when the first one did.
func (a *Authenticator) Verify(token string) bool {
	a.mu.Lock()
	issuedAt, ok := a.pending[token]
	delete(a.pending, token)
	a.mu.Unlock()
	if !ok {
		return false
	}

	if a.now().Sub(issuedAt) > a.ttl {
		return false
	}

	ts, _, found := strings.Cut(token, ".")
	if !found {
		return false
	}
	expected := ts + "." + a.sign(ts)
	return hmac.Equal([]byte(token), []byte(expected))
}

// PendingCount returns the number of unconsumed tokens.
func (a *Authenticator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// StartSweep purges expired pending tokens on an interval to bound
// memory when webhooks are issued but never connect.
func (a *Authenticator) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = a.ttl
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.sweepStop:
				return
			case <-ticker.C:
				a.sweepExpired()
			}
		}
	}()
}

// StopSweep halts the background sweep. Safe to call more than once.
func (a *Authenticator) StopSweep() {
	a.sweepOnce.Do(func() { close(a.sweepStop) })
}

func (a *Authenticator) sweepExpired() {
	cutoff := a.now().Add(-a.ttl)
	a.mu.Lock()
	defer a.mu.Unlock()
	for token, issuedAt := range a.pending {
		if issuedAt.Before(cutoff) {
			delete(a.pending, token)
		}
	}
}

func (a *Authenticator) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secret)
	fmt.Fprint(mac, payload)
	return hex.EncodeToString(mac.Sum(nil))
}
