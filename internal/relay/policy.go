// Package relay owns the WebSocket connection to the relay server: dialing,
// the inbound event table, heartbeat and bounded reconnection.
package relay

import "time"

// ReconnectPolicy bounds reconnection after an unexpected socket loss.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int // 0 means unbounded
}

// DefaultReconnectPolicy returns 1s doubling up to 5s, five attempts.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before attempt n, counting from 1.
func (p ReconnectPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Exhausted reports whether attempt n is beyond the limit.
func (p ReconnectPolicy) Exhausted(n int) bool {
	return p.MaxAttempts > 0 && n > p.MaxAttempts
}
