package core

import (
	"sync"
	"time"
)

// LedgerClock hands out unix-second timestamps that never go backwards, even
// if the wall clock is stepped back.
type LedgerClock struct {
	mu   sync.Mutex
	last uint64
	now  func() time.Time
}

// NewLedgerClock returns a clock backed by time.Now.
func NewLedgerClock() *LedgerClock {
	return &LedgerClock{now: time.Now}
}

// SetNowFunc overrides the time source. Passing nil restores time.Now.
func (c *LedgerClock) SetNowFunc(fn func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		fn = time.Now
	}
	c.now = fn
}

// Now returns the current ledger time.
func (c *LedgerClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ts uint64
	if unix := c.now().Unix(); unix > 0 {
		ts = uint64(unix)
	}
	if ts < c.last {
		return c.last
	}
	c.last = ts
	return ts
}
