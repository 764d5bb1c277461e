package telegram

import (
	"sync"
	"time"
)

// typingDebounceInterval is how long a chat's typing indicator is trusted
// to stay visible before it needs refreshing. Telegram expires the
// indicator after roughly five seconds.
const typingDebounceInterval = 4 * time.Second

// typingDebouncer rate-limits typing chat-actions per destination so a
// stream of informational intents does not turn into an API call each.
type typingDebouncer struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
}

func newTypingDebouncer(interval time.Duration, now func() time.Time) *typingDebouncer {
	if interval <= 0 {
		interval = typingDebounceInterval
	}
	if now == nil {
		now = time.Now
	}
	return &typingDebouncer{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      now,
	}
}

// shouldSend reports whether a typing action for key is due, and records
// the send when it is.
func (d *typingDebouncer) shouldSend(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.interval {
		return false
	}
	d.lastSent[key] = now
	return true
}

// reset clears the debounce window for key, typically after a final
// response lands and the indicator is no longer wanted.
func (d *typingDebouncer) reset(key string) {
	d.mu.Lock()
	delete(d.lastSent, key)
	d.mu.Unlock()
}
