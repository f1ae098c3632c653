package channels

import "time"

// WithinServiceWindow reports whether free-form messages are allowed. The
// window is half-open: [lastInbound, lastInbound+window). A conversation the
// customer never wrote into has no open window.
func WithinServiceWindow(lastInbound *time.Time, now time.Time, window time.Duration) bool {
	if lastInbound == nil {
		return false
	}
	if now.Before(*lastInbound) {
		return true
	}
	return now.Before(lastInbound.Add(window))
}
