package upload

import "time"

// CanEmit reports whether a progress notification may be sent at now, given the
// time of the previous emission for the same file. A zero last means nothing has
// been emitted yet. The window boundary is inclusive.
func CanEmit(now, last time.Time, window time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= window
}
