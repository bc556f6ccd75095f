package killswitch

import (
	"sync"
	"time"
)

// ErrorWindow counts exchange errors inside a rolling time window. It backs
// the consecutive-failure halt trigger: when the count inside the window
// reaches the threshold the coordinator halts the switch.
type ErrorWindow struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	stamps    []time.Time
}

// NewErrorWindow creates a rolling error counter
func NewErrorWindow(window time.Duration, threshold int) *ErrorWindow {
	return &ErrorWindow{window: window, threshold: threshold}
}

// Record adds an error occurrence and reports whether the threshold has been
// reached within the window
func (w *ErrorWindow) Record(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	w.stamps = append(w.stamps, now)
	return len(w.stamps) >= w.threshold
}

// Count returns the number of errors currently inside the window
func (w *ErrorWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	return len(w.stamps)
}

// Reset clears the window, typically after a successful exchange round trip
func (w *ErrorWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stamps = w.stamps[:0]
}

func (w *ErrorWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && w.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// EquityAnomaly reports whether an equity move between two reconciliation
// passes exceeds the anomaly threshold, expressed as a fraction of the
// previous equity. A zero previous equity never flags.
func EquityAnomaly(prev, current, threshold float64) bool {
	if prev <= 0 || threshold <= 0 {
		return false
	}
	delta := current - prev
	if delta < 0 {
		delta = -delta
	}
	return delta/prev > threshold
}
