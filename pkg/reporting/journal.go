package reporting

import (
	"sync"
	"time"

	"github.com/ducminhle1904/futures-exec-agent/internal/killswitch"
	"github.com/ducminhle1904/futures-exec-agent/internal/ledger"
	"github.com/ducminhle1904/futures-exec-agent/internal/signal"
)

// JournalEntry is one recorded fill with its realized PnL (closes only)
type JournalEntry struct {
	Fill        ledger.Fill
	RealizedPnL float64
}

// Journal accumulates session activity for summary and Excel export. It is
// safe for concurrent use.
type Journal struct {
	mu          sync.Mutex
	entries     []JournalEntry
	transitions []killswitch.Transition

	// open entry prices by symbol, for realized PnL attribution
	open map[string]ledger.Fill
}

// NewJournal creates an empty journal
func NewJournal() *Journal {
	return &Journal{open: make(map[string]ledger.Fill)}
}

// RecordFill appends a fill, attributing realized PnL on closes
func (j *Journal) RecordFill(f ledger.Fill) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := JournalEntry{Fill: f}
	switch f.Kind {
	case ledger.FillKindEntry:
		j.open[f.Symbol] = f
	case ledger.FillKindClose:
		if opened, ok := j.open[f.Symbol]; ok {
			pnl := (f.Price - opened.Price) * f.Quantity
			if f.Side == signal.SideShort {
				pnl = -pnl
			}
			entry.RealizedPnL = pnl
			delete(j.open, f.Symbol)
		}
	}
	j.entries = append(j.entries, entry)
}

// RecordTransition appends a kill switch transition
func (j *Journal) RecordTransition(t killswitch.Transition) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transitions = append(j.transitions, t)
}

// Totals returns entry count, close count, and total realized PnL
func (j *Journal) Totals() (entries, closes int, realized float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.entries {
		switch e.Fill.Kind {
		case ledger.FillKindEntry:
			entries++
		case ledger.FillKindClose:
			closes++
			realized += e.RealizedPnL
		}
	}
	return entries, closes, realized
}

// TransitionCount returns the number of recorded kill switch transitions
func (j *Journal) TransitionCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.transitions)
}

// Snapshot returns copies of the recorded entries and transitions
func (j *Journal) Snapshot() ([]JournalEntry, []killswitch.Transition) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries := make([]JournalEntry, len(j.entries))
	copy(entries, j.entries)
	transitions := make([]killswitch.Transition, len(j.transitions))
	copy(transitions, j.transitions)
	return entries, transitions
}

// Empty reports whether nothing has been recorded
func (j *Journal) Empty() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries) == 0 && len(j.transitions) == 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
