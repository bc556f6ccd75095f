package signal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Source produces trade intents for the coordinator. The stream is
// order-preserving per symbol but not necessarily globally ordered.
type Source interface {
	Intents() <-chan TradeIntent
}

// Stream is an in-process intent source that external feeders (admin
// endpoint, stdin reader) publish into.
type Stream struct {
	ch     chan TradeIntent
	mu     sync.Mutex
	closed bool
	seq    int
}

// NewStream creates a buffered intent stream
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream{ch: make(chan TradeIntent, buffer)}
}

// Intents implements Source
func (s *Stream) Intents() <-chan TradeIntent {
	return s.ch
}

// Publish validates and enqueues an intent. It fails rather than blocks when
// the queue is full; a stalled coordinator must not back-pressure the feeder.
func (s *Stream) Publish(intent TradeIntent) error {
	if err := intent.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("intent stream is closed")
	}
	if intent.ID == "" {
		s.seq++
		intent.ID = fmt.Sprintf("intent-%d-%d", time.Now().UnixMilli(), s.seq)
	}

	select {
	case s.ch <- intent:
		return nil
	default:
		return fmt.Errorf("intent queue full, dropping %s %s", intent.Side, intent.Symbol)
	}
}

// Close stops the stream; pending intents remain readable
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// ReadJSONL feeds the stream from a reader carrying one JSON intent per line.
// Blank lines are skipped, malformed lines are reported via onError and do
// not stop the feed.
func (s *Stream) ReadJSONL(ctx context.Context, r io.Reader, onError func(error)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var intent TradeIntent
		if err := json.Unmarshal(line, &intent); err != nil {
			if onError != nil {
				onError(fmt.Errorf("malformed intent line: %w", err))
			}
			continue
		}
		if intent.SignalTime.IsZero() {
			intent.SignalTime = time.Now().UTC()
		}
		if err := s.Publish(intent); err != nil {
			if onError != nil {
				onError(err)
			}
		}
	}
}
