package notifications

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/futures-exec-agent/internal/logger"
)

// recordingNotifier captures alerts and can block until released
type recordingNotifier struct {
	mu      sync.Mutex
	alerts  []Alert
	release chan struct{}
}

func (r *recordingNotifier) SendAlert(level, message string) error {
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, Alert{Level: level, Message: message})
	return nil
}

func (r *recordingNotifier) received() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// TestDispatcher_DeliversInOrder verifies queued alerts reach the notifier
func TestDispatcher_DeliversInOrder(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(notifier, logger.NewWriterLogger("test", io.Discard), 8)

	d.Dispatch("halt", "kill switch tripped")
	d.Dispatch("success", "resumed")
	d.Close()

	alerts := notifier.received()
	require.Len(t, alerts, 2)
	assert.Equal(t, "halt", alerts[0].Level)
	assert.Equal(t, "success", alerts[1].Level)
	assert.Equal(t, 0, d.Dropped())
}

// TestDispatcher_FullQueueDropsWithoutBlocking verifies the execution path is
// never stalled by a slow notifier
func TestDispatcher_FullQueueDropsWithoutBlocking(t *testing.T) {
	notifier := &recordingNotifier{release: make(chan struct{})}
	d := NewDispatcher(notifier, logger.NewWriterLogger("test", io.Discard), 1)

	// worker blocks on the first alert; the 1-slot queue fills with the second
	done := make(chan struct{})
	go func() {
		d.Dispatch("warning", "first")
		time.Sleep(50 * time.Millisecond) // let the worker pick up the first
		d.Dispatch("warning", "second")
		d.Dispatch("warning", "third") // queue full, must drop immediately
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}

	assert.GreaterOrEqual(t, d.Dropped(), 1)
	close(notifier.release)
	d.Close()
}

// TestDispatcher_CloseDrainsQueue verifies pending alerts are flushed on close
func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(notifier, nil, 16)

	for i := 0; i < 5; i++ {
		d.Dispatch("warning", "pending")
	}
	d.Close()

	assert.Len(t, notifier.received(), 5)
}

// TestNopNotifier verifies the disabled notifier accepts everything
func TestNopNotifier(t *testing.T) {
	assert.NoError(t, NopNotifier{}.SendAlert("halt", "message"))
}
