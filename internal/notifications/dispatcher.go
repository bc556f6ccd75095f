package notifications

import (
	"sync"

	"github.com/ducminhle1904/futures-exec-agent/internal/logger"
)

// Alert is a queued notification
type Alert struct {
	Level   string
	Message string
}

// Dispatcher decouples alert delivery from the execution path. Sends never
// block: when the queue is full the alert is dropped and counted, because a
// slow notification channel must not stall order handling or a kill switch
// transition.
type Dispatcher struct {
	notifier Notifier
	log      *logger.Logger
	queue    chan Alert
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	dropped int
}

// NewDispatcher starts the delivery worker. bufferSize bounds the queue.
func NewDispatcher(notifier Notifier, log *logger.Logger, bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	d := &Dispatcher{
		notifier: notifier,
		log:      log,
		queue:    make(chan Alert, bufferSize),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch enqueues an alert without blocking
func (d *Dispatcher) Dispatch(level, message string) {
	select {
	case d.queue <- Alert{Level: level, Message: message}:
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		if d.log != nil {
			d.log.Warning("notification queue full, dropping %s alert", level)
		}
	}
}

// Dropped returns the number of alerts discarded due to a full queue
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close drains remaining alerts and stops the worker
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.queue)
		<-d.done
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for alert := range d.queue {
		if err := d.notifier.SendAlert(alert.Level, alert.Message); err != nil && d.log != nil {
			d.log.Warning("notification delivery failed: %v", err)
		}
	}
}
