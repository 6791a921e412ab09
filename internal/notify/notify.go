// Package notify turns pipeline failure events into push notifications
// so a timer-driven run fails loudly instead of into a log file nobody
// reads.
package notify

import (
	"log"
	"sync"
	"time"

	"github.com/nicholas-fedor/shoutrrr"

	"luksward/internal/events"
)

// Sender abstracts message dispatch so the notifier can be tested
// without hitting real services.
type Sender interface {
	Send(shoutrrrURL, message string) error
}

// ShoutrrrSender dispatches via the Shoutrrr library.
type ShoutrrrSender struct{}

func (ShoutrrrSender) Send(url, message string) error {
	return shoutrrr.Send(url, message)
}

// Notifier subscribes to the event bus, filters by severity, enforces a
// per-event-type cooldown, and sends to every configured Shoutrrr URL.
// Send failures are logged, never propagated: notification trouble must
// not change a backup run's outcome.
type Notifier struct {
	urls     []string
	min      events.Severity
	cooldown time.Duration
	sender   Sender
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[events.EventType]time.Time
}

func NewNotifier(urls []string, min events.Severity, cooldown time.Duration, sender Sender) *Notifier {
	if sender == nil {
		sender = ShoutrrrSender{}
	}
	return &Notifier{
		urls:     urls,
		min:      min,
		cooldown: cooldown,
		sender:   sender,
		now:      time.Now,
		lastSent: make(map[events.EventType]time.Time),
	}
}

// Attach subscribes the notifier to all events on the bus.
func (n *Notifier) Attach(bus *events.Bus) {
	bus.Subscribe(n.handle)
}

func (n *Notifier) handle(e events.Event) {
	if len(n.urls) == 0 {
		return
	}
	if e.Severity < n.min {
		return
	}
	if n.throttled(e.Type) {
		return
	}

	msg := formatMessage(e)
	for _, url := range n.urls {
		if err := n.sender.Send(url, msg); err != nil {
			log.Printf("notify: send failed: %v", err)
		}
	}
}

// throttled reports whether this event type fired within the cooldown
// window, and records the attempt if not.
func (n *Notifier) throttled(t events.EventType) bool {
	if n.cooldown <= 0 {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if last, ok := n.lastSent[t]; ok && now.Sub(last) < n.cooldown {
		return true
	}
	n.lastSent[t] = now
	return false
}

// formatMessage builds a human-readable notification string.
func formatMessage(e events.Event) string {
	msg := "[" + e.Severity.String() + "] " + e.Message
	if e.Hostname != "" {
		msg = "[" + e.Severity.String() + "] [" + e.Hostname + "] " + e.Message
	}
	return msg
}
