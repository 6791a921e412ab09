package notify

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"luksward/internal/events"
)

// mockSender records calls for assertion.
type mockSender struct {
	mu      sync.Mutex
	calls   []string // "url|message"
	failAll bool
}

func (m *mockSender) Send(url, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, url+"|"+message)
	if m.failAll {
		return fmt.Errorf("mock send error")
	}
	return nil
}

func (m *mockSender) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func TestNotifierSendsOnMatchingSeverity(t *testing.T) {
	sender := &mockSender{}
	bus := events.NewBus()
	NewNotifier([]string{"generic://example.com"}, events.SeverityWarning, 0, sender).Attach(bus)

	bus.Publish(events.Event{
		Type:     events.ReplicationFailed,
		Severity: events.SeverityCritical,
		Hostname: "node1",
		Message:  "copy to host2:/b failed",
	})

	if sender.callCount() != 1 {
		t.Fatalf("expected 1 send, got %d", sender.callCount())
	}
	want := "generic://example.com|[critical] [node1] copy to host2:/b failed"
	if sender.calls[0] != want {
		t.Errorf("call = %q, want %q", sender.calls[0], want)
	}
}

func TestNotifierFiltersBelowMinSeverity(t *testing.T) {
	sender := &mockSender{}
	bus := events.NewBus()
	NewNotifier([]string{"generic://example.com"}, events.SeverityCritical, 0, sender).Attach(bus)

	bus.Publish(events.Event{Type: events.RunStarted, Severity: events.SeverityInfo, Message: "started"})
	bus.Publish(events.Event{Type: events.RunCompleted, Severity: events.SeverityWarning, Message: "meh"})

	if sender.callCount() != 0 {
		t.Errorf("expected 0 sends below threshold, got %d", sender.callCount())
	}
}

func TestNotifierSendsToEveryURL(t *testing.T) {
	sender := &mockSender{}
	bus := events.NewBus()
	urls := []string{"generic://a.example.com", "generic://b.example.com"}
	NewNotifier(urls, events.SeverityInfo, 0, sender).Attach(bus)

	bus.Publish(events.Event{Type: events.RunCompleted, Severity: events.SeverityInfo, Message: "done"})

	if sender.callCount() != 2 {
		t.Errorf("expected 2 sends (one per URL), got %d", sender.callCount())
	}
}

func TestNotifierEnforcesCooldown(t *testing.T) {
	sender := &mockSender{}
	n := NewNotifier([]string{"generic://example.com"}, events.SeverityInfo, time.Minute, sender)

	now := time.Now()
	n.now = func() time.Time { return now }

	evt := events.Event{Type: events.ReplicationFailed, Severity: events.SeverityCritical, Message: "x"}
	n.handle(evt)
	n.handle(evt) // inside cooldown, throttled

	if sender.callCount() != 1 {
		t.Fatalf("expected 1 send (second throttled), got %d", sender.callCount())
	}

	// A different event type is not throttled by the first one.
	n.handle(events.Event{Type: events.RunCompleted, Severity: events.SeverityCritical, Message: "y"})
	if sender.callCount() != 2 {
		t.Fatalf("expected cooldown to be per event type, got %d sends", sender.callCount())
	}

	// After the window passes, the original type fires again.
	now = now.Add(2 * time.Minute)
	n.handle(evt)
	if sender.callCount() != 3 {
		t.Errorf("expected send after cooldown expiry, got %d", sender.callCount())
	}
}

func TestNotifierSendFailureIsSwallowed(t *testing.T) {
	sender := &mockSender{failAll: true}
	bus := events.NewBus()
	NewNotifier([]string{"generic://example.com"}, events.SeverityInfo, 0, sender).Attach(bus)

	// Must not panic and must not block the second subscriber.
	var reached bool
	bus.Subscribe(func(events.Event) { reached = true })

	bus.Publish(events.Event{Type: events.RunCompleted, Severity: events.SeverityCritical, Message: "z"})

	if !reached {
		t.Error("send failure disturbed event delivery")
	}
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		e    events.Event
		want string
	}{
		{
			name: "with hostname",
			e:    events.Event{Severity: events.SeverityCritical, Hostname: "node1", Message: "extraction failed"},
			want: "[critical] [node1] extraction failed",
		},
		{
			name: "without hostname",
			e:    events.Event{Severity: events.SeverityInfo, Message: "run complete"},
			want: "[info] run complete",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatMessage(tt.e); got != tt.want {
				t.Errorf("formatMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
