// Package bus is the in-process pub/sub fan-out for real-time UI updates.
// Emission is fire-and-forget: no persistence, no replay, no backpressure.
// A subscriber that cannot keep up loses events; delivery to a single
// subscriber preserves emission order.
package bus

import (
	"sync"
	"time"
)

// Event names pushed to connected browser sessions.
const (
	EventConfigUpdated      = "config_updated"
	EventNewMessage         = "new_message"
	EventAgentResponse      = "agent_response"
	EventNewLasFile         = "new_las_file"
	EventNewOutputFile      = "new_output_file"
	EventFilesUpdated       = "files_updated"
	EventNewEmail           = "new_email"
	EventEmailDeleted       = "email_deleted"
	EventEmailStatusUpdated = "email_status_updated"
	EventMonitorStatus      = "email_monitor_status"
	EventAutoStarted        = "auto_processing_started"
	EventProcessingEmail    = "processing_email"
	EventResponseGenerated  = "response_generated"
	EventReplySent          = "reply_sent"
	EventAutoCompleted      = "auto_processing_completed"
	EventAutoError          = "auto_processing_error"
	EventEnhancedCompleted  = "enhanced_processing_completed"
	EventEnhancedFailed     = "enhanced_processing_failed"
)

// Event is a named payload delivered to every connected subscriber.
type Event struct {
	Name      string    `json:"event"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus fans out events to all current subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func New() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Publish delivers the event to every subscriber without blocking.
// Absence of subscribers is not an error.
func (b *Bus) Publish(name string, payload any) {
	ev := Event{Name: name, Payload: payload, Timestamp: time.Now().UTC()}
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// subscriber is too slow, drop this event for them
		}
	}
	b.mu.RUnlock()
}

// Subscribe returns a channel that receives subsequent events.
// Call Unsubscribe when done to avoid leaks.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 64) // buffer to absorb bursts
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

// Subscribers reports the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
