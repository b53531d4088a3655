package jobs

import (
	"time"

	"github.com/kelindar/event"
)

// Event type identifiers for kelindar/event.
const (
	TypeJobAdded uint32 = iota + 1
	TypeJobStateChanged
	TypeJobDeleted
)

// Event is anything published on the Bus.
type Event interface {
	Type() uint32
}

// JobAddedEvent is published after a job record is created.
type JobAddedEvent struct {
	Job       *Job      `json:"job"`
	Timestamp time.Time `json:"timestamp"`
}

func (e JobAddedEvent) Type() uint32 { return TypeJobAdded }

// JobStateChangedEvent is published on every persisted status transition.
type JobStateChangedEvent struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	ElapsedSeconds *uint64   `json:"elapsed_seconds,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func (e JobStateChangedEvent) Type() uint32 { return TypeJobStateChanged }

// JobDeletedEvent is published after a job record is removed.
type JobDeletedEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e JobDeletedEvent) Type() uint32 { return TypeJobDeleted }

// Bus fans job events out to subscribers. A nil *Bus drops everything.
type Bus struct {
	dispatcher *event.Dispatcher
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish delivers ev to subscribers of its concrete type.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case JobAddedEvent:
		event.Publish(b.dispatcher, e)
	case JobStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case JobDeletedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// SubscribeAll registers handler for every job event type and returns a
// function that removes all three subscriptions.
func (b *Bus) SubscribeAll(handler func(Event)) func() {
	if b == nil {
		return func() {}
	}
	unsubs := []func(){
		event.Subscribe(b.dispatcher, func(e JobAddedEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e JobStateChangedEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e JobDeletedEvent) { handler(e) }),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Close stops event delivery.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.dispatcher.Close()
}

func (m *Manager) publishState(id string, status Status, reason string, elapsed *uint64) {
	m.bus.Publish(JobStateChangedEvent{
		ID:             id,
		Status:         status,
		Reason:         reason,
		ElapsedSeconds: elapsed,
		Timestamp:      time.Now(),
	})
}
