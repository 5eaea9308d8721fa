package scheduler

import "time"

// EventType classifies scheduler notifications.
type EventType string

const (
	EventStarted        EventType = "animation.started"
	EventStopped        EventType = "animation.stopped"
	EventCompleted      EventType = "animation.completed"
	EventEvicted        EventType = "animation.evicted"
	EventRejected       EventType = "animation.rejected"
	EventBudgetExceeded EventType = "frame.budget_exceeded"
)

// Event is emitted synchronously from scheduler calls.
type Event struct {
	Type     EventType
	ID       string
	Name     string
	Layer    Layer
	Priority int
	Elapsed  time.Duration // compute time, budget events only
	At       time.Duration
}
