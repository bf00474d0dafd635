// Package listenerbus is the telemetry sink the scheduler core posts to:
// job/stage/task lifecycle events, fanned out to any number of subscribers
// (tracing, metrics, the upward SSE API) without ever blocking the event
// loop that posts them.
package listenerbus

import (
	"sync"
	"time"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/platform/logger"
)

// Event is the tagged union of everything the listener bus carries.
type Event interface {
	listenerEvent()
}

type JobStart struct {
	JobID    domain.JobID
	StageIDs []domain.StageID
	At       time.Time
}

type JobEnd struct {
	JobID   domain.JobID
	Success bool
	Err     error
	At      time.Time
}

type StageSubmitted struct {
	StageID       domain.StageID
	AttemptNumber domain.AttemptID
	At            time.Time
}

type StageCompleted struct {
	StageID       domain.StageID
	AttemptNumber domain.AttemptID
	FailureReason string
	At            time.Time
}

type TaskStart struct {
	Task *domain.Task
	At   time.Time
}

type TaskGettingResult struct {
	Task *domain.Task
	At   time.Time
}

type TaskEnd struct {
	Task   *domain.Task
	Reason domain.TaskEndReason
	At     time.Time
}

type ExecutorMetricsUpdate struct {
	ExecutorID domain.ExecutorID
	At         time.Time
}

type SpeculativeTaskSubmitted struct {
	Task *domain.Task
	At   time.Time
}

func (JobStart) listenerEvent()                 {}
func (JobEnd) listenerEvent()                   {}
func (StageSubmitted) listenerEvent()           {}
func (StageCompleted) listenerEvent()           {}
func (TaskStart) listenerEvent()                {}
func (TaskGettingResult) listenerEvent()        {}
func (TaskEnd) listenerEvent()                  {}
func (ExecutorMetricsUpdate) listenerEvent()    {}
func (SpeculativeTaskSubmitted) listenerEvent() {}

const subscriberBuffer = 256

// Bus fans Post calls out to every current subscriber's buffered channel. A
// slow subscriber drops events rather than backing up the poster, mirroring
// the scheduler's own "callers never block on handler execution" rule.
type Bus struct {
	log *logger.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// New builds an empty Bus.
func New(log *logger.Logger) *Bus {
	return &Bus{
		log:  log.With("component", "listenerbus.Bus"),
		subs: make(map[int]chan Event),
	}
}

// Subscribe registers a new listener and returns its receive channel and an
// id to later Unsubscribe with.
func (b *Bus) Subscribe() (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Post fans e out to every current subscriber without blocking.
func (b *Bus) Post(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.log.Warn("listener bus subscriber buffer full, dropping event", "subscriber_id", id)
		}
	}
}
