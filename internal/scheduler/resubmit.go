package scheduler

import (
	"sync"
	"time"

	"github.com/flowstage/dagscheduler/internal/domain"
)

// ResubmissionTimer debounces bursts of fetch failures into a single
// ResubmitFailedStages event: many FetchFailed completions arriving within
// one timeout window collapse into one resubmission pass instead of
// resubmitting a stage once per failure.
type ResubmissionTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	post    func(domain.SchedulerEvent)
}

// NewResubmissionTimer builds a timer that calls post with
// ResubmitFailedStages{} once timeout has elapsed since the first Schedule
// call after the previous fire (or since construction).
func NewResubmissionTimer(post func(domain.SchedulerEvent), timeout time.Duration) *ResubmissionTimer {
	return &ResubmissionTimer{post: post, timeout: timeout}
}

// Schedule arms the debounce window if it is not already running. A second
// call while a window is pending is a no-op: the burst is still collapsing
// into the timer already in flight.
func (t *ResubmissionTimer) Schedule() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		return
	}
	t.timer = time.AfterFunc(t.timeout, func() {
		t.mu.Lock()
		t.timer = nil
		t.mu.Unlock()
		t.post(domain.ResubmitFailedStages{})
	})
}

// Stop cancels any pending window, used on scheduler shutdown.
func (t *ResubmissionTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
