package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowstage/dagscheduler/internal/domain"
)

func TestResubmissionTimerDebouncesBurst(t *testing.T) {
	var fired int32
	timer := NewResubmissionTimer(func(e domain.SchedulerEvent) {
		if _, ok := e.(domain.ResubmitFailedStages); ok {
			atomic.AddInt32(&fired, 1)
		}
	}, 30*time.Millisecond)
	defer timer.Stop()

	for i := 0; i < 5; i++ {
		timer.Schedule()
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("expected exactly one debounced fire for a burst of Schedule calls, got %d", got)
	}
}

func TestResubmissionTimerStopPreventsFire(t *testing.T) {
	var fired int32
	timer := NewResubmissionTimer(func(e domain.SchedulerEvent) {
		atomic.AddInt32(&fired, 1)
	}, 20*time.Millisecond)

	timer.Schedule()
	timer.Stop()

	time.Sleep(40 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Fatalf("expected Stop to cancel the pending window, got %d fires", got)
	}
}

func TestResubmissionTimerRearmsAfterFiring(t *testing.T) {
	var fired int32
	timer := NewResubmissionTimer(func(e domain.SchedulerEvent) {
		atomic.AddInt32(&fired, 1)
	}, 15*time.Millisecond)
	defer timer.Stop()

	timer.Schedule()
	time.Sleep(30 * time.Millisecond)
	timer.Schedule()
	time.Sleep(30 * time.Millisecond)

	if got := atomic.LoadInt32(&fired); got != 2 {
		t.Fatalf("expected two separate windows to fire, got %d", got)
	}
}
