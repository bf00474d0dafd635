package listenerbus

import (
	"testing"

	"github.com/flowstage/dagscheduler/internal/domain"
)

func TestTracingListenerClosesJobSpanOnJobEnd(t *testing.T) {
	l := NewTracingListener("dagscheduler.test")

	l.handle(JobStart{JobID: 1})
	if _, ok := l.jobSpans[1]; !ok {
		t.Fatalf("expected JobStart to open a span for job 1")
	}

	l.handle(JobEnd{JobID: 1, Success: true})
	if _, ok := l.jobSpans[1]; ok {
		t.Fatalf("expected JobEnd to close and remove job 1's span")
	}
}

func TestTracingListenerClosesStageSpanOnStageCompleted(t *testing.T) {
	l := NewTracingListener("dagscheduler.test")
	key := stageAttemptKey{stage: domain.StageID(5), attempt: domain.AttemptID(0)}

	l.handle(StageSubmitted{StageID: 5, AttemptNumber: 0})
	if _, ok := l.stageSpans[key]; !ok {
		t.Fatalf("expected StageSubmitted to open a span")
	}

	l.handle(StageCompleted{StageID: 5, AttemptNumber: 0, FailureReason: "boom"})
	if _, ok := l.stageSpans[key]; ok {
		t.Fatalf("expected StageCompleted to close and remove the stage span")
	}
}

func TestTracingListenerJobEndWithoutStartIsANoop(t *testing.T) {
	l := NewTracingListener("dagscheduler.test")
	l.handle(JobEnd{JobID: 99, Success: false})
	if len(l.jobSpans) != 0 {
		t.Fatalf("expected no spans to be tracked for an unseen job")
	}
}

func TestTracingListenerRunDrainsChannel(t *testing.T) {
	l := NewTracingListener("dagscheduler.test")
	ch := make(chan Event, 2)
	ch <- JobStart{JobID: 1}
	ch <- JobEnd{JobID: 1, Success: true}
	close(ch)

	done := make(chan struct{})
	go func() {
		l.Run(ch)
		close(done)
	}()
	<-done

	if len(l.jobSpans) != 0 {
		t.Fatalf("expected Run to process both events and leave no open spans")
	}
}
