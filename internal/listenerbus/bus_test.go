package listenerbus

import (
	"testing"
	"time"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/platform/logger"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("failed to init logger: %v", err)
	}
	return New(log)
}

func TestBusFansOutToMultipleSubscribers(t *testing.T) {
	b := newTestBus(t)
	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Post(JobStart{JobID: 1, At: time.Now()})

	select {
	case e := <-ch1:
		if e.(JobStart).JobID != 1 {
			t.Fatalf("unexpected event on ch1: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event on ch1")
	}
	select {
	case e := <-ch2:
		if e.(JobStart).JobID != 1 {
			t.Fatalf("unexpected event on ch2: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event on ch2")
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := newTestBus(t)
	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	_, ok := <-ch
	if ok {
		t.Fatalf("expected channel to be closed after Unsubscribe")
	}
}

func TestBusPostDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := newTestBus(t)
	_, ch := b.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			b.Post(StageSubmitted{StageID: domain.StageID(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Post blocked on a full subscriber buffer")
	}
	_ = ch
}
